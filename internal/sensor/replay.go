package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/relief-labs/topobox/internal/frame"
	"github.com/relief-labs/topobox/internal/monitoring"
)

// ReplayConfig configures playback of a recorded capture.
type ReplayConfig struct {
	Path  string  // pcap file with row-chunk datagrams
	Port  int     // only replay datagrams to this UDP port, 0 for any
	Loop  bool    // restart from the beginning at end of file
	Speed float64 // playback rate, default 1.0
}

// ReplaySource plays a pcap capture of depth datagrams back through the
// same chunk assembler the live listener uses, paced by the capture
// timestamps. After the last packet it keeps returning the final frame
// unless Loop is set.
type ReplaySource struct {
	id    string
	path  string
	port  int
	loop  bool
	speed float64

	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
	pollSeq atomic.Uint64

	mu     sync.Mutex
	latest *frame.DepthFrame

	packets   atomic.Uint64
	badChunks atomic.Uint64
	frames    atomic.Uint64
}

// NewReplay claims "replay:<path>" and starts playback. An unreadable
// or malformed capture reports ErrHardwareUnavailable.
func NewReplay(config ReplayConfig) (*ReplaySource, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: no capture path", ErrHardwareUnavailable)
	}
	if config.Speed <= 0 {
		config.Speed = 1.0
	}

	id := "replay:" + config.Path
	if err := claimDevice(id); err != nil {
		return nil, err
	}

	// Open eagerly so a bad path fails at construction, not mid-session.
	f, reader, err := openCapture(config.Path)
	if err != nil {
		releaseDevice(id)
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ReplaySource{
		id:     id,
		path:   config.Path,
		port:   config.Port,
		loop:   config.Loop,
		speed:  config.Speed,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	monitoring.Logf("[Replay] Playing %s (port filter %d, loop %v, speed %.2fx)",
		config.Path, config.Port, config.Loop, config.Speed)
	go s.playLoop(ctx, f, reader)
	return s, nil
}

func openCapture(path string) (*os.File, *pcapgo.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture %s: %v", path, err)
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read capture %s: %v", path, err)
	}
	return f, reader, nil
}

func (s *ReplaySource) ID() string { return s.id }

// Poll returns the most recently replayed frame. Before the first
// frame assembles it returns a fully invalid frame at the default
// sensor geometry.
func (s *ReplaySource) Poll() *frame.DepthFrame {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest != nil {
		return latest
	}
	return frame.NewInvalidFrame(s.id, s.pollSeq.Add(1), time.Now().UnixNano(), DefaultWidth, DefaultHeight)
}

func (s *ReplaySource) playLoop(ctx context.Context, f *os.File, reader *pcapgo.Reader) {
	defer close(s.done)

	for {
		finished := s.playOnce(ctx, reader)
		f.Close()
		if !finished || !s.loop {
			return
		}

		var err error
		f, reader, err = openCapture(s.path)
		if err != nil {
			monitoring.Logf("[Replay] Failed to reopen capture: %v", err)
			return
		}
		monitoring.Logf("[Replay] Looping %s", s.path)
	}
}

// playOnce streams one pass of the capture. It reports true when the
// pass ran to the end of the file and false when cancelled.
func (s *ReplaySource) playOnce(ctx context.Context, reader *pcapgo.Reader) bool {
	asm := NewAssembler(s.id)
	var lastCapture time.Time

	for {
		if ctx.Err() != nil {
			monitoring.Logf("[Replay] Playback stopping (%d packets, %d frames)",
				s.packets.Load(), s.frames.Load())
			return false
		}

		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				monitoring.Logf("[Replay] Read error: %v", err)
			} else {
				monitoring.Logf("[Replay] Playback complete: %d packets, %d bad, %d frames",
					s.packets.Load(), s.badChunks.Load(), s.frames.Load())
			}
			return true
		}

		// Pace by capture timestamps. Gaps over a second are compressed
		// so a sparse recording still plays through.
		if !lastCapture.IsZero() && ci.Timestamp.After(lastCapture) {
			wait := time.Duration(float64(ci.Timestamp.Sub(lastCapture)) / s.speed)
			if wait > time.Second {
				wait = time.Second
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(wait):
			}
		}
		lastCapture = ci.Timestamp

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if s.port != 0 && int(udp.DstPort) != s.port {
			continue
		}

		s.packets.Add(1)
		chunk, err := ParseChunk(udp.Payload)
		if err != nil {
			s.badChunks.Add(1)
			continue
		}
		for _, df := range asm.Add(chunk, time.Now().UnixNano()) {
			s.frames.Add(1)
			s.mu.Lock()
			s.latest = df
			s.mu.Unlock()
		}
	}
}

// Close stops playback and releases the capture claim. Safe to call
// repeatedly.
func (s *ReplaySource) Close() error {
	s.cancel()
	<-s.done
	s.release.Do(func() { releaseDevice(s.id) })
	return nil
}
