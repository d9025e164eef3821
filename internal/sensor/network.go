package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relief-labs/topobox/internal/frame"
	"github.com/relief-labs/topobox/internal/monitoring"
)

// UDPSourceConfig configures the network depth listener.
type UDPSourceConfig struct {
	Address    string        // listen address, e.g. ":9601"
	RcvBuf     int           // socket receive buffer, default 1 MiB
	StaleAfter time.Duration // age after which Poll degrades to invalid, default 1s
	Width      int           // fallback geometry before any data, default 512
	Height     int           // default 424
}

// UDPSource receives row-chunked depth datagrams and keeps the most
// recent assembled frame for Poll. The read loop owns the socket; Poll
// only swaps a pointer, so it never blocks on the network.
type UDPSource struct {
	id         string
	conn       *net.UDPConn
	staleAfter time.Duration
	fallbackW  int
	fallbackH  int

	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
	pollSeq atomic.Uint64

	mu        sync.Mutex
	latest    *frame.DepthFrame
	updatedAt time.Time

	packets   atomic.Uint64
	badChunks atomic.Uint64
	frames    atomic.Uint64
}

// NewUDPSource claims "udp:<address>" and binds the socket. A bind
// failure reports ErrHardwareUnavailable so the caller can degrade to
// a synthetic source; a duplicate claim reports ErrDeviceBusy.
func NewUDPSource(config UDPSourceConfig) (*UDPSource, error) {
	if config.Address == "" {
		config.Address = ":9601"
	}
	if config.RcvBuf <= 0 {
		config.RcvBuf = 1 << 20
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = time.Second
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}

	id := "udp:" + config.Address
	if err := claimDevice(id); err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		releaseDevice(id)
		return nil, fmt.Errorf("%w: failed to resolve %s: %v", ErrHardwareUnavailable, config.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		releaseDevice(id)
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrHardwareUnavailable, config.Address, err)
	}
	if err := conn.SetReadBuffer(config.RcvBuf); err != nil {
		monitoring.Logf("[UDPSource] Warning: failed to set receive buffer to %d: %v", config.RcvBuf, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &UDPSource{
		id:         id,
		conn:       conn,
		staleAfter: config.StaleAfter,
		fallbackW:  config.Width,
		fallbackH:  config.Height,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	monitoring.Logf("[UDPSource] Listening on %s with receive buffer %d bytes", config.Address, config.RcvBuf)
	go s.readLoop(ctx)
	return s, nil
}

func (s *UDPSource) ID() string { return s.id }

// Poll returns the latest assembled frame, or a fully invalid frame
// while the stream is silent or stale.
func (s *UDPSource) Poll() *frame.DepthFrame {
	s.mu.Lock()
	latest := s.latest
	age := time.Since(s.updatedAt)
	s.mu.Unlock()

	if latest != nil && age <= s.staleAfter {
		return latest
	}
	w, h := s.fallbackW, s.fallbackH
	if latest != nil {
		w, h = latest.Width(), latest.Height()
	}
	return frame.NewInvalidFrame(s.id, s.pollSeq.Add(1), time.Now().UnixNano(), w, h)
}

func (s *UDPSource) readLoop(ctx context.Context) {
	defer close(s.done)

	asm := NewAssembler(s.id)
	buffer := make([]byte, 65535)
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[UDPSource] Read loop stopping")
			return
		case <-statsTicker.C:
			monitoring.Logf("[UDPSource] %d packets, %d bad, %d frames assembled",
				s.packets.Load(), s.badChunks.Load(), s.frames.Load())
		default:
			if err := s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				monitoring.Logf("[UDPSource] Failed to set read deadline: %v", err)
			}
			n, _, err := s.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				monitoring.Logf("[UDPSource] Read error: %v", err)
				continue
			}
			s.packets.Add(1)

			chunk, err := ParseChunk(buffer[:n])
			if err != nil {
				s.badChunks.Add(1)
				continue
			}
			for _, f := range asm.Add(chunk, time.Now().UnixNano()) {
				s.frames.Add(1)
				s.mu.Lock()
				s.latest = f
				s.updatedAt = time.Now()
				s.mu.Unlock()
			}
		}
	}
}

// Close stops the read loop, closes the socket and releases the
// device claim. Safe to call repeatedly.
func (s *UDPSource) Close() error {
	s.cancel()
	err := s.conn.Close()
	<-s.done
	s.release.Do(func() { releaseDevice(s.id) })
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
