// Package session ties one depth source, one output sink and the
// transform engine together behind a small lifecycle: Idle until
// started, Live while the render loop ticks, Closed once ended. The
// session owns the working calibration profile and serializes every
// mutation against the renders that read it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relief-labs/topobox/internal/calib"
	"github.com/relief-labs/topobox/internal/projector"
	"github.com/relief-labs/topobox/internal/render"
	"github.com/relief-labs/topobox/internal/sensor"
)

// ErrClosed is returned when a closed session is asked to go live
// again. Closed is terminal; a new session must be assembled instead.
var ErrClosed = errors.New("session closed")

// DefaultTick is the render cadence used when Config.Tick is zero.
const DefaultTick = 100 * time.Millisecond

// State is the session lifecycle position. Sessions only ever move
// forward: Idle to Live to Closed.
type State int

const (
	StateIdle State = iota
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds session settings
type Config struct {
	Tick time.Duration // render cadence while live
}

// Session drives the interactive calibration loop. All methods are
// safe for concurrent use; the render loop runs on its own goroutine
// between Start and Close.
type Session struct {
	source sensor.Source
	sink   projector.Sink
	engine *render.Engine
	tick   time.Duration

	mu      sync.Mutex
	profile *calib.Profile
	state   State

	renderCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	release  sync.Once

	stats    *RenderStats
	degraded atomic.Bool
}

// New assembles a session around an opened source and sink. The
// profile is deep-copied so later edits to the caller's copy never
// reach the session; nil selects the factory defaults. The session
// starts in Idle and renders nothing until Start.
func New(source sensor.Source, sink projector.Sink, engine *render.Engine, profile *calib.Profile, config Config) (*Session, error) {
	if source == nil {
		return nil, fmt.Errorf("session requires a depth source")
	}
	if sink == nil {
		return nil, fmt.Errorf("session requires an output sink")
	}
	if engine == nil {
		engine = render.NewEngine(render.Config{})
	}
	if profile == nil {
		profile = calib.Defaults()
	} else {
		profile = profile.Clone()
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid starting profile: %w", err)
	}
	if _, ok := render.LookupColormap(profile.Colormap); !ok {
		return nil, fmt.Errorf("invalid starting profile: unknown colormap %q", profile.Colormap)
	}
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}

	return &Session{
		source:   source,
		sink:     sink,
		engine:   engine,
		tick:     config.Tick,
		profile:  profile,
		state:    StateIdle,
		renderCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stats:    NewRenderStats(),
	}, nil
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SourceID names the depth source this session polls.
func (s *Session) SourceID() string {
	return s.source.ID()
}

// Stats exposes the render loop counters for the status surface.
func (s *Session) Stats() *RenderStats {
	return s.stats
}

// CanvasSize reports the projector canvas dimensions the render
// engine targets.
func (s *Session) CanvasSize() (w, h int) {
	return s.engine.CanvasSize()
}

// Profile returns a copy of the working profile. Callers may edit the
// copy freely; only Set, LoadProfile and Reset change the working one.
func (s *Session) Profile() *calib.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

// Set applies one named field update. The value is decoded and
// validated against a copy of the profile first, so a rejected update
// returns an error and leaves the working profile exactly as it was.
// Accepted updates render immediately while Live. A closed session
// still accepts updates; they just never reach the projector.
func (s *Session) Set(field string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.profile.Clone()
	if err := next.Apply(field, value); err != nil {
		return err
	}
	if _, ok := render.LookupColormap(next.Colormap); !ok {
		return &calib.FieldError{Field: "cmap", Reason: fmt.Sprintf("unknown colormap %q", next.Colormap)}
	}

	s.profile = next
	s.stats.AddMutation()
	if s.state == StateLive {
		s.requestRender()
	}
	return nil
}

// SetProfile swaps in a complete replacement profile, typically one
// loaded from the profile store. The replacement is cloned and
// validated first; the working profile is retained on any failure.
func (s *Session) SetProfile(p *calib.Profile) error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	next := p.Clone()
	if err := next.Validate(); err != nil {
		return err
	}
	if _, ok := render.LookupColormap(next.Colormap); !ok {
		return &calib.FieldError{Field: "cmap", Reason: fmt.Sprintf("unknown colormap %q", next.Colormap)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = next
	s.stats.AddMutation()
	if s.state == StateLive {
		s.requestRender()
	}
	return nil
}

// Reset replaces the working profile with the factory defaults.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = calib.Defaults()
	s.stats.AddMutation()
	if s.state == StateLive {
		s.requestRender()
	}
}

// SaveProfile writes the current profile to path.
func (s *Session) SaveProfile(path string) error {
	s.mu.Lock()
	p := s.profile.Clone()
	s.mu.Unlock()

	if err := calib.Save(p, path); err != nil {
		return err
	}
	log.Printf("[Session] Saved calibration to %s", path)
	return nil
}

// LoadProfile replaces the working profile with a record read from
// path. On any failure, including a record naming a colormap this
// build does not carry, the working profile is retained unchanged.
func (s *Session) LoadProfile(path string) error {
	p, err := calib.Load(path)
	if err != nil {
		return err
	}
	if _, ok := render.LookupColormap(p.Colormap); !ok {
		return fmt.Errorf("%w: %s names unknown colormap %q", calib.ErrParse, path, p.Colormap)
	}

	s.mu.Lock()
	s.profile = p
	s.stats.AddMutation()
	if s.state == StateLive {
		s.requestRender()
	}
	s.mu.Unlock()

	log.Printf("[Session] Loaded calibration from %s", path)
	return nil
}

// Start moves an idle session to Live: the sink begins its refresh
// cycle and the render loop starts ticking. Start on a session that is
// already Live is a no-op; a closed session reports ErrClosed.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateLive:
		return nil
	}

	if err := s.sink.Start(); err != nil {
		return fmt.Errorf("failed to start output sink: %w", err)
	}

	s.state = StateLive
	s.wg.Add(1)
	go s.renderLoop()
	s.requestRender()

	log.Printf("[Session] Live: source %s, tick %v", s.source.ID(), s.tick)
	return nil
}

// Close ends the session. The render loop is drained first, then the
// source and sink handles are released, exactly once, as part of this
// same transition. Close on an already closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasLive := s.state == StateLive
	s.state = StateClosed
	s.mu.Unlock()

	close(s.stopCh)
	if wasLive {
		s.wg.Wait()
	}

	var err error
	s.release.Do(func() {
		err = s.source.Close()
		s.sink.Stop()
		log.Printf("[Session] Closed: released source %s and output sink", s.source.ID())
	})
	return err
}

// requestRender queues one extra render pass. The channel holds a
// single pending request, so bursts of mutations collapse into the
// next pass instead of piling up.
func (s *Session) requestRender() {
	select {
	case s.renderCh <- struct{}{}:
	default:
	}
}

func (s *Session) renderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.renderOnce()
		case <-s.renderCh:
			s.renderOnce()
		case <-statsTicker.C:
			s.stats.LogStats(s.State().String())
		}
	}
}

// renderOnce polls the source, renders against a snapshot of the
// profile and publishes the result. Mutations landing mid-render see
// the next pass, never a half-applied profile.
func (s *Session) renderOnce() {
	f := s.source.Poll()
	if f == nil {
		return
	}

	s.mu.Lock()
	p := s.profile.Clone()
	s.mu.Unlock()

	start := time.Now()
	cf, err := s.engine.Render(f, p)
	if err != nil {
		log.Printf("[Session] Render failed: %v", err)
		return
	}
	s.stats.AddRender(time.Since(start), f.ValidCount())

	if f.ValidCount() == 0 {
		if s.degraded.CompareAndSwap(false, true) {
			log.Printf("[Session] Depth stream degraded, projecting background until frames return")
		}
	} else if s.degraded.CompareAndSwap(true, false) {
		log.Printf("[Session] Depth stream recovered")
	}

	s.sink.Publish(cf)
}
