package projector

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relief-labs/topobox/internal/frame"
)

// PublisherConfig holds configuration for the frame hub.
type PublisherConfig struct {
	// QueueSize is the hub queue between the render loop and the
	// broadcast goroutine (default 100).
	QueueSize int

	// SubscriberQueue is the per-subscriber buffer; a consumer that
	// falls further behind loses frames (default 10).
	SubscriberQueue int

	// RefreshInterval is the initial downstream pacing (default 100ms).
	RefreshInterval time.Duration
}

// Publisher fans rendered frames out to every attached consumer. It
// is the process's one Sink in normal operation: the session publishes
// into it and the HTTP streaming handlers subscribe to it.
type Publisher struct {
	config PublisherConfig

	frameChan   chan *frame.ColorFrame
	subscribers map[string]*subscriber
	subMu       sync.RWMutex

	latest    atomic.Pointer[frame.ColorFrame]
	refreshNs atomic.Int64

	frameCount     atomic.Uint64
	droppedFrames  atomic.Uint64
	subCount       atomic.Int32
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	id      string
	frameCh chan *frame.ColorFrame
	doneCh  chan struct{}
}

// NewPublisher creates a stopped hub with the given configuration.
func NewPublisher(config PublisherConfig) *Publisher {
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.SubscriberQueue <= 0 {
		config.SubscriberQueue = 10
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 100 * time.Millisecond
	}
	p := &Publisher{
		config:      config,
		frameChan:   make(chan *frame.ColorFrame, config.QueueSize),
		subscribers: make(map[string]*subscriber),
		stopCh:      make(chan struct{}),
	}
	p.refreshNs.Store(int64(config.RefreshInterval))
	return p
}

// Start brings up the broadcast goroutine.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()
	log.Printf("[Projector] Frame hub started (queue %d, refresh %v)",
		p.config.QueueSize, p.RefreshInterval())
	return nil
}

// Stop shuts the hub down and detaches every subscriber. Safe to call
// more than once.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.subMu.Lock()
	for id, sub := range p.subscribers {
		close(sub.doneCh)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
	p.subCount.Store(0)
	log.Printf("[Projector] Frame hub stopped (%d frames, %d dropped)",
		p.frameCount.Load(), p.droppedFrames.Load())
}

// Publish hands one frame to the hub. It never blocks: when the hub
// queue is full the frame is dropped and counted.
func (p *Publisher) Publish(f *frame.ColorFrame) {
	if f == nil || !p.running.Load() {
		return
	}
	p.latest.Store(f)

	queueDepth := len(p.frameChan)
	if queueDepth > p.config.QueueSize/2 {
		log.Printf("[Projector] WARNING: Frame queue depth high: %d/%d", queueDepth, p.config.QueueSize)
	}

	select {
	case p.frameChan <- f:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count, queueDepth)
	default:
		dropped := p.droppedFrames.Add(1)
		log.Printf("[Projector] DROPPED frame %d (total dropped: %d), queue full", f.FrameID, dropped)
	}
}

// SetRefreshInterval adjusts the pacing consumers read through
// RefreshInterval. Non-positive intervals are ignored.
func (p *Publisher) SetRefreshInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.refreshNs.Store(int64(d))
}

// RefreshInterval returns the current downstream pacing.
func (p *Publisher) RefreshInterval() time.Duration {
	return time.Duration(p.refreshNs.Load())
}

// Latest returns the most recently published frame, or nil before the
// first publish. Late subscribers use it to paint something
// immediately instead of waiting a refresh cycle.
func (p *Publisher) Latest() *frame.ColorFrame {
	return p.latest.Load()
}

// Subscription is one attached consumer's view of the hub.
type Subscription struct {
	id   string
	sub  *subscriber
	p    *Publisher
	once sync.Once
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Frames is the subscriber's frame feed.
func (s *Subscription) Frames() <-chan *frame.ColorFrame { return s.sub.frameCh }

// Done is closed when the hub detaches this subscriber, including at
// hub shutdown.
func (s *Subscription) Done() <-chan struct{} { return s.sub.doneCh }

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.p.removeSubscriber(s.id) })
}

// Subscribe attaches a consumer to the hub.
func (p *Publisher) Subscribe() *Subscription {
	sub := &subscriber{
		id:      uuid.NewString(),
		frameCh: make(chan *frame.ColorFrame, p.config.SubscriberQueue),
		doneCh:  make(chan struct{}),
	}

	p.subMu.Lock()
	p.subscribers[sub.id] = sub
	p.subMu.Unlock()

	count := p.subCount.Add(1)
	log.Printf("[Projector] Subscriber attached: %s (total: %d)", sub.id, count)
	return &Subscription{id: sub.id, sub: sub, p: p}
}

func (p *Publisher) removeSubscriber(id string) {
	p.subMu.Lock()
	sub, ok := p.subscribers[id]
	if ok {
		close(sub.doneCh)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
	if ok {
		remaining := p.subCount.Add(-1)
		log.Printf("[Projector] Subscriber detached: %s (remaining: %d)", id, remaining)
	}
}

// broadcastLoop distributes frames to all subscribers.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frameChan:
			p.subMu.RLock()
			for _, sub := range p.subscribers {
				select {
				case sub.frameCh <- f:
				default:
					// Subscriber is slow, drop the frame for it and
					// count the drop so the stats show the full picture.
					p.droppedFrames.Add(1)
				}
			}
			p.subMu.RUnlock()
		}
	}
}

// logPeriodicStats logs throughput every 5 seconds.
func (p *Publisher) logPeriodicStats(frameCount uint64, queueDepth int) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}

	elapsed := now.Sub(p.lastStatsTime)
	if elapsed >= 5*time.Second {
		framesInInterval := frameCount - p.lastFrameCount
		fps := float64(framesInInterval) / elapsed.Seconds()
		log.Printf("[Projector] Stats: fps=%.1f frames=%d dropped=%d subscribers=%d queue=%d/%d",
			fps, framesInInterval, p.droppedFrames.Load(), p.subCount.Load(), queueDepth, p.config.QueueSize)
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
	}
}

// Stats returns current hub statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		Subscribers:   p.subCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains hub statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	Subscribers   int32
	Running       bool
}
