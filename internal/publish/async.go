package publish

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tuner/internal/observe"
	"github.com/MrWong99/tuner/internal/session"
	"github.com/MrWong99/tuner/pkg/tuning"
)

// DefaultQueueSize is the number of events buffered by an [Async] publisher.
const DefaultQueueSize = 64

// AsyncOption configures an [Async] publisher.
type AsyncOption func(*Async)

// WithQueueSize sets the queue capacity. Values <= 0 are ignored.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithReferenceA4 sets the concert pitch used for note naming.
func WithReferenceA4(hz float64) AsyncOption {
	return func(a *Async) { a.SetReferenceA4(hz) }
}

// WithMetrics sets the metrics used to count dropped events.
func WithMetrics(m *observe.Metrics) AsyncOption {
	return func(a *Async) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.log = l }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) AsyncOption {
	return func(a *Async) { a.now = now }
}

// Async is a non-blocking [session.Publisher]. Notifications are converted to
// events and queued; a dedicated goroutine delivers them to the sink in order.
// When the queue is full the event is dropped and counted.
//
// All methods are safe for concurrent use.
type Async struct {
	sink      Sink
	queueSize int
	a4        atomic.Uint64
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsync starts an Async publisher delivering to sink. Call [Async.Close]
// to flush and stop it.
func NewAsync(sink Sink, opts ...AsyncOption) *Async {
	a := &Async{
		sink:      sink,
		queueSize: DefaultQueueSize,
		log:       slog.Default(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	a.a4.Store(math.Float64bits(tuning.DefaultA4))
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.queue = make(chan Event, a.queueSize)
	go a.loop()
	return a
}

// SetReferenceA4 changes the concert pitch used for subsequent events.
// Non-positive values select [tuning.DefaultA4].
func (a *Async) SetReferenceA4(hz float64) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		hz = tuning.DefaultA4
	}
	a.a4.Store(math.Float64bits(hz))
}

// ReferenceA4 returns the concert pitch used for note naming.
func (a *Async) ReferenceA4() float64 {
	return math.Float64frombits(a.a4.Load())
}

// Dropped returns the number of events dropped because the queue was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// For returns a [session.Publisher] that tags its events with sessionID and
// shares this publisher's queue.
func (a *Async) For(sessionID string) session.Publisher {
	return &boundPublisher{async: a, sessionID: sessionID}
}

// OnStarted implements [session.Publisher] for events without a session ID.
func (a *Async) OnStarted() { a.started("") }

// OnStableFrequency implements [session.Publisher] for events without a
// session ID.
func (a *Async) OnStableFrequency(hz float32) { a.frequency("", hz) }

// Ended queues a [KindStopped] event for sessionID. It is ordered after every
// event the session published before its capture loop exited.
func (a *Async) Ended(sessionID string) {
	a.enqueue(Event{Kind: KindStopped, SessionID: sessionID, Time: a.now()})
}

// Close stops accepting events, delivers everything already queued, and waits
// for the delivery goroutine to exit. Close is idempotent.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) started(sessionID string) {
	a.enqueue(Event{Kind: KindStarted, SessionID: sessionID, Time: a.now()})
}

func (a *Async) frequency(sessionID string, hz float32) {
	e := Event{Kind: KindFrequency, SessionID: sessionID, Frequency: &hz, Time: a.now()}
	if n, ok := tuning.Nearest(float64(hz), a.ReferenceA4()); ok {
		e.Note = &n
	}
	a.enqueue(e)
}

func (a *Async) enqueue(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		a.metrics.RecordPublishDropped(context.Background(), "async")
		a.log.Warn("publish: queue full, dropping event",
			"kind", e.Kind,
			"session_id", e.SessionID,
			"dropped_total", n,
		)
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.queue {
		a.sink.Publish(e)
	}
}

type boundPublisher struct {
	async     *Async
	sessionID string
}

func (p *boundPublisher) OnStarted()                   { p.async.started(p.sessionID) }
func (p *boundPublisher) OnStableFrequency(hz float32) { p.async.frequency(p.sessionID, hz) }

var (
	_ session.Publisher = (*Async)(nil)
	_ session.Publisher = (*boundPublisher)(nil)
)
