// Package publish delivers session results to consumers.
//
// The session layer calls a [session.Publisher] synchronously on its capture
// goroutine. [Async] adapts that to any number of [Sink]s: it turns each
// notification into an [Event] enriched with the nearest note, queues it
// without blocking, and delivers it from its own goroutine. Sinks include a
// WebSocket broadcaster ([Hub]), a structured log sink ([LogSink]) and a Go
// channel ([ChanSink]).
package publish

import (
	"time"

	"github.com/MrWong99/tuner/internal/session"
	"github.com/MrWong99/tuner/pkg/tuning"
)

// Kind distinguishes event types.
type Kind string

const (
	// KindStarted marks the start of a recording; no estimate exists yet.
	KindStarted Kind = "started"

	// KindFrequency carries a stable frequency estimate.
	KindFrequency Kind = "frequency"

	// KindStopped marks the end of a recording. Its last estimate is no
	// longer current.
	KindStopped Kind = "stopped"
)

// Event is a published session result.
type Event struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id,omitempty"`

	// Frequency is nil for KindStarted and KindStopped, which consumers
	// render as "no value".
	Frequency *float32 `json:"frequency"`

	// Note is the nearest equal-tempered note, when Frequency is set.
	Note *tuning.Note `json:"note,omitempty"`

	Time time.Time `json:"time"`
}

// Sink consumes events. Publish is called from a single goroutine per
// [Async] and may block briefly; a slow sink delays later events.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(e Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Multi fans every event out to all sinks in order.
type Multi []Sink

// Publish implements [Sink].
func (m Multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// Callback adapts a single nullable-value callback to [session.Publisher]:
// OnStarted becomes f(nil) and each estimate becomes f(&hz). It runs on the
// capture goroutine and must return quickly.
type Callback func(hz *float32)

// OnStarted implements [session.Publisher].
func (f Callback) OnStarted() { f(nil) }

// OnStableFrequency implements [session.Publisher].
func (f Callback) OnStableFrequency(hz float32) { f(&hz) }

var (
	_ session.Publisher = Callback(nil)
	_ Sink              = SinkFunc(nil)
	_ Sink              = Multi(nil)
)
