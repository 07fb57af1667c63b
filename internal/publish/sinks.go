package publish

import (
	"log/slog"
	"sync"
)

// LogSink writes every event to a structured logger at info level.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements [Sink].
func (s LogSink) Publish(e Event) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{"kind", e.Kind}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	switch {
	case e.Kind == KindStopped:
		l.Info("tuner: stopped", attrs...)
		return
	case e.Frequency == nil:
		l.Info("tuner: listening", attrs...)
		return
	}
	attrs = append(attrs, "frequency", *e.Frequency)
	if e.Note != nil {
		attrs = append(attrs, "note", e.Note.String(), "cents", e.Note.Cents)
	}
	l.Info("tuner: stable frequency", attrs...)
}

// ChanSink delivers events to a Go channel. Publish blocks until the event is
// received or the sink is closed; events published after Close are discarded.
type ChanSink struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanSink returns a ChanSink whose channel buffers size events.
func NewChanSink(size int) *ChanSink {
	if size < 0 {
		size = 0
	}
	return &ChanSink{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// C returns the receive channel. It is never closed.
func (s *ChanSink) C() <-chan Event {
	return s.ch
}

// Publish implements [Sink].
func (s *ChanSink) Publish(e Event) {
	select {
	case s.ch <- e:
	case <-s.done:
	}
}

// Close unblocks pending and future Publish calls.
func (s *ChanSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

var (
	_ Sink = LogSink{}
	_ Sink = (*ChanSink)(nil)
)
