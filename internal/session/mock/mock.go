// Package mock provides a test double for [session.Publisher].
//
// Publisher records every notification in order. Tests drive a session through
// the audio and pitch mocks and then assert on Events, Started, or
// Frequencies.
package mock

import (
	"sync"

	"github.com/MrWong99/tuner/internal/session"
)

// Event is a single recorded notification. Started is true for OnStarted
// notifications; otherwise Frequency holds the published value.
type Event struct {
	Started   bool
	Frequency float32
}

// Publisher is a mock implementation of session.Publisher.
type Publisher struct {
	mu sync.Mutex

	// Events records all notifications in call order.
	Events []Event

	// OnFrequency, if set, is called after each OnStableFrequency is recorded.
	OnFrequency func(hz float32)
}

// OnStarted implements session.Publisher.
func (p *Publisher) OnStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, Event{Started: true})
}

// OnStableFrequency implements session.Publisher.
func (p *Publisher) OnStableFrequency(hz float32) {
	p.mu.Lock()
	p.Events = append(p.Events, Event{Frequency: hz})
	cb := p.OnFrequency
	p.mu.Unlock()
	if cb != nil {
		cb(hz)
	}
}

// Started returns how many OnStarted notifications were received. Thread-safe.
func (p *Publisher) Started() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, e := range p.Events {
		if e.Started {
			n++
		}
	}
	return n
}

// Frequencies returns the published frequencies in order. Thread-safe.
func (p *Publisher) Frequencies() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []float32
	for _, e := range p.Events {
		if !e.Started {
			out = append(out, e.Frequency)
		}
	}
	return out
}

// Ensure Publisher implements session.Publisher at compile time.
var _ session.Publisher = (*Publisher)(nil)
