// Package estimate turns a stream of noisy per-frame pitch readings into
// stable frequency estimates.
//
// A [Buffer] accumulates valid readings until a threshold count is reached and
// is then drained in one step. The drained batch is handed to an [Estimator],
// which applies a two-pass median filter: readings further than a tolerance
// from the first-pass median are discarded, and the median of the survivors is
// the result.
package estimate

import (
	"sync"

	"github.com/MrWong99/tuner/pkg/pitch"
)

// DefaultMinSimilarTakes is the number of valid readings aggregated into one
// estimate when no threshold is configured.
const DefaultMinSimilarTakes = 50

// Buffer is an ordered collection of valid pitch readings awaiting
// aggregation. All methods are safe for concurrent use; [Buffer.Drain] is
// atomic with respect to [Buffer.Append].
type Buffer struct {
	mu        sync.Mutex
	samples   []float32
	threshold int
}

// NewBuffer returns an empty Buffer that reports ready once it holds
// threshold readings. A threshold <= 0 selects [DefaultMinSimilarTakes].
func NewBuffer(threshold int) *Buffer {
	if threshold <= 0 {
		threshold = DefaultMinSimilarTakes
	}
	return &Buffer{
		samples:   make([]float32, 0, threshold),
		threshold: threshold,
	}
}

// Threshold returns the number of readings that triggers a drain in
// [Buffer.AppendDrain].
func (b *Buffer) Threshold() int {
	return b.threshold
}

// Append adds s to the end of the buffer. Sentinel and non-finite readings are
// ignored; Append reports whether s was stored.
func (b *Buffer) Append(s pitch.Sample) bool {
	if !s.Valid() {
		return false
	}
	b.mu.Lock()
	b.samples = append(b.samples, float32(s))
	b.mu.Unlock()
	return true
}

// Size returns the number of readings currently held.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Drain returns all readings in insertion order and empties the buffer. The
// returned slice is owned by the caller.
func (b *Buffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

// AppendDrain appends s and, if the buffer then holds at least Threshold
// readings, drains it in the same critical section. It returns the drained
// batch and true when a drain happened. Invalid readings are ignored and never
// trigger a drain.
func (b *Buffer) AppendDrain(s pitch.Sample) ([]float32, bool) {
	if !s.Valid() {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, float32(s))
	if len(b.samples) < b.threshold {
		return nil, false
	}
	return b.drainLocked(), true
}

func (b *Buffer) drainLocked() []float32 {
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	b.samples = b.samples[:0]
	return out
}
