// Package mock provides test doubles for the pitch package interfaces.
//
// Use Detector to script the readings a capture session will see and to
// inspect how many frames were analysed.
//
// Example:
//
//	det := &mock.Detector{
//	    Results: []pitch.Sample{440, pitch.NoPitch, 441},
//	}
//	s := det.Detect(frame) // 440
package mock

import (
	"sync"

	"github.com/MrWong99/tuner/pkg/pitch"
)

// Detector is a mock implementation of pitch.Detector.
//
// Each call to Detect returns the next element of Results. Once Results is
// exhausted, Default is returned.
type Detector struct {
	mu sync.Mutex

	// Results is the scripted sequence of readings returned by Detect.
	Results []pitch.Sample

	// Default is returned when Results is exhausted. The zero value is 0,
	// which is not a valid reading; set it to pitch.NoPitch or a frequency.
	Default pitch.Sample

	// --- Call records ---

	// DetectCallCount is the number of times Detect was called.
	DetectCallCount int

	// FrameLens records the length of every frame passed to Detect.
	FrameLens []int
}

// Detect records the call and returns the next scripted reading.
func (d *Detector) Detect(frame []float32) pitch.Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCallCount++
	d.FrameLens = append(d.FrameLens, len(frame))
	if len(d.Results) == 0 {
		return d.Default
	}
	s := d.Results[0]
	d.Results = d.Results[1:]
	return s
}

// Calls returns the number of Detect calls so far. Thread-safe.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DetectCallCount
}

// Push appends readings to the script. Thread-safe.
func (d *Detector) Push(samples ...pitch.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Results = append(d.Results, samples...)
}

// Ensure Detector implements pitch.Detector at compile time.
var _ pitch.Detector = (*Detector)(nil)
