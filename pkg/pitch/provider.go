// Package pitch defines the Detector interface for per-frame pitch estimation
// backends.
//
// A Detector wraps a frame-level fundamental-frequency estimator (e.g. YIN,
// MPM, or an FFT peak picker) and reports one [Sample] per audio frame. When
// the frame has no discernible pitch (silence, noise, unvoiced transients) the
// detector returns the [NoPitch] sentinel.
//
// Detection is synchronous: Detect is called from the capture goroutine once
// per frame and must return without blocking on I/O.
//
// A single Detector is used by one capture stream at a time. Implementations
// that keep scratch buffers between calls are not required to be safe for
// concurrent use.
package pitch

import "math"

// Sample is a single-precision pitch reading in Hertz, or [NoPitch].
type Sample float32

// NoPitch is the sentinel reported for frames without a discernible pitch.
const NoPitch Sample = -1

// Valid reports whether s is a usable frequency reading. Only finite, strictly
// positive values are valid; NoPitch and any NaN or infinite value are not.
func (s Sample) Valid() bool {
	f := float64(s)
	return s > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Config holds the parameters for a Detector. Zero values are replaced by the
// detector's own defaults.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Detect. Typical: 44100.
	SampleRate int

	// BufferSize is the number of samples per frame. Typical: 4096.
	BufferSize int

	// Threshold is the detector-specific confidence threshold. For YIN it is
	// the absolute threshold on the normalised difference function.
	// Typical: 0.20.
	Threshold float64

	// MinFrequency and MaxFrequency bound the reported pitch in Hz. Readings
	// outside the range are reported as NoPitch.
	MinFrequency float64
	MaxFrequency float64

	// SilenceRMS is the RMS level (full scale = 1.0) below which a frame is
	// treated as silence and reported as NoPitch. Zero disables the gate.
	SilenceRMS float64
}

// Detector estimates the fundamental frequency of a single audio frame.
type Detector interface {
	// Detect analyses frame (mono float32 samples in [-1, 1]) and returns the
	// detected pitch, or NoPitch.
	Detect(frame []float32) Sample
}
