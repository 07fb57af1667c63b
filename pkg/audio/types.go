package audio

import "time"

// Frame represents one analysis window of audio flowing from a capture
// [Stream] to the pitch detector. Frames are the atomic unit of the capture
// pipeline: one frame produces exactly one pitch reading.
type Frame struct {
	// Samples holds mono float32 PCM in [-1, 1]. The slice is only valid for
	// the duration of the callback it is passed to; callers that retain it
	// must copy.
	Samples []float32

	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// Timestamp marks the start of the frame relative to stream start.
	Timestamp time.Duration

	// Index is the zero-based sequence number of the frame within its stream.
	Index int
}

// StreamConfig describes the frames a capture [Stream] should produce.
type StreamConfig struct {
	// SampleRate in Hz. Default: 44100.
	SampleRate int

	// BufferSize is the number of samples per frame. Default: 4096.
	BufferSize int

	// OverlapSize is the number of samples shared by consecutive frames.
	// Must be smaller than BufferSize. Default: 3072 (75% overlap).
	OverlapSize int
}

// DefaultStreamConfig returns the capture settings used when none are
// configured: 44.1 kHz, 4096-sample frames, 3072 samples of overlap.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:  44100,
		BufferSize:  4096,
		OverlapSize: 3072,
	}
}

// Hop returns the number of new samples between consecutive frames.
func (c StreamConfig) Hop() int {
	return c.BufferSize - c.OverlapSize
}

// FramePeriod returns the wall-clock time between consecutive frames.
func (c StreamConfig) FramePeriod() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Hop()) * time.Second / time.Duration(c.SampleRate)
}
