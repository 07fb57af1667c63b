package audio

import "time"

// Framer slices a continuous sample stream into overlapping analysis frames.
// Every frame is cfg.BufferSize samples wide and starts cfg.Hop() samples after
// the previous one, so consecutive frames share cfg.OverlapSize samples.
//
// A Framer is owned by a single capture loop; it is not safe for concurrent
// use.
type Framer struct {
	cfg   StreamConfig
	buf   []float32
	fill  int
	index int
}

// NewFramer creates a Framer for cfg. cfg must be valid (see
// [StreamConfig.Validate]).
func NewFramer(cfg StreamConfig) *Framer {
	return &Framer{
		cfg: cfg,
		buf: make([]float32, cfg.BufferSize),
	}
}

// Write appends samples and calls emit for every frame that becomes complete.
// emit returns false to stop framing; Write then discards the rest of samples
// and returns false. The frame passed to emit aliases the Framer's internal
// buffer and is only valid until emit returns.
func (f *Framer) Write(samples []float32, emit func(Frame) bool) bool {
	hop := f.cfg.Hop()
	for len(samples) > 0 {
		n := copy(f.buf[f.fill:], samples)
		f.fill += n
		samples = samples[n:]

		if f.fill < len(f.buf) {
			return true
		}

		frame := Frame{
			Samples:    f.buf,
			SampleRate: f.cfg.SampleRate,
			Timestamp:  f.timestamp(),
			Index:      f.index,
		}
		f.index++
		if !emit(frame) {
			return false
		}

		copy(f.buf, f.buf[hop:])
		f.fill = len(f.buf) - hop
	}
	return true
}

// Frames returns the number of frames emitted so far.
func (f *Framer) Frames() int {
	return f.index
}

func (f *Framer) timestamp() time.Duration {
	if f.cfg.SampleRate <= 0 {
		return 0
	}
	offset := int64(f.index) * int64(f.cfg.Hop())
	return time.Duration(offset) * time.Second / time.Duration(f.cfg.SampleRate)
}
