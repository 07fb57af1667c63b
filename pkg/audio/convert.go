package audio

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

// Format describes the sample rate and channel count of raw captured audio.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts interleaved float32 chunks to mono at a target
// sample rate. Chunks of one stream must go through the same converter: the
// polyphase resampler carries its filter history and phase from chunk to
// chunk, so chunk boundaries neither drop samples nor restart interpolation.
// It logs a warning on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	TargetRate int

	rs     *resample.Resampler
	rsRate int
	in     []float64

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
	warnedRate     sync.Once
}

// Convert converts an interleaved chunk in format src to mono at TargetRate.
// If src is already mono at the target rate, samples is returned unchanged
// (zero allocation). Conversion order: down-mix first, then resample.
func (c *FormatConverter) Convert(samples []float32, src Format) []float32 {
	if src.Channels <= 0 || len(samples)%src.Channels != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: sample count not divisible by channel count, dropping chunk",
				"samples", len(samples),
				"channels", src.Channels,
			)
		})
		return nil
	}

	// Fast path: source matches target.
	if src.Channels == 1 && src.SampleRate == c.TargetRate {
		return samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(src.SampleRate, src.Channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	mono := samples
	if src.Channels > 1 {
		mono = Downmix(samples, src.Channels)
	}
	if src.SampleRate == c.TargetRate {
		return mono
	}

	rs, err := c.resampler(src.SampleRate)
	if err != nil {
		c.warnedRate.Do(func() {
			slog.Warn("audio format converter: cannot resample, dropping chunks",
				"from", src.SampleRate,
				"to", c.TargetRate,
				"err", err,
			)
		})
		return nil
	}

	c.in = slices.Grow(c.in[:0], len(mono))[:len(mono)]
	for i, v := range mono {
		c.in[i] = float64(v)
	}
	res := rs.Process(c.in)
	out := make([]float32, len(res))
	for i, v := range res {
		out[i] = float32(v)
	}
	return out
}

// resampler returns the stream's resampler for srcRate. A change of source
// rate starts a fresh filter.
func (c *FormatConverter) resampler(srcRate int) (*resample.Resampler, error) {
	if c.rs != nil && c.rsRate == srcRate {
		return c.rs, nil
	}
	rs, err := resample.NewForRates(float64(srcRate), float64(c.TargetRate))
	if err != nil {
		return nil, err
	}
	c.rs, c.rsRate = rs, srcRate
	return rs, nil
}

// IntToFloat32 scales integer samples of the given bit depth into float32
// samples in [-1, 1). Unsupported bit depths are treated as 16-bit.
func IntToFloat32(samples []int, bitDepth int) []float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / scale
	}
	return out
}

// Downmix averages each interleaved group of channels samples into one mono
// sample.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "44100Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
