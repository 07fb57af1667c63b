// Package tone provides a synthetic [audio.Device] that generates a pure sine
// wave. It needs no hardware and is used for demos and integration tests.
package tone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/tuner/pkg/audio"
)

// Options configures a tone generator.
type Options struct {
	// Frequency of the generated sine in Hz. Defaults to 440.
	Frequency float64

	// Amplitude of the sine in (0, 1]. Defaults to 0.5.
	Amplitude float64

	// Realtime paces generation at the configured sample rate. When false,
	// frames are produced as fast as the consumer accepts them.
	Realtime bool

	// Duration bounds the generated signal. Zero means endless.
	Duration time.Duration
}

// Device is an [audio.Device] producing a sine wave.
type Device struct {
	opts Options
}

// New returns a tone Device. Zero-valued options are replaced with defaults.
func New(opts Options) (*Device, error) {
	if opts.Frequency == 0 {
		opts.Frequency = 440
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 0.5
	}
	if opts.Frequency < 0 || math.IsNaN(opts.Frequency) || math.IsInf(opts.Frequency, 0) {
		return nil, fmt.Errorf("tone: frequency %v must be positive and finite", opts.Frequency)
	}
	if opts.Amplitude < 0 || opts.Amplitude > 1 {
		return nil, fmt.Errorf("tone: amplitude %v must be in (0, 1]", opts.Amplitude)
	}
	if opts.Duration < 0 {
		return nil, errors.New("tone: duration must not be negative")
	}
	return &Device{opts: opts}, nil
}

// Options returns the effective options after defaults were applied.
func (d *Device) Options() Options {
	return d.opts
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tone: %w", err)
	}
	var limit int64
	if d.opts.Duration > 0 {
		limit = int64(d.opts.Duration) * int64(cfg.SampleRate) / int64(time.Second)
	}
	return &stream{
		opts:   d.opts,
		cfg:    cfg,
		limit:  limit,
		framer: audio.NewFramer(cfg),
		stopCh: make(chan struct{}),
	}, nil
}

var _ audio.Device = (*Device)(nil)

type stream struct {
	opts   Options
	cfg    audio.StreamConfig
	limit  int64
	framer *audio.Framer

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (s *stream) Run(onFrame func(audio.Frame)) error {
	defer s.markStopped()

	hop := s.cfg.Hop()
	chunk := make([]float32, hop)
	period := s.cfg.FramePeriod()
	step := 2 * math.Pi * s.opts.Frequency / float64(s.cfg.SampleRate)

	var ticker *time.Ticker
	if s.opts.Realtime {
		ticker = time.NewTicker(period)
		defer ticker.Stop()
	}

	var n int64
	for !s.IsStopped() {
		size := len(chunk)
		if s.limit > 0 {
			if rem := s.limit - n; rem <= 0 {
				return nil
			} else if rem < int64(size) {
				size = int(rem)
			}
		}
		for i := range size {
			chunk[i] = float32(s.opts.Amplitude * math.Sin(step*float64(n+int64(i))))
		}
		n += int64(size)

		cont := s.framer.Write(chunk[:size], func(f audio.Frame) bool {
			onFrame(f)
			return !s.IsStopped()
		})
		if !cont {
			return nil
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stopCh:
				return nil
			}
		}
	}
	return nil
}

func (s *stream) Stop() error {
	s.markStopped()
	return nil
}

func (s *stream) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *stream) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}
