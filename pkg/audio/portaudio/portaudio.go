// Package portaudio provides an [audio.Device] that captures from the default
// system microphone through PortAudio (github.com/gordonklaus/portaudio).
//
// Capture is mono float32 using blocking reads of one frame hop at a time.
// PortAudio is initialised when a stream is opened and terminated when the
// stream's Run loop exits, so every open stream holds one reference on the
// library.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/tuner/pkg/audio"
)

// Device is an [audio.Device] for the default PortAudio input.
type Device struct{}

// New returns a Device for the default input.
func New() *Device {
	return &Device{}
}

// Open implements [audio.Device]. Failure to initialise PortAudio or to open
// the default input is reported as [audio.ErrDeviceUnavailable].
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]float32, cfg.Hop())
	pa, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return &stream{
		pa:     pa,
		buf:    buf,
		framer: audio.NewFramer(cfg),
	}, nil
}

var _ audio.Device = (*Device)(nil)

type stream struct {
	pa     *portaudio.Stream
	buf    []float32
	framer *audio.Framer

	mu      sync.Mutex
	stopped bool
}

func (s *stream) Run(onFrame func(audio.Frame)) (err error) {
	defer func() {
		s.markStopped()
		if cerr := s.pa.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("portaudio: close: %w", cerr)
		}
		_ = portaudio.Terminate()
	}()

	if err := s.pa.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	defer func() { _ = s.pa.Stop() }()

	var overflows int
	for !s.IsStopped() {
		if err := s.pa.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				overflows++
				if overflows == 1 {
					slog.Warn("portaudio: input overflowed, frames were dropped")
				}
				continue
			}
			if s.IsStopped() {
				return nil
			}
			return fmt.Errorf("portaudio: read: %w", err)
		}
		cont := s.framer.Write(s.buf, func(f audio.Frame) bool {
			onFrame(f)
			return !s.IsStopped()
		})
		if !cont {
			break
		}
	}
	if overflows > 0 {
		slog.Debug("portaudio: capture ended", "overflows", overflows, "frames", s.framer.Frames())
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
}
