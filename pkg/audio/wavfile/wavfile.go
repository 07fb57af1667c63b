// Package wavfile provides an [audio.Device] that replays a WAV recording.
//
// The file is decoded with github.com/go-audio/wav, scaled to float32,
// down-mixed to mono and resampled to the configured stream rate before
// being sliced into frames.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/tuner/pkg/audio"
)

// chunkFrames is the number of sample frames decoded per read.
const chunkFrames = 1024

// Options configures WAV playback.
type Options struct {
	// Path is the WAV file to replay. Required.
	Path string

	// Realtime paces playback at the file's own sample rate.
	Realtime bool

	// Loop restarts playback from the beginning when the file ends.
	Loop bool
}

// Device is an [audio.Device] backed by a WAV file.
type Device struct {
	opts Options
}

// New returns a Device for opts. The file is not opened until [Device.Open].
func New(opts Options) (*Device, error) {
	if opts.Path == "" {
		return nil, errors.New("wavfile: path must not be empty")
	}
	return &Device{opts: opts}, nil
}

// Open implements [audio.Device]. It validates the WAV header and returns a
// stream positioned at the first sample. A missing or malformed file is
// reported as [audio.ErrDeviceUnavailable].
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wavfile: %w", err)
	}
	f, dec, err := openDecoder(d.opts.Path)
	if err != nil {
		return nil, err
	}
	return &stream{
		opts:   d.opts,
		cfg:    cfg,
		file:   f,
		dec:    dec,
		framer: audio.NewFramer(cfg),
		conv:   &audio.FormatConverter{TargetRate: cfg.SampleRate},
		stopCh: make(chan struct{}),
	}, nil
}

var _ audio.Device = (*Device)(nil)

func openDecoder(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("wavfile: open %q: %w: %w", path, audio.ErrDeviceUnavailable, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("wavfile: %q is not a valid WAV file: %w", path, audio.ErrDeviceUnavailable)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		_ = f.Close()
		return nil, nil, fmt.Errorf("wavfile: %q declares no channels or sample rate: %w", path, audio.ErrDeviceUnavailable)
	}
	return f, dec, nil
}

type stream struct {
	opts   Options
	cfg    audio.StreamConfig
	file   *os.File
	dec    *wav.Decoder
	framer *audio.Framer
	conv   *audio.FormatConverter

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (s *stream) Run(onFrame func(audio.Frame)) error {
	defer func() {
		s.markStopped()
		_ = s.file.Close()
	}()

	for !s.IsStopped() {
		more, err := s.playOnce(onFrame)
		if err != nil {
			return err
		}
		if !more || !s.opts.Loop {
			return nil
		}
		if err := s.rewind(); err != nil {
			return err
		}
	}
	return nil
}

// playOnce decodes the current file to its end. It reports false when framing
// was stopped before the end of the file.
func (s *stream) playOnce(onFrame func(audio.Frame)) (bool, error) {
	channels := int(s.dec.NumChans)
	src := audio.Format{SampleRate: int(s.dec.SampleRate), Channels: channels}
	bitDepth := int(s.dec.BitDepth)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: src.SampleRate},
		Data:           make([]int, chunkFrames*channels),
		SourceBitDepth: bitDepth,
	}
	chunkPeriod := time.Duration(chunkFrames) * time.Second / time.Duration(src.SampleRate)

	var ticker *time.Ticker
	if s.opts.Realtime {
		ticker = time.NewTicker(chunkPeriod)
		defer ticker.Stop()
	}

	for {
		if s.IsStopped() {
			return false, nil
		}
		n, err := s.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("wavfile: decode %q: %w", s.opts.Path, err)
		}
		if n == 0 {
			return true, nil
		}
		n -= n % channels

		samples := s.conv.Convert(audio.IntToFloat32(buf.Data[:n], bitDepth), src)
		cont := s.framer.Write(samples, func(f audio.Frame) bool {
			onFrame(f)
			return !s.IsStopped()
		})
		if !cont {
			return false, nil
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stopCh:
				return false, nil
			}
		}
	}
}

func (s *stream) rewind() error {
	_ = s.file.Close()
	f, dec, err := openDecoder(s.opts.Path)
	if err != nil {
		return err
	}
	s.file, s.dec = f, dec
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
