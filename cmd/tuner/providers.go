package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/tuner/internal/config"
	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/audio/portaudio"
	"github.com/MrWong99/tuner/pkg/audio/tone"
	"github.com/MrWong99/tuner/pkg/audio/wavfile"
	"github.com/MrWong99/tuner/pkg/pitch"
	"github.com/MrWong99/tuner/pkg/pitch/yin"
)

// registerBuiltinProviders wires all built-in capture devices and detectors
// into reg. Each factory reads its options from the config entry.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("portaudio", func(config.ProviderEntry) (audio.Device, error) {
		return portaudio.New(), nil
	})

	reg.RegisterCapture("wav", func(entry config.ProviderEntry) (audio.Device, error) {
		path, err := config.OptString(entry.Options, "path")
		if err != nil {
			return nil, err
		}
		realtime, err := config.OptBool(entry.Options, "realtime")
		if err != nil {
			return nil, err
		}
		loop, err := config.OptBool(entry.Options, "loop")
		if err != nil {
			return nil, err
		}
		return wavfile.New(wavfile.Options{Path: path, Realtime: realtime, Loop: loop})
	})

	reg.RegisterCapture("tone", func(entry config.ProviderEntry) (audio.Device, error) {
		var (
			opts tone.Options
			err  error
		)
		if opts.Frequency, err = config.OptFloat(entry.Options, "frequency"); err != nil {
			return nil, err
		}
		if opts.Amplitude, err = config.OptFloat(entry.Options, "amplitude"); err != nil {
			return nil, err
		}
		if opts.Realtime, err = config.OptBool(entry.Options, "realtime"); err != nil {
			return nil, err
		}
		if opts.Duration, err = config.OptDuration(entry.Options, "duration"); err != nil {
			return nil, err
		}
		return tone.New(opts)
	})

	// ── Detectors ─────────────────────────────────────────────────────────────

	reg.RegisterDetector("yin", func(cfg pitch.Config, _ config.ProviderEntry) (pitch.Detector, error) {
		d, err := yin.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("create yin detector: %w", err)
		}
		return d, nil
	})

	for _, kind := range []string{"capture", "detector"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}
