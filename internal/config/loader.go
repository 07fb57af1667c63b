package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tuner/internal/estimate"
	"github.com/MrWong99/tuner/internal/publish"
	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/tuning"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":  {"portaudio", "wav", "tone"},
	"detector": {"yin"},
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr   = ":8080"
	DefaultCapture      = "portaudio"
	DefaultDetector     = "yin"
	DefaultThreshold    = 0.20
	DefaultMinFrequency = 40.0
	DefaultMaxFrequency = 2000.0
	DefaultSilenceRMS   = 0.01
	DefaultStopTimeout  = 5 * time.Second
	DefaultClientBuffer = 16
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults replaces zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	stream := audio.DefaultStreamConfig()
	if cfg.Capture.Name == "" {
		cfg.Capture.Name = DefaultCapture
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = stream.SampleRate
	}
	if cfg.Capture.BufferSize == 0 {
		cfg.Capture.BufferSize = stream.BufferSize
		// The default overlap only fits the default frame width.
		if cfg.Capture.OverlapSize == 0 {
			cfg.Capture.OverlapSize = stream.OverlapSize
		}
	}

	if cfg.Detector.Name == "" {
		cfg.Detector.Name = DefaultDetector
	}
	if cfg.Detector.Threshold == 0 {
		cfg.Detector.Threshold = DefaultThreshold
	}
	if cfg.Detector.MinFrequency == 0 {
		cfg.Detector.MinFrequency = DefaultMinFrequency
	}
	if cfg.Detector.MaxFrequency == 0 {
		cfg.Detector.MaxFrequency = DefaultMaxFrequency
	}
	if cfg.Detector.SilenceRMS == 0 {
		cfg.Detector.SilenceRMS = DefaultSilenceRMS
	}

	if cfg.Estimator.MinSimilarTakes == 0 {
		cfg.Estimator.MinSimilarTakes = estimate.DefaultMinSimilarTakes
	}
	if cfg.Estimator.FreqTolerance == 0 {
		cfg.Estimator.FreqTolerance = float64(estimate.DefaultTolerance)
	}
	if cfg.Estimator.EmptyBatchPolicy == "" {
		cfg.Estimator.EmptyBatchPolicy = estimate.PolicyFirstPassMedian
	}

	if cfg.Tuning.ReferenceA4 == 0 {
		cfg.Tuning.ReferenceA4 = tuning.DefaultA4
	}
	if cfg.Session.StopTimeout == 0 {
		cfg.Session.StopTimeout = DefaultStopTimeout
	}
	if cfg.Publisher.QueueSize == 0 {
		cfg.Publisher.QueueSize = publish.DefaultQueueSize
	}
	if cfg.Publisher.ClientBuffer == 0 {
		cfg.Publisher.ClientBuffer = DefaultClientBuffer
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("capture", cfg.Capture.Name)
	validateProviderName("detector", cfg.Detector.Name)

	// Capture
	if err := cfg.Capture.Stream().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if cfg.Capture.Name == "wav" {
		if path, err := OptString(cfg.Capture.Options, "path"); err != nil {
			errs = append(errs, fmt.Errorf("capture.options: %w", err))
		} else if path == "" {
			errs = append(errs, errors.New("capture.options.path is required when capture.name is wav"))
		}
	}

	// Detector
	d := cfg.Detector
	if d.Threshold <= 0 || d.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("detector.threshold %.3f is out of range (0, 1)", d.Threshold))
	}
	if d.MinFrequency <= 0 || d.MinFrequency >= d.MaxFrequency {
		errs = append(errs, fmt.Errorf("detector.min_frequency %.1f must be positive and below max_frequency %.1f", d.MinFrequency, d.MaxFrequency))
	}
	if nyquist := float64(cfg.Capture.SampleRate) / 2; cfg.Capture.SampleRate > 0 && d.MaxFrequency > nyquist {
		errs = append(errs, fmt.Errorf("detector.max_frequency %.1f exceeds the Nyquist frequency %.1f", d.MaxFrequency, nyquist))
	}
	if d.SilenceRMS < 0 {
		errs = append(errs, fmt.Errorf("detector.silence_rms %.4f must not be negative", d.SilenceRMS))
	}

	// Estimator
	if cfg.Estimator.MinSimilarTakes < 1 {
		errs = append(errs, fmt.Errorf("estimator.min_similar_takes %d must be at least 1", cfg.Estimator.MinSimilarTakes))
	}
	if cfg.Estimator.FreqTolerance <= 0 {
		errs = append(errs, fmt.Errorf("estimator.freq_tolerance %.1f must be positive", cfg.Estimator.FreqTolerance))
	}
	if cfg.Estimator.EmptyBatchPolicy != "" && !cfg.Estimator.EmptyBatchPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("estimator.empty_batch_policy %q is invalid; valid values: first_pass_median, discard", cfg.Estimator.EmptyBatchPolicy))
	}

	// Tuning
	if cfg.Tuning.ReferenceA4 <= 0 {
		errs = append(errs, fmt.Errorf("tuning.reference_a4 %.2f must be positive", cfg.Tuning.ReferenceA4))
	} else if cfg.Tuning.ReferenceA4 < 400 || cfg.Tuning.ReferenceA4 > 480 {
		slog.Warn("tuning.reference_a4 is far from concert pitch", "reference_a4", cfg.Tuning.ReferenceA4)
	}

	// Session and publisher
	if cfg.Session.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.stop_timeout %s must not be negative", cfg.Session.StopTimeout))
	}
	if cfg.Publisher.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("publisher.queue_size %d must be at least 1", cfg.Publisher.QueueSize))
	}
	if cfg.Publisher.ClientBuffer < 1 {
		errs = append(errs, fmt.Errorf("publisher.client_buffer %d must be at least 1", cfg.Publisher.ClientBuffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
