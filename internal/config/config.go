// Package config provides the configuration schema, loader, and provider registry
// for the tuner server.
package config

import (
	"fmt"
	"time"

	"github.com/MrWong99/tuner/internal/estimate"
	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/pitch"
)

// LogLevel controls log verbosity for the tuner server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the tuner.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Detector  DetectorConfig  `yaml:"detector"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Tuning    TuningConfig    `yaml:"tuning"`
	Session   SessionConfig   `yaml:"session"`
	Publisher PublisherConfig `yaml:"publisher"`
}

// ServerConfig holds network and logging settings for the tuner server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns allowed to open cross-origin
	// WebSocket connections (e.g., "tuner.example.com", "*.local:3000").
	// Same-origin connections are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "portaudio", "yin").
	Name string `yaml:"name"`

	// Options holds provider-specific configuration values. Values may be
	// strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig selects the capture device and the frame layout.
type CaptureConfig struct {
	// Name selects the capture device: "portaudio", "wav", or "tone".
	Name string `yaml:"name"`

	// SampleRate in Hz. Default: 44100.
	SampleRate int `yaml:"sample_rate"`

	// BufferSize is the number of samples per analysis frame. Default: 4096.
	BufferSize int `yaml:"buffer_size"`

	// OverlapSize is the number of samples shared by consecutive frames.
	// Default: 3072.
	OverlapSize int `yaml:"overlap_size"`

	// Options are device-specific, e.g. {path, realtime, loop} for "wav" and
	// {frequency, amplitude, realtime} for "tone".
	Options map[string]any `yaml:"options"`
}

// Entry returns the registry lookup entry for the capture device.
func (c CaptureConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: c.Name, Options: c.Options}
}

// Stream returns the frame layout requested from the capture device.
func (c CaptureConfig) Stream() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate:  c.SampleRate,
		BufferSize:  c.BufferSize,
		OverlapSize: c.OverlapSize,
	}
}

// DetectorConfig selects and tunes the per-frame pitch detector.
type DetectorConfig struct {
	// Name selects the detector implementation. Default: "yin".
	Name string `yaml:"name"`

	// Threshold is the detector confidence threshold. Default: 0.20.
	Threshold float64 `yaml:"threshold"`

	// MinFrequency and MaxFrequency bound reported readings in Hz.
	// Defaults: 40 and 2000.
	MinFrequency float64 `yaml:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency"`

	// SilenceRMS is the level below which a frame is reported as having no
	// pitch. Default: 0.01.
	SilenceRMS float64 `yaml:"silence_rms"`

	// Options are detector-specific.
	Options map[string]any `yaml:"options"`
}

// Entry returns the registry lookup entry for the detector.
func (d DetectorConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: d.Name, Options: d.Options}
}

// EstimatorConfig tunes the robust aggregation of readings.
type EstimatorConfig struct {
	// MinSimilarTakes is the number of valid readings per published estimate.
	// Default: 50.
	MinSimilarTakes int `yaml:"min_similar_takes"`

	// FreqTolerance is the filter radius around the first-pass median in Hz.
	// Default: 200.
	FreqTolerance float64 `yaml:"freq_tolerance"`

	// EmptyBatchPolicy handles batches whose readings are all rejected:
	// "first_pass_median" (default) or "discard".
	EmptyBatchPolicy estimate.EmptyBatchPolicy `yaml:"empty_batch_policy"`
}

// TuningConfig controls note naming.
type TuningConfig struct {
	// ReferenceA4 is the concert pitch in Hz. Default: 440.
	ReferenceA4 float64 `yaml:"reference_a4"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	// AutoStart starts a recording session when the server boots.
	AutoStart bool `yaml:"auto_start"`

	// StopTimeout bounds how long stopping a session waits for the capture
	// loop to exit. Default: 5s.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// PublisherConfig tunes result delivery.
type PublisherConfig struct {
	// QueueSize is the number of events buffered between the capture
	// goroutine and the sinks. Default: 64.
	QueueSize int `yaml:"queue_size"`

	// ClientBuffer is the number of events buffered per WebSocket client
	// before it is disconnected as too slow. Default: 16.
	ClientBuffer int `yaml:"client_buffer"`

	// LogEvents also writes every event to the log at info level.
	LogEvents bool `yaml:"log_events"`
}

// PitchConfig returns the detector parameters for frames produced by the
// capture configuration.
func (c *Config) PitchConfig() pitch.Config {
	return pitch.Config{
		SampleRate:   c.Capture.SampleRate,
		BufferSize:   c.Capture.BufferSize,
		Threshold:    c.Detector.Threshold,
		MinFrequency: c.Detector.MinFrequency,
		MaxFrequency: c.Detector.MaxFrequency,
		SilenceRMS:   c.Detector.SilenceRMS,
	}
}

// EstimateConfig returns the estimator parameters.
func (c *Config) EstimateConfig() estimate.Config {
	return estimate.Config{
		Tolerance: float32(c.Estimator.FreqTolerance),
		Policy:    c.Estimator.EmptyBatchPolicy,
	}
}

// ── Provider options ──────────────────────────────────────────────────────────

// OptString returns the string option key, or "" if it is absent.
// Returns an error if the value has another type.
func OptString(opts map[string]any, key string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q: expected string, got %T", key, v)
	}
	return s, nil
}

// OptFloat returns the numeric option key, or 0 if it is absent. YAML
// integers and floats are both accepted.
func OptFloat(opts map[string]any, key string) (float64, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("option %q: expected number, got %T", key, v)
	}
}

// OptBool returns the boolean option key, or false if it is absent.
func OptBool(opts map[string]any, key string) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q: expected bool, got %T", key, v)
	}
	return b, nil
}

// OptDuration returns the duration option key, or 0 if it is absent. Strings
// are parsed with [time.ParseDuration]; numbers are seconds.
func OptDuration(opts map[string]any, key string) (time.Duration, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return d, nil
	}
	secs, err := OptFloat(opts, key)
	if err != nil {
		return 0, fmt.Errorf("option %q: expected duration string or seconds, got %T", key, v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
