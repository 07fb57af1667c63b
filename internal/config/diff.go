package config

import (
	"fmt"
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ReferenceA4Changed is applied to the publisher immediately.
	ReferenceA4Changed bool
	NewReferenceA4     float64

	// SessionChanged is true if capture, detector, or estimator settings
	// differ. The new values take effect for the next session.
	SessionChanged bool
	CaptureChanged bool

	// RestartRequired lists settings that changed but are only read at startup.
	RestartRequired []string
}

// IsEmpty reports whether d contains no changes.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.ReferenceA4Changed && !d.SessionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Tuning
	if old.Tuning.ReferenceA4 != new.Tuning.ReferenceA4 {
		d.ReferenceA4Changed = true
		d.NewReferenceA4 = new.Tuning.ReferenceA4
	}

	// Session parameters
	if !captureEqual(old.Capture, new.Capture) {
		d.CaptureChanged = true
		d.SessionChanged = true
	}
	if !detectorEqual(old.Detector, new.Detector) || old.Estimator != new.Estimator {
		d.SessionChanged = true
	}

	// Startup-only settings
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if old.Publisher != new.Publisher {
		d.RestartRequired = append(d.RestartRequired, "publisher")
	}

	return d
}

func captureEqual(a, b CaptureConfig) bool {
	return a.Name == b.Name && a.Stream() == b.Stream() && optionsEqual(a.Options, b.Options)
}

func detectorEqual(a, b DetectorConfig) bool {
	return a.Name == b.Name &&
		a.Threshold == b.Threshold &&
		a.MinFrequency == b.MinFrequency &&
		a.MaxFrequency == b.MaxFrequency &&
		a.SilenceRMS == b.SilenceRMS &&
		optionsEqual(a.Options, b.Options)
}

// optionsEqual compares option maps by the formatted representation of
// their values, which also covers nested maps.
func optionsEqual(a, b map[string]any) bool {
	return maps.EqualFunc(a, b, func(x, y any) bool {
		return fmt.Sprint(x) == fmt.Sprint(y)
	})
}
