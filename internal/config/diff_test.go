package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/tuner/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if !d.IsEmpty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged = true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.SessionChanged {
		t.Error("expected SessionChanged = false")
	}
}

func TestDiff_ReferenceA4Changed(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Tuning.ReferenceA4 = 432

	d := config.Diff(old, new)
	if !d.ReferenceA4Changed || d.NewReferenceA4 != 432 {
		t.Errorf("got %+v", d)
	}
}

func TestDiff_CaptureOptionsChanged(t *testing.T) {
	old := config.Default()
	old.Capture.Options = map[string]any{"frequency": 440}
	new := config.Default()
	new.Capture.Options = map[string]any{"frequency": 330}

	d := config.Diff(old, new)
	if !d.CaptureChanged || !d.SessionChanged {
		t.Errorf("expected capture change, got %+v", d)
	}
}

func TestDiff_EstimatorChanged(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Estimator.MinSimilarTakes = 20

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Error("expected SessionChanged = true")
	}
	if d.CaptureChanged {
		t.Error("expected CaptureChanged = false")
	}
}

func TestDiff_DetectorChanged(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Detector.Threshold = 0.1

	if d := config.Diff(old, new); !d.SessionChanged {
		t.Error("expected SessionChanged = true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9000"
	new.Server.AllowedOrigins = []string{"*"}
	new.Publisher.QueueSize = 1

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.allowed_origins", "publisher"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.IsEmpty() {
		t.Error("expected non-empty diff")
	}
}
