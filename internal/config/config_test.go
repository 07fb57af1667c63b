package config_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tuner/internal/config"
	"github.com/MrWong99/tuner/internal/estimate"
	"github.com/MrWong99/tuner/pkg/audio"
	audiomock "github.com/MrWong99/tuner/pkg/audio/mock"
	"github.com/MrWong99/tuner/pkg/pitch"
	pitchmock "github.com/MrWong99/tuner/pkg/pitch/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins:
    - tuner.example.com

capture:
  name: wav
  sample_rate: 48000
  buffer_size: 2048
  overlap_size: 1024
  options:
    path: /tmp/guitar.wav
    realtime: true

detector:
  name: yin
  threshold: 0.15
  min_frequency: 60
  max_frequency: 1200

estimator:
  min_similar_takes: 30
  freq_tolerance: 150
  empty_batch_policy: discard

tuning:
  reference_a4: 442

session:
  auto_start: true
  stop_timeout: 2s

publisher:
  queue_size: 8
  client_buffer: 4
  log_events: true
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "tuner.example.com" {
		t.Errorf("server.allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	want := audio.StreamConfig{SampleRate: 48000, BufferSize: 2048, OverlapSize: 1024}
	if got := cfg.Capture.Stream(); got != want {
		t.Errorf("capture stream: got %+v, want %+v", got, want)
	}
	if cfg.Detector.Threshold != 0.15 {
		t.Errorf("detector.threshold: got %.2f, want 0.15", cfg.Detector.Threshold)
	}
	if cfg.Detector.SilenceRMS != config.DefaultSilenceRMS {
		t.Errorf("detector.silence_rms: got %.3f, want default %.3f", cfg.Detector.SilenceRMS, config.DefaultSilenceRMS)
	}
	if cfg.Estimator.MinSimilarTakes != 30 {
		t.Errorf("estimator.min_similar_takes: got %d, want 30", cfg.Estimator.MinSimilarTakes)
	}
	if cfg.Estimator.EmptyBatchPolicy != estimate.PolicyDiscard {
		t.Errorf("estimator.empty_batch_policy: got %q, want %q", cfg.Estimator.EmptyBatchPolicy, estimate.PolicyDiscard)
	}
	if cfg.Tuning.ReferenceA4 != 442 {
		t.Errorf("tuning.reference_a4: got %.1f, want 442", cfg.Tuning.ReferenceA4)
	}
	if !cfg.Session.AutoStart || cfg.Session.StopTimeout != 2*time.Second {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.Publisher.QueueSize != 8 || cfg.Publisher.ClientBuffer != 4 || !cfg.Publisher.LogEvents {
		t.Errorf("publisher: got %+v", cfg.Publisher)
	}

	path, err := config.OptString(cfg.Capture.Options, "path")
	if err != nil || path != "/tmp/guitar.wav" {
		t.Errorf("capture.options.path: got %q, %v", path, err)
	}
	realtime, err := config.OptBool(cfg.Capture.Options, "realtime")
	if err != nil || !realtime {
		t.Errorf("capture.options.realtime: got %v, %v", realtime, err)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for empty config %q: %v", doc, err)
		}
		if cfg.Capture.Name != config.DefaultCapture || cfg.Detector.Name != config.DefaultDetector {
			t.Errorf("providers: got capture=%q detector=%q", cfg.Capture.Name, cfg.Detector.Name)
		}
		if got := cfg.Capture.Stream(); got != audio.DefaultStreamConfig() {
			t.Errorf("stream: got %+v, want defaults", got)
		}
		if cfg.Estimator.MinSimilarTakes != estimate.DefaultMinSimilarTakes {
			t.Errorf("min_similar_takes: got %d, want %d", cfg.Estimator.MinSimilarTakes, estimate.DefaultMinSimilarTakes)
		}
		if cfg.Estimator.FreqTolerance != 200 {
			t.Errorf("freq_tolerance: got %.1f, want 200", cfg.Estimator.FreqTolerance)
		}
		if cfg.Estimator.EmptyBatchPolicy != estimate.PolicyFirstPassMedian {
			t.Errorf("empty_batch_policy: got %q", cfg.Estimator.EmptyBatchPolicy)
		}
		if cfg.Tuning.ReferenceA4 != 440 {
			t.Errorf("reference_a4: got %.1f, want 440", cfg.Tuning.ReferenceA4)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("capture:\n  sample_rte: 44100\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDefault_CustomBufferKeepsZeroOverlap(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("capture:\n  buffer_size: 1024\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.OverlapSize != 0 {
		t.Errorf("overlap_size: got %d, want 0", cfg.Capture.OverlapSize)
	}
}

func TestConfig_DerivedConfigs(t *testing.T) {
	cfg := config.Default()
	pc := cfg.PitchConfig()
	want := pitch.Config{
		SampleRate:   44100,
		BufferSize:   4096,
		Threshold:    config.DefaultThreshold,
		MinFrequency: config.DefaultMinFrequency,
		MaxFrequency: config.DefaultMaxFrequency,
		SilenceRMS:   config.DefaultSilenceRMS,
	}
	if pc != want {
		t.Errorf("PitchConfig: got %+v, want %+v", pc, want)
	}
	ec := cfg.EstimateConfig()
	if ec.Tolerance != estimate.DefaultTolerance || ec.Policy != estimate.PolicyFirstPassMedian {
		t.Errorf("EstimateConfig: got %+v", ec)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"overlap", "capture:\n  buffer_size: 1024\n  overlap_size: 1024\n", "overlap_size"},
		{"wav without path", "capture:\n  name: wav\n", "capture.options.path"},
		{"wav path type", "capture:\n  name: wav\n  options:\n    path: 3\n", "expected string"},
		{"threshold", "detector:\n  threshold: 1.5\n", "detector.threshold"},
		{"frequency order", "detector:\n  min_frequency: 900\n  max_frequency: 800\n", "detector.min_frequency"},
		{"nyquist", "capture:\n  sample_rate: 3000\n", "Nyquist"},
		{"silence", "detector:\n  silence_rms: -0.1\n", "detector.silence_rms"},
		{"takes", "estimator:\n  min_similar_takes: -1\n", "estimator.min_similar_takes"},
		{"tolerance", "estimator:\n  freq_tolerance: -5\n", "estimator.freq_tolerance"},
		{"policy", "estimator:\n  empty_batch_policy: guess\n", "estimator.empty_batch_policy"},
		{"reference", "tuning:\n  reference_a4: -440\n", "tuning.reference_a4"},
		{"stop timeout", "session:\n  stop_timeout: -1s\n", "session.stop_timeout"},
		{"queue", "publisher:\n  queue_size: -2\n", "publisher.queue_size"},
		{"client buffer", "publisher:\n  client_buffer: -2\n", "publisher.client_buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

// ── Provider options ─────────────────────────────────────────────────────────

func TestOptionHelpers(t *testing.T) {
	opts := map[string]any{
		"name":     "x",
		"int":      3,
		"float":    2.5,
		"flag":     true,
		"duration": "250ms",
		"seconds":  2,
	}

	if v, err := config.OptFloat(opts, "int"); err != nil || v != 3 {
		t.Errorf("OptFloat(int) = %v, %v", v, err)
	}
	if v, err := config.OptFloat(opts, "float"); err != nil || v != 2.5 {
		t.Errorf("OptFloat(float) = %v, %v", v, err)
	}
	if v, err := config.OptFloat(opts, "missing"); err != nil || v != 0 {
		t.Errorf("OptFloat(missing) = %v, %v", v, err)
	}
	if _, err := config.OptFloat(opts, "name"); err == nil {
		t.Error("OptFloat(string) should fail")
	}
	if _, err := config.OptBool(opts, "name"); err == nil {
		t.Error("OptBool(string) should fail")
	}
	if v, err := config.OptDuration(opts, "duration"); err != nil || v != 250*time.Millisecond {
		t.Errorf("OptDuration(string) = %v, %v", v, err)
	}
	if v, err := config.OptDuration(opts, "seconds"); err != nil || v != 2*time.Second {
		t.Errorf("OptDuration(seconds) = %v, %v", v, err)
	}
	if _, err := config.OptDuration(opts, "flag"); err == nil {
		t.Error("OptDuration(bool) should fail")
	}
	if v, err := config.OptString(nil, "name"); err != nil || v != "" {
		t.Errorf("OptString(nil map) = %q, %v", v, err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownCapture(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateCapture(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownDetector(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateDetector(pitch.Config{}, config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredCapture(t *testing.T) {
	reg := config.NewRegistry()
	dev := &audiomock.Device{}
	var gotEntry config.ProviderEntry
	reg.RegisterCapture("mock", func(e config.ProviderEntry) (audio.Device, error) {
		gotEntry = e
		return dev, nil
	})

	entry := config.ProviderEntry{Name: "mock", Options: map[string]any{"k": "v"}}
	got, err := reg.CreateCapture(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dev {
		t.Error("expected the registered device")
	}
	if gotEntry.Options["k"] != "v" {
		t.Errorf("factory entry options: got %v", gotEntry.Options)
	}
}

func TestRegistry_RegisteredDetector(t *testing.T) {
	reg := config.NewRegistry()
	var gotCfg pitch.Config
	reg.RegisterDetector("mock", func(cfg pitch.Config, _ config.ProviderEntry) (pitch.Detector, error) {
		gotCfg = cfg
		return &pitchmock.Detector{}, nil
	})

	cfg := pitch.Config{SampleRate: 8000, BufferSize: 512}
	d, err := reg.CreateDetector(cfg, config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil detector")
	}
	if gotCfg != cfg {
		t.Errorf("factory config: got %+v, want %+v", gotCfg, cfg)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterCapture("broken", func(config.ProviderEntry) (audio.Device, error) {
		return nil, wantErr
	})
	_, err := reg.CreateCapture(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := config.NewRegistry()
	for _, name := range []string{"wav", "portaudio", "tone"} {
		reg.RegisterCapture(name, func(config.ProviderEntry) (audio.Device, error) { return nil, nil })
	}
	got := reg.Names("capture")
	want := []string{"portaudio", "tone", "wav"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names(capture) = %v, want %v", got, want)
	}
	if got := reg.Names("detector"); len(got) != 0 {
		t.Errorf("Names(detector) = %v, want empty", got)
	}
}

func TestLoad_ExampleMatchesDefaults(t *testing.T) {
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	// Empty collections in YAML decode as non-nil.
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = nil
	}
	if len(cfg.Capture.Options) == 0 {
		cfg.Capture.Options = nil
	}
	if want := config.Default(); !reflect.DeepEqual(cfg, want) {
		t.Errorf("configs/example.yaml drifted from defaults:\n got %+v\nwant %+v", cfg, want)
	}
}
