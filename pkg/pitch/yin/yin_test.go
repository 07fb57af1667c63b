package yin_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/tuner/pkg/pitch"
	"github.com/MrWong99/tuner/pkg/pitch/yin"
)

// sine returns n samples of a sine wave at freq Hz.
func sine(freq float64, sampleRate, n int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestDetect_PureTones(t *testing.T) {
	t.Parallel()

	det, err := yin.New(pitch.Config{SampleRate: 44100, BufferSize: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		freq float64
	}{
		{"low E", 82.41},
		{"A2", 110},
		{"D3", 146.83},
		{"G3", 196},
		{"B3", 246.94},
		{"A4", 440},
		{"high E", 329.63},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := det.Detect(sine(tc.freq, 44100, 4096, 0.5))
			if !got.Valid() {
				t.Fatalf("Detect(%.2f Hz) = %v, want a valid reading", tc.freq, got)
			}
			if math.Abs(float64(got)-tc.freq) > 1 {
				t.Errorf("Detect(%.2f Hz) = %.3f, want within 1 Hz", tc.freq, got)
			}
		})
	}
}

func TestDetect_SilenceGate(t *testing.T) {
	t.Parallel()

	det, err := yin.New(pitch.Config{SampleRate: 44100, BufferSize: 4096, SilenceRMS: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := det.Detect(make([]float32, 4096)); got != pitch.NoPitch {
		t.Errorf("Detect(silence) = %v, want NoPitch", got)
	}
	// A quiet tone below the gate is also silence.
	if got := det.Detect(sine(440, 44100, 4096, 0.005)); got != pitch.NoPitch {
		t.Errorf("Detect(quiet tone) = %v, want NoPitch", got)
	}
	// A loud tone passes the gate.
	if got := det.Detect(sine(440, 44100, 4096, 0.5)); !got.Valid() {
		t.Errorf("Detect(loud tone) = %v, want valid", got)
	}
}

func TestDetect_ShortFrame(t *testing.T) {
	t.Parallel()

	det, err := yin.New(pitch.Config{SampleRate: 44100, BufferSize: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := det.Detect(sine(440, 44100, 1024, 0.5)); got != pitch.NoPitch {
		t.Errorf("Detect(short frame) = %v, want NoPitch", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	det, err := yin.New(pitch.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := det.Config()
	if cfg.SampleRate != 44100 || cfg.BufferSize != 4096 {
		t.Errorf("defaults = %d Hz / %d samples, want 44100 / 4096", cfg.SampleRate, cfg.BufferSize)
	}
	if cfg.Threshold != 0.20 {
		t.Errorf("Threshold = %v, want 0.20", cfg.Threshold)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  pitch.Config
	}{
		{"inverted range", pitch.Config{MinFrequency: 500, MaxFrequency: 100}},
		{"threshold too high", pitch.Config{Threshold: 1.5}},
		{"tiny buffer", pitch.Config{BufferSize: 4}},
		{"negative silence gate", pitch.Config{SilenceRMS: -1}},
		{"empty lag range", pitch.Config{SampleRate: 8000, BufferSize: 16, MinFrequency: 5000, MaxFrequency: 7000}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := yin.New(tc.cfg)
			if !errors.Is(err, yin.ErrInvalidConfig) {
				t.Errorf("New(%+v) error = %v, want ErrInvalidConfig", tc.cfg, err)
			}
		})
	}
}
