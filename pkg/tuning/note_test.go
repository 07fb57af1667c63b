package tuning_test

import (
	"math"
	"testing"

	"github.com/MrWong99/tuner/pkg/tuning"
)

func TestNearest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		hz     float64
		a4     float64
		want   string
		midi   int
		cents  float64
		target float64
	}{
		{"concert A", 440, 440, "A4", 69, 0, 440},
		{"low E string", 82.41, 440, "E2", 40, 0, 82.4069},
		{"middle C", 261.63, 0, "C4", 60, 0, 261.6256},
		{"sharp A", 445, 440, "A4", 69, 19.56, 440},
		{"flat B", 240, 440, "B3", 59, -49.36, 246.9417},
		{"baroque pitch", 415, 415, "A4", 69, 0, 415},
		{"sub-octave", 27.5, 440, "A0", 21, 0, 27.5},
		{"below MIDI zero", 4, 440, "C-2", -12, -37.63, 4.0879},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, ok := tuning.Nearest(tt.hz, tt.a4)
			if !ok {
				t.Fatal("Nearest returned !ok")
			}
			if n.String() != tt.want || n.MIDI != tt.midi {
				t.Errorf("Nearest(%v) = %s (midi %d), want %s (midi %d)", tt.hz, n, n.MIDI, tt.want, tt.midi)
			}
			if math.Abs(n.Cents-tt.cents) > 0.2 {
				t.Errorf("Cents = %.2f, want %.2f", n.Cents, tt.cents)
			}
			if math.Abs(n.Target-tt.target) > 0.01 {
				t.Errorf("Target = %.4f, want %.4f", n.Target, tt.target)
			}
		})
	}
}

func TestNearest_Invalid(t *testing.T) {
	t.Parallel()
	for _, hz := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, ok := tuning.Nearest(hz, 440); ok {
			t.Errorf("Nearest(%v) ok = true, want false", hz)
		}
	}
}
