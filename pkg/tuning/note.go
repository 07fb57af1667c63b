// Package tuning maps frequencies to the nearest note of the twelve-tone
// equal-tempered scale.
package tuning

import (
	"fmt"
	"math"
)

// DefaultA4 is the concert pitch reference in Hz.
const DefaultA4 = 440.0

var names = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is the equal-tempered note closest to a measured frequency.
type Note struct {
	// Name is the pitch class in sharp notation, e.g. "A" or "C#".
	Name string `json:"name"`

	// Octave in scientific pitch notation (A4 = 440 Hz).
	Octave int `json:"octave"`

	// MIDI is the MIDI note number (A4 = 69).
	MIDI int `json:"midi"`

	// Target is the exact frequency of the note in Hz.
	Target float64 `json:"target"`

	// Cents is the deviation of the measured frequency from Target, in
	// [-50, 50]. Positive means sharp.
	Cents float64 `json:"cents"`
}

// String returns the note in scientific pitch notation, e.g. "A4".
func (n Note) String() string {
	return fmt.Sprintf("%s%d", n.Name, n.Octave)
}

// Nearest returns the note closest to hz with A4 tuned to a4 Hz. A
// non-positive a4 selects [DefaultA4]. ok is false when hz is not a positive
// finite frequency.
func Nearest(hz, a4 float64) (note Note, ok bool) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return Note{}, false
	}
	if a4 <= 0 || math.IsNaN(a4) || math.IsInf(a4, 0) {
		a4 = DefaultA4
	}

	semis := 12 * math.Log2(hz/a4)
	midi := 69 + int(math.Round(semis))
	target := a4 * math.Pow(2, float64(midi-69)/12)

	pc := ((midi % 12) + 12) % 12
	return Note{
		Name:   names[pc],
		Octave: floorDiv(midi, 12) - 1,
		MIDI:   midi,
		Target: target,
		Cents:  1200 * math.Log2(hz/target),
	}, true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
