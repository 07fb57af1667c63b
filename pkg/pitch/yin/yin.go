// Package yin implements the YIN fundamental frequency estimator as a
// [pitch.Detector].
//
// The estimator follows de Cheveigné & Kawahara (2002): a difference function
// over the first half of the frame, the cumulative mean normalised difference,
// an absolute threshold search with local-minimum refinement, and parabolic
// interpolation of the chosen lag. Inner products run through algo-vecmath
// block kernels.
package yin

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"github.com/MrWong99/tuner/pkg/pitch"
)

const (
	defaultSampleRate   = 44100
	defaultBufferSize   = 4096
	defaultThreshold    = 0.20
	defaultMinFrequency = 40.0
	defaultMaxFrequency = 2000.0
)

// ErrInvalidConfig is returned by [New] when the configuration cannot produce
// a usable lag range.
var ErrInvalidConfig = errors.New("yin: invalid config")

// Detector is a YIN pitch detector. It reuses scratch buffers between calls
// and is therefore not safe for concurrent use.
type Detector struct {
	cfg pitch.Config

	window int // integration window W (half the frame)
	minTau int
	maxTau int

	x    []float64 // frame converted to float64
	sq   []float64 // x[i]^2
	cum  []float64 // prefix sums of sq, len BufferSize+1
	prod []float64 // scratch for x[j]*x[j+tau]
	diff []float64 // difference function d(tau), then d'(tau)
}

// New creates a Detector. Zero-valued fields in cfg are replaced with
// defaults (44.1 kHz, 4096 samples, threshold 0.20, 40–2000 Hz).
func New(cfg pitch.Config) (*Detector, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.MinFrequency == 0 {
		cfg.MinFrequency = defaultMinFrequency
	}
	if cfg.MaxFrequency == 0 {
		cfg.MaxFrequency = defaultMaxFrequency
	}

	switch {
	case cfg.SampleRate < 0 || cfg.BufferSize < 8:
		return nil, fmt.Errorf("%w: sample_rate=%d buffer_size=%d", ErrInvalidConfig, cfg.SampleRate, cfg.BufferSize)
	case cfg.Threshold <= 0 || cfg.Threshold >= 1:
		return nil, fmt.Errorf("%w: threshold %.3f must be in (0, 1)", ErrInvalidConfig, cfg.Threshold)
	case cfg.MinFrequency <= 0 || cfg.MinFrequency >= cfg.MaxFrequency:
		return nil, fmt.Errorf("%w: frequency range [%.1f, %.1f]", ErrInvalidConfig, cfg.MinFrequency, cfg.MaxFrequency)
	case cfg.SilenceRMS < 0:
		return nil, fmt.Errorf("%w: silence_rms %.4f is negative", ErrInvalidConfig, cfg.SilenceRMS)
	}

	half := cfg.BufferSize / 2
	maxTau := int(math.Ceil(float64(cfg.SampleRate) / cfg.MinFrequency))
	if maxTau > half-1 {
		maxTau = half - 1
	}
	minTau := int(math.Floor(float64(cfg.SampleRate) / cfg.MaxFrequency))
	if minTau < 2 {
		minTau = 2
	}
	if minTau >= maxTau {
		return nil, fmt.Errorf("%w: lag range [%d, %d] is empty for %d-sample frames", ErrInvalidConfig, minTau, maxTau, cfg.BufferSize)
	}

	return &Detector{
		cfg:    cfg,
		window: half,
		minTau: minTau,
		maxTau: maxTau,
		x:      make([]float64, cfg.BufferSize),
		sq:     make([]float64, cfg.BufferSize),
		cum:    make([]float64, cfg.BufferSize+1),
		prod:   make([]float64, half),
		diff:   make([]float64, maxTau+2),
	}, nil
}

// Config returns the effective configuration after defaults were applied.
func (d *Detector) Config() pitch.Config {
	return d.cfg
}

// Detect implements [pitch.Detector]. Frames shorter than the configured
// buffer size are reported as NoPitch; longer frames are truncated.
func (d *Detector) Detect(frame []float32) pitch.Sample {
	n := d.cfg.BufferSize
	if len(frame) < n {
		return pitch.NoPitch
	}
	for i := range n {
		d.x[i] = float64(frame[i])
	}

	vecmath.MulBlock(d.sq, d.x, d.x)
	d.cum[0] = 0
	for i, v := range d.sq {
		d.cum[i+1] = d.cum[i] + v
	}

	if d.cfg.SilenceRMS > 0 {
		rms := math.Sqrt(d.cum[n] / float64(n))
		if rms < d.cfg.SilenceRMS {
			return pitch.NoPitch
		}
	}

	tau, ok := d.bestLag()
	if !ok {
		return pitch.NoPitch
	}

	f := float64(d.cfg.SampleRate) / d.interpolate(tau)
	if f < d.cfg.MinFrequency || f > d.cfg.MaxFrequency || math.IsNaN(f) || math.IsInf(f, 0) {
		return pitch.NoPitch
	}
	return pitch.Sample(f)
}

// bestLag fills d.diff with the cumulative mean normalised difference and
// returns the first lag under the threshold, walked down to its local minimum.
func (d *Detector) bestLag() (int, bool) {
	w := d.window
	e0 := d.cum[w]
	d.diff[0] = 1

	running := 0.0
	for tau := 1; tau <= d.maxTau; tau++ {
		etau := d.cum[tau+w] - d.cum[tau]
		vecmath.MulBlock(d.prod, d.x[:w], d.x[tau:tau+w])
		var r float64
		for _, v := range d.prod {
			r += v
		}
		dt := e0 + etau - 2*r
		if dt < 0 {
			dt = 0
		}
		running += dt
		if running == 0 {
			d.diff[tau] = 1
		} else {
			d.diff[tau] = dt * float64(tau) / running
		}
	}

	for tau := d.minTau; tau <= d.maxTau; tau++ {
		if d.diff[tau] >= d.cfg.Threshold {
			continue
		}
		for tau+1 <= d.maxTau && d.diff[tau+1] < d.diff[tau] {
			tau++
		}
		return tau, true
	}
	return 0, false
}

// interpolate refines tau with a parabola through its neighbours.
func (d *Detector) interpolate(tau int) float64 {
	if tau <= 0 || tau >= d.maxTau {
		return float64(tau)
	}
	s0, s1, s2 := d.diff[tau-1], d.diff[tau], d.diff[tau+1]
	denom := 2 * (2*s1 - s2 - s0)
	if denom == 0 {
		return float64(tau)
	}
	shift := (s2 - s0) / denom
	if math.Abs(shift) > 1 {
		return float64(tau)
	}
	return float64(tau) + shift
}

// Ensure Detector implements pitch.Detector at compile time.
var _ pitch.Detector = (*Detector)(nil)
