package estimate

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// DefaultTolerance is the maximum distance in Hz between a reading and the
// first-pass median for the reading to survive filtering.
const DefaultTolerance float32 = 200

var (
	// ErrEmptyBatch is returned by [Estimator.Estimate] for a batch with no
	// readings.
	ErrEmptyBatch = errors.New("estimate: empty batch")

	// ErrEmptyFilteredBatch is returned by [Estimator.Estimate] under
	// [PolicyDiscard] when every reading was rejected by the tolerance filter.
	ErrEmptyFilteredBatch = errors.New("estimate: all readings rejected by tolerance filter")
)

// EmptyBatchPolicy decides what happens when the tolerance filter rejects
// every reading of a batch. This can only happen for even-sized batches whose
// two middle readings are more than twice the tolerance apart.
type EmptyBatchPolicy string

const (
	// PolicyFirstPassMedian publishes the unfiltered median, flagged as a
	// fallback.
	PolicyFirstPassMedian EmptyBatchPolicy = "first_pass_median"

	// PolicyDiscard publishes nothing for the batch.
	PolicyDiscard EmptyBatchPolicy = "discard"
)

// IsValid reports whether p is a recognised policy.
func (p EmptyBatchPolicy) IsValid() bool {
	return p == PolicyFirstPassMedian || p == PolicyDiscard
}

// Config holds the parameters of an [Estimator].
type Config struct {
	// Tolerance is the inclusive filter radius around the first-pass median,
	// in Hz. Default: 200.
	Tolerance float32

	// Policy handles batches that the filter empties. Default:
	// PolicyFirstPassMedian.
	Policy EmptyBatchPolicy
}

// DefaultConfig returns a 200 Hz tolerance with the first-pass-median
// fallback.
func DefaultConfig() Config {
	return Config{Tolerance: DefaultTolerance, Policy: PolicyFirstPassMedian}
}

// Result describes one estimate.
type Result struct {
	// Frequency is the value to publish, in Hz.
	Frequency float32

	// FirstPass is the median of the unfiltered batch.
	FirstPass float32

	// Kept and Rejected count the readings on each side of the tolerance
	// filter.
	Kept     int
	Rejected int

	// Fallback is true when Frequency is the first-pass median because the
	// filter rejected every reading.
	Fallback bool
}

// Estimator computes robust frequency estimates. It is stateless and safe for
// concurrent use.
type Estimator struct {
	cfg Config
}

// New returns an Estimator for cfg. Zero-valued fields take their defaults.
func New(cfg Config) (*Estimator, error) {
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyFirstPassMedian
	}
	tol := float64(cfg.Tolerance)
	if tol < 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		return nil, fmt.Errorf("estimate: tolerance %v must be positive and finite", cfg.Tolerance)
	}
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("estimate: unknown empty batch policy %q", cfg.Policy)
	}
	return &Estimator{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// Estimate runs the two-pass median filter over batch. batch is not modified.
//
// When the filter rejects every reading, the outcome depends on the policy:
// [PolicyFirstPassMedian] returns the first-pass median with Fallback set,
// [PolicyDiscard] returns a Result with the diagnostics filled in together with
// [ErrEmptyFilteredBatch].
func (e *Estimator) Estimate(batch []float32) (Result, error) {
	if len(batch) == 0 {
		return Result{}, ErrEmptyBatch
	}
	sorted := slices.Clone(batch)
	slices.Sort(sorted)

	first := medianSorted(sorted)
	// Filtering a sorted slice keeps it sorted.
	kept := Filter(sorted, first, e.cfg.Tolerance)
	res := Result{
		FirstPass: first,
		Kept:      len(kept),
		Rejected:  len(batch) - len(kept),
	}

	if len(kept) == 0 {
		if e.cfg.Policy == PolicyDiscard {
			return res, ErrEmptyFilteredBatch
		}
		res.Frequency = first
		res.Fallback = true
		return res, nil
	}
	res.Frequency = medianSorted(kept)
	return res, nil
}

// Median returns the median of values: the middle element for odd lengths and
// the mean of the two middle elements for even lengths. values is not
// modified. Median of an empty slice is NaN.
func Median(values []float32) float32 {
	if len(values) == 0 {
		return float32(math.NaN())
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return medianSorted(sorted)
}

// Filter returns a new slice with the elements of values within tolerance of
// center (inclusive), in their original order.
func Filter(values []float32, center, tolerance float32) []float32 {
	out := make([]float32, 0, len(values))
	for _, v := range values {
		d := v - center
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			out = append(out, v)
		}
	}
	return out
}

func medianSorted(sorted []float32) float32 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
