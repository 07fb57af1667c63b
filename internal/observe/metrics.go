// Package observe wires the tuner's telemetry: OpenTelemetry metric
// instruments bridged to Prometheus, tracing helpers, and the HTTP middleware
// that ties a request's span, duration and log line together.
//
// Production code takes its [Metrics] from the [Telemetry] returned by
// [InitProvider]. Tests build one with [NewMetrics] on a private meter
// provider.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tuner metrics.
const meterName = "github.com/MrWong99/tuner"

// Frame results recorded by [Metrics.RecordFrame].
const (
	FramePitched = "pitched"
	FrameNoPitch = "no_pitch"
)

// Metrics holds the tuner's metric instruments. OTel instruments are safe for
// concurrent use.
type Metrics struct {
	// --- Capture and detection ---

	// FramesProcessed counts frames passed to the pitch detector. Use with
	// attribute:
	//   attribute.String("result", FramePitched|FrameNoPitch)
	FramesProcessed metric.Int64Counter

	// SamplesAppended counts valid readings added to a session buffer.
	SamplesAppended metric.Int64Counter

	// --- Aggregation ---

	// EstimatesPublished counts stable frequencies handed to a publisher.
	EstimatesPublished metric.Int64Counter

	// ReadingsRejected counts readings discarded by the tolerance filter.
	ReadingsRejected metric.Int64Counter

	// EstimateFallbacks counts estimates that fell back to the first-pass
	// median because the filter rejected every reading.
	EstimateFallbacks metric.Int64Counter

	// EmptyBatches counts batches discarded because the filter rejected every
	// reading.
	EmptyBatches metric.Int64Counter

	// EstimationDuration tracks the time spent in the robust estimator.
	EstimationDuration metric.Float64Histogram

	// StableFrequency records the distribution of published frequencies.
	StableFrequency metric.Float64Histogram

	// --- Sessions and publishing ---

	// ActiveSessions tracks the number of recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PublishDropped counts events dropped by a full publisher queue or a
	// slow WebSocket client. Use with attribute:
	//   attribute.String("sink", ...)
	PublishDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// estimationBuckets defines histogram bucket boundaries (in seconds) for the
// estimator, which sorts at most a few hundred readings.
var estimationBuckets = []float64{
	0.000001, 0.0000025, 0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001,
}

// frequencyBuckets covers the range of common instruments, roughly one bucket
// per octave from E1 to C8.
var frequencyBuckets = []float64{
	41.2, 82.4, 164.8, 329.6, 659.3, 1318.5, 2637, 4186,
}

// builder creates instruments on one meter and collects their errors.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit(unit)}
	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

// NewMetrics creates every instrument on mp. Tests pass a provider backed by
// a manual reader.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		FramesProcessed:    b.counter("tuner.frames.processed", "Audio frames analysed by the pitch detector, by result."),
		SamplesAppended:    b.counter("tuner.samples.appended", "Valid pitch readings appended to session buffers."),
		EstimatesPublished: b.counter("tuner.estimates.published", "Stable frequency estimates published."),
		ReadingsRejected:   b.counter("tuner.readings.rejected", "Readings discarded by the tolerance filter."),
		EstimateFallbacks:  b.counter("tuner.estimates.fallback", "Estimates that used the first-pass median."),
		EmptyBatches:       b.counter("tuner.batches.empty", "Batches discarded because every reading was rejected."),
		PublishDropped:     b.counter("tuner.publish.dropped", "Events dropped by a saturated sink, by sink."),

		EstimationDuration:  b.histogram("tuner.estimation.duration", "Latency of the robust frequency estimator.", "s", estimationBuckets...),
		StableFrequency:     b.histogram("tuner.frequency", "Distribution of published stable frequencies.", "Hz", frequencyBuckets...),
		HTTPRequestDuration: b.histogram("tuner.http.request.duration", "HTTP request latency by method and route.", "s"),
	}

	sessions, err := b.m.Int64UpDownCounter("tuner.active_sessions",
		metric.WithDescription("Recording sessions currently open."),
	)
	met.ActiveSessions = sessions
	if err := errors.Join(b.err, err); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one analysed frame with its detection result.
func (m *Metrics) RecordFrame(ctx context.Context, result string) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordEstimate records a published estimate: its frequency, the readings
// the filter rejected, and whether it was a fallback.
func (m *Metrics) RecordEstimate(ctx context.Context, hz float32, rejected int, fallback bool) {
	m.EstimatesPublished.Add(ctx, 1)
	m.StableFrequency.Record(ctx, float64(hz))
	if rejected > 0 {
		m.ReadingsRejected.Add(ctx, int64(rejected))
	}
	if fallback {
		m.EstimateFallbacks.Add(ctx, 1)
	}
}

// RecordPublishDropped records an event dropped by sink.
func (m *Metrics) RecordPublishDropped(ctx context.Context, sink string) {
	m.PublishDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("sink", sink)),
	)
}
