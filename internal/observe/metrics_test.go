package observe

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recorder bundles Metrics with the reader that observes them.
type recorder struct {
	*Metrics
	reader *sdkmetric.ManualReader
}

func newRecorder(t *testing.T) recorder {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return recorder{Metrics: m, reader: reader}
}

func (r recorder) snapshot(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counter sums the int64 data points of name whose attributes contain
// key=value. An empty key matches every point.
func counter(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key != "" {
			v, ok := dp.Attributes.Value(attribute.Key(key))
			if !ok || v.AsString() != value {
				continue
			}
		}
		total += dp.Value
	}
	return total
}

func histogram(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	h, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(h.DataPoints) != 1 {
		t.Fatalf("metric %q: want one histogram point, got %T", name, met.Data)
	}
	return h.DataPoints[0]
}

func TestRecordFrame_ByResult(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	for range 5 {
		r.RecordFrame(ctx, FramePitched)
	}
	r.RecordFrame(ctx, FrameNoPitch)

	rm := r.snapshot(t)
	if got := counter(t, rm, "tuner.frames.processed", "result", FramePitched); got != 5 {
		t.Errorf("pitched frames = %d, want 5", got)
	}
	if got := counter(t, rm, "tuner.frames.processed", "result", FrameNoPitch); got != 1 {
		t.Errorf("silent frames = %d, want 1", got)
	}
}

func TestRecordEstimate(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	r.RecordEstimate(ctx, 440, 3, false)
	r.RecordEstimate(ctx, 82.4, 0, true)

	rm := r.snapshot(t)
	if got := counter(t, rm, "tuner.estimates.published", "", ""); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
	if got := counter(t, rm, "tuner.readings.rejected", "", ""); got != 3 {
		t.Errorf("rejected = %d, want 3", got)
	}
	if got := counter(t, rm, "tuner.estimates.fallback", "", ""); got != 1 {
		t.Errorf("fallbacks = %d, want 1", got)
	}

	dp := histogram(t, rm, "tuner.frequency")
	if dp.Count != 2 || dp.Sum < 522.3 || dp.Sum > 522.5 {
		t.Errorf("frequency histogram count=%d sum=%v, want 2 and 522.4", dp.Count, dp.Sum)
	}
	if !slices.Equal(dp.Bounds, frequencyBuckets) {
		t.Errorf("frequency bounds = %v, want %v", dp.Bounds, frequencyBuckets)
	}
}

func TestRecordPublishDropped_BySink(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	r.RecordPublishDropped(ctx, "async")
	r.RecordPublishDropped(ctx, "websocket")
	r.RecordPublishDropped(ctx, "websocket")

	rm := r.snapshot(t)
	if got := counter(t, rm, "tuner.publish.dropped", "sink", "websocket"); got != 2 {
		t.Errorf("websocket drops = %d, want 2", got)
	}
	if got := counter(t, rm, "tuner.publish.dropped", "", ""); got != 3 {
		t.Errorf("total drops = %d, want 3", got)
	}
}

func TestActiveSessions(t *testing.T) {
	r := newRecorder(t)
	ctx := context.Background()

	r.ActiveSessions.Add(ctx, 1)
	r.ActiveSessions.Add(ctx, -1)
	r.ActiveSessions.Add(ctx, 1)

	if got := counter(t, r.snapshot(t), "tuner.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestEstimationDuration_Buckets(t *testing.T) {
	r := newRecorder(t)
	r.EstimationDuration.Record(context.Background(), 0.00003)

	dp := histogram(t, r.snapshot(t), "tuner.estimation.duration")
	if !slices.Equal(dp.Bounds, estimationBuckets) {
		t.Errorf("bounds = %v, want %v", dp.Bounds, estimationBuckets)
	}
	// 30µs lands in the (25µs, 50µs] bucket.
	if dp.BucketCounts[5] != 1 {
		t.Errorf("bucket counts = %v, want the sixth bucket hit", dp.BucketCounts)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
