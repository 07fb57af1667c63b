package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs a synchronous in-memory tracer provider as the global
// provider for the duration of the test.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func textLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := useRecorder(t)

	ctx, span := StartSpan(context.Background(), "session.estimate")
	cid := CorrelationID(ctx)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "session.estimate" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != cid {
		t.Errorf("CorrelationID = %q, span trace ID = %q", cid, got)
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("without span: %q, want empty", got)
	}

	useRecorder(t)
	seen := map[string]bool{}
	for range 20 {
		ctx, span := StartSpan(context.Background(), "frame")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex digits", cid)
		}
		if seen[cid] {
			t.Fatalf("trace ID %s reused across root spans", cid)
		}
		seen[cid] = true
	}
}

func TestFailSpan(t *testing.T) {
	exp := useRecorder(t)

	_, ok := StartSpan(context.Background(), "ok")
	FailSpan(ok, nil)
	ok.End()

	_, bad := StartSpan(context.Background(), "bad")
	FailSpan(bad, errors.New("every reading rejected"))
	bad.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset || len(spans[0].Events) != 0 {
		t.Errorf("nil error changed span: status %v, events %d", spans[0].Status.Code, len(spans[0].Events))
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "every reading rejected" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("failed span events = %+v, want one exception", spans[1].Events)
	}
}

func TestWithTrace(t *testing.T) {
	useRecorder(t)

	var buf bytes.Buffer
	base := textLogger(&buf).With("session_id", "s-1")

	ctx, span := StartSpan(context.Background(), "http")
	defer span.End()
	WithTrace(ctx, base).Info("start session failed")

	out := buf.String()
	for _, want := range []string{"session_id=s-1", "trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	base := textLogger(&buf)
	if got := WithTrace(context.Background(), base); got != base {
		t.Error("logger without span should be returned unchanged")
	}
	WithTrace(context.Background(), base).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id: %s", buf.String())
	}
}

func TestWithTrace_NilUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(textLogger(&buf))
	t.Cleanup(func() { slog.SetDefault(prev) })

	WithTrace(context.Background(), nil).Warn("fallback logger")
	if !strings.Contains(buf.String(), "fallback logger") {
		t.Errorf("default logger not used: %q", buf.String())
	}
}
