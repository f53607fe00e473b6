package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("no-span context yielded correlation ID %q", got)
	}

	tp, _ := spanRecorder(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Fatalf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestStartSpanRecordsNamedSpan(t *testing.T) {
	tp, exp := spanRecorder(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "segment-audio")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced a context without a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "segment-audio" {
		t.Fatalf("recorded spans = %+v, want one span named segment-audio", spans)
	}
}

func TestLoggerTraceAnnotations(t *testing.T) {
	tp, _ := spanRecorder(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	Logger(ctx).Info("inside span")
	span.End()

	if out := buf.String(); !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("span-scoped log line missing trace annotations: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("outside span")
	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("bare-context log line should carry no trace_id: %s", out)
	}
}
