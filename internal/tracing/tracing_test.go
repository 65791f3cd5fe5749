package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xReLogic/restecho/internal/logging"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec)))
	SetPropagator()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestExtract_ContinuesRemoteTrace(t *testing.T) {
	rec := installRecorder(t)

	h := http.Header{}
	h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := Extract(context.Background(), h)
	ctx, span := StartSpan(ctx, "echo_request", trace.WithSpanKind(trace.SpanKindServer))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", TraceIDFromContext(ctx))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "echo_request", ended[0].Name())
	assert.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestInit_UnreachableCollector(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	core, logs := observer.New(zap.DebugLevel)
	prevLogger := logging.GetLogger()
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(prevLogger) })

	// nothing listens on port 1; the exporter only dials when it flushes
	shutdown, err := Init(context.Background(), "restecho-test", "127.0.0.1:1", true)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "echo_request")
	assert.True(t, span.IsRecording())
	assert.True(t, span.SpanContext().IsValid())
	assert.NotEmpty(t, TraceIDFromContext(ctx))

	// ending after shutdown keeps the batcher from exporting to the dead endpoint
	shutdown()
	span.End()

	assert.Zero(t, logs.FilterMessage("tracer_shutdown_failed").Len())
}
