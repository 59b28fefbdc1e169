package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviderDisabledReturnsNoopTracer(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.enabled)

	tracer := p.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderEnabledWritesSpans(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "compass-test"})
	require.NoError(t, err)
	assert.True(t, p.enabled)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStartPhaseAndEndPhaseSetAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	ctx, span := StartPhase(context.Background(), tracer, "inv-1", "database", "observe")
	require.NotNil(t, ctx)
	EndPhase(span, 0.25, 3, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "investigation.observe", spans[0].Name())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "inv-1", attrs[AttrInvestigationID])
	assert.Equal(t, "database", attrs[AttrInvestigationType])
	assert.Equal(t, "observe", attrs[AttrPhase])
	assert.Equal(t, 0.25, attrs[AttrCostDelta])
	assert.Equal(t, int64(3), attrs[AttrHypothesisCount])
}

func TestEndPhaseRecordsErrorWithoutPanicking(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	_, span := StartPhase(context.Background(), tracer, "inv-2", "network", "act")
	EndPhase(span, 0, 0, errors.New("disproof engine failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
