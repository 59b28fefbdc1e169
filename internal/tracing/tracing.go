// Package tracing configures OpenTelemetry spans for an investigation's
// OODA phases. It exports to stdout rather than an OTLP collector, so
// a single run's trace is inspectable without standing up Tempo or
// Jaeger.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/compass-investigate/compass/internal/logging"
)

var log = logging.GetLogger("tracing")

// Config holds tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// Provider wraps an OpenTelemetry TracerProvider. When disabled it
// still hands out a usable no-op tracer so callers never need to
// branch on whether tracing is on.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
}

// NewProvider initializes a stdout-exporting TracerProvider and
// installs it as the global provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		log.Info("tracing disabled")
		return &Provider{enabled: false}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "compass"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.1.0"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing initialized with stdout exporter")
	return &Provider{tracerProvider: tp, enabled: true}, nil
}

// Shutdown flushes any buffered spans. Safe to call on a disabled
// provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shut down tracer provider: %w", err)
	}
	return nil
}

// Tracer returns a named tracer. Works whether or not tracing is
// enabled: a disabled provider never set a global provider, so this
// falls back to OTel's built-in no-op tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Span attribute keys, namespaced the way the original monitoring
// module did for its OTel semantic conventions.
const (
	AttrInvestigationID   = "compass.investigation.id"
	AttrInvestigationType = "compass.investigation.incident_type"
	AttrPhase             = "compass.investigation.phase"
	AttrCostDelta         = "compass.investigation.cost_delta"
	AttrHypothesisCount   = "compass.investigation.hypothesis_count"
)

// StartPhase starts a span named "investigation.<phase>" carrying the
// investigation id and incident type, returning the span alongside a
// derived context so nested calls (worker calls, LLM calls) attach as
// children.
func StartPhase(ctx context.Context, tracer trace.Tracer, investigationID, incidentType, phase string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "investigation."+phase)
	span.SetAttributes(
		attribute.String(AttrInvestigationID, investigationID),
		attribute.String(AttrInvestigationType, incidentType),
		attribute.String(AttrPhase, phase),
	)
	return ctx, span
}

// EndPhase records the phase's cost delta and hypothesis count before
// ending the span, then sets the span's status from err (nil means OK).
func EndPhase(span trace.Span, costDelta float64, hypothesisCount int, err error) {
	span.SetAttributes(
		attribute.Float64(AttrCostDelta, costDelta),
		attribute.Int(AttrHypothesisCount, hypothesisCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
