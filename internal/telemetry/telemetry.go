// Package telemetry wraps OpenTelemetry tracing and metrics behind the
// minimal Telemetry/Span interfaces the rest of the spine depends on, so
// components never import go.opentelemetry.io directly.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the interface every spine component depends on.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOp discards all telemetry; the safe zero-value default.
type NoOp struct{}

func (NoOp) StartSpan(ctx context.Context, _ string) (context.Context, Span) { return ctx, noopSpan{} }
func (NoOp) RecordMetric(string, float64, map[string]string)                {}

type noopSpan struct{}

func (noopSpan) End()                               {}
func (noopSpan) SetAttribute(string, interface{})   {}
func (noopSpan) RecordError(error)                  {}

// OTel is the OpenTelemetry-backed Telemetry implementation, grounded on
// the teacher's pkg/telemetry.OTELImpl: it auto-detects an OTLP endpoint
// and otherwise falls back to a stdout exporter for local development.
type OTel struct {
	tracer   trace.Tracer
	counters *counterRegistry
	provider *sdktrace.TracerProvider
}

// New builds an OTel telemetry instance for the given service name. If
// OTEL_EXPORTER_OTLP_ENDPOINT is set, spans are batched to that collector
// over gRPC; otherwise a stdout exporter is used so traces remain visible
// without any external dependency.
func New(ctx context.Context, serviceName string) (*OTel, error) {
	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("spine.component", serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	var provider *sdktrace.TracerProvider
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
	} else {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
	}

	otel.SetTracerProvider(provider)

	return &OTel{
		tracer:   provider.Tracer("meridianrt/spine"),
		counters: newCounterRegistry(),
		provider: provider,
	}, nil
}

// StartSpan begins a span named name, child of any span already in ctx.
func (o *OTel) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records a labeled gauge-style measurement. Ring-buffer-style
// counters with cardinality bounds are kept in pkg/perf; this method only
// feeds the process-wide metric pipeline used for dashboards.
func (o *OTel) RecordMetric(name string, value float64, labels map[string]string) {
	o.counters.record(name, value, labels)
}

// Shutdown flushes and stops the trace provider.
func (o *OTel) Shutdown(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, time.Now().String()))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

// counterRegistry lazily creates OTel instruments per metric name so
// RecordMetric stays a simple (name, value, labels) call for the caller.
type counterRegistry struct {
	meter      metric.Meter
	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
}

func newCounterRegistry() *counterRegistry {
	return &counterRegistry{
		meter:      otel.GetMeterProvider().Meter("meridianrt/spine"),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (c *counterRegistry) record(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	h, ok := c.histograms[name]
	if !ok {
		var err error
		h, err = c.meter.Float64Histogram(name)
		if err != nil {
			c.mu.Unlock()
			return
		}
		c.histograms[name] = h
	}
	c.mu.Unlock()
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrs...))
}
