package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by the pipeline and the HTTP layer
const (
	AttrJobID  = attribute.Key("autofi.job.id")
	AttrStage  = attribute.Key("autofi.stage")
	AttrSource = attribute.Key("autofi.source")
)

// Config holds the tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of an OTLP HTTP collector
	Insecure       bool
	Enabled        bool
}

// Provider hands out spans for jobs, stages and requests
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer builds the provider. With tracing disabled spans are still
// created, so stage errors keep their context, but nothing is exported.
func InitTracer(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return NewProvider(sdktrace.NewTracerProvider(), cfg.ServiceName), nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewProvider(tp, cfg.ServiceName), nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.OTLPEndpoint, err)
	}
	return exporter, nil
}

// NewProvider wraps an existing SDK provider. Tests pass one backed by an
// in-memory span recorder.
func NewProvider(tp *sdktrace.TracerProvider, name string) *Provider {
	return &Provider{tp: tp, tracer: tp.Tracer(name)}
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartJob opens the root span for one pipeline run
func (p *Provider) StartJob(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(AttrJobID.String(jobID)))
}

// StartStage opens a child span for one pipeline stage
func (p *Provider) StartStage(ctx context.Context, jobID, stage string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+stage, trace.WithAttributes(
		AttrJobID.String(jobID),
		AttrStage.String(stage),
	))
}

// SetError records err on the span in ctx and marks it failed
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordFallback notes a soft failure on the span in ctx without failing it
func RecordFallback(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).AddEvent("fallback", trace.WithAttributes(
		attribute.String("error", err.Error()),
	))
}
