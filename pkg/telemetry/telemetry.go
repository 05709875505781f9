// Package telemetry provides OpenTelemetry distributed tracing for Sift.
// It instruments the retrieval pipeline with spans for each stage,
// supports W3C Trace Context propagation, and exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/siftlabs/sift"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "sift",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes Sift-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: noop.NewTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the Sift tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartRequest creates a root span for an incoming HTTP request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.request",
		trace.WithAttributes(attribute.String("sift.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartRetrieve creates a span for one retrieval call.
func (p *Provider) StartRetrieve(ctx context.Context, strategy string, k int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.retrieve",
		trace.WithAttributes(
			attribute.String("sift.retrieve.strategy", strategy),
			attribute.Int("sift.retrieve.k", k),
		),
	)
}

// StartEmbedding creates a span for the embedding generation stage.
func (p *Provider) StartEmbedding(ctx context.Context, textCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.embedding",
		trace.WithAttributes(attribute.Int("sift.embedding.text_count", textCount)),
	)
}

// StartVectorSearch creates a span for a vector store similarity search.
func (p *Provider) StartVectorSearch(ctx context.Context, collection string, topK int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.vector_search",
		trace.WithAttributes(
			attribute.String("sift.vector_search.collection", collection),
			attribute.Int("sift.vector_search.top_k", topK),
		),
	)
}

// StartCacheLookup creates a span for a cache lookup.
func (p *Provider) StartCacheLookup(ctx context.Context, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.cache.lookup",
		trace.WithAttributes(attribute.String("sift.cache.key", key)),
	)
}

// StartLLM creates a span for an LLM call (expansion, rerank, synthesis,
// evaluation).
func (p *Provider) StartLLM(ctx context.Context, purpose, model string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.llm",
		trace.WithAttributes(
			attribute.String("sift.llm.purpose", purpose),
			attribute.String("sift.llm.model", model),
		),
	)
}

// StartFusion creates a span for reciprocal rank fusion across ensemble
// members.
func (p *Provider) StartFusion(ctx context.Context, memberCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.fusion",
		trace.WithAttributes(attribute.Int("sift.fusion.member_count", memberCount)),
	)
}

// StartEvaluation creates a span for a RAGAS-style evaluation run.
func (p *Provider) StartEvaluation(ctx context.Context, strategy string, sampleCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.evaluation",
		trace.WithAttributes(
			attribute.String("sift.evaluation.strategy", strategy),
			attribute.Int("sift.evaluation.sample_count", sampleCount),
		),
	)
}

// StartIngest creates a span for a corpus ingestion run.
func (p *Provider) StartIngest(ctx context.Context, documentCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "sift.ingest",
		trace.WithAttributes(attribute.Int("sift.ingest.document_count", documentCount)),
	)
}

// RecordRetrievalResult adds result attributes to a retrieval span.
func RecordRetrievalResult(span trace.Span, numResults int, cacheHit bool, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("sift.result.num_results", numResults),
		attribute.Bool("sift.result.cache_hit", cacheHit),
		attribute.Int64("sift.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
