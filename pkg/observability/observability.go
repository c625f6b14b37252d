// Package observability provides OpenTelemetry tracing and RED metrics
// (rate, errors, duration) for post-action execution.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/Mindburn-Labs/tracker-postaction"

// Attribute keys shared by every post-action metric and span.
const (
	AttrAction  = attribute.Key("postaction.name")
	AttrKind    = attribute.Key("postaction.kind") // builtin | module
	AttrOutcome = attribute.Key("postaction.outcome")
	AttrTracker = attribute.Key("tracker.id")
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns export-disabled defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "postactiond",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the tracer and meter used by the executor.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	logger *slog.Logger

	red redInstruments
}

type redInstruments struct {
	evaluations metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
	inflight    metric.Int64UpDownCounter
}

// New creates a provider. With Enabled false nothing is exported and the
// instruments come from the global (no-op by default) providers.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "observability")}

	if !cfg.Enabled {
		p.tracer = otel.Tracer(scope)
		return p, p.red.init(otel.Meter(scope))
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spanExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.tracer = p.tp.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.red.init(p.mp.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "exporting telemetry", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

// NewWithReader records metrics into reader and keeps spans in process.
// The global providers are left alone.
func NewWithReader(reader sdkmetric.Reader) (*Provider, error) {
	p := &Provider{
		tp:     sdktrace.NewTracerProvider(),
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		logger: slog.Default().With("component", "observability"),
	}
	p.tracer = p.tp.Tracer(scope)
	if err := p.red.init(p.mp.Meter(scope)); err != nil {
		return nil, err
	}
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (r *redInstruments) init(m metric.Meter) error {
	var err, e error
	r.evaluations, e = m.Int64Counter("postaction.evaluations.total",
		metric.WithDescription("Post-action evaluations, by outcome"),
		metric.WithUnit("{evaluation}"))
	err = errors.Join(err, e)
	r.failures, e = m.Int64Counter("postaction.errors.total",
		metric.WithDescription("Post-action evaluations that failed"),
		metric.WithUnit("{error}"))
	err = errors.Join(err, e)
	r.latency, e = m.Float64Histogram("postaction.evaluation.duration",
		metric.WithDescription("Post-action evaluation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5))
	err = errors.Join(err, e)
	r.inflight, e = m.Int64UpDownCounter("postaction.evaluations.active",
		metric.WithDescription("Post-action evaluations in flight"),
		metric.WithUnit("{evaluation}"))
	if err = errors.Join(err, e); err != nil {
		return fmt.Errorf("RED instruments: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the providers this Provider created.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	if p.tp != nil {
		err = errors.Join(err, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		err = errors.Join(err, p.mp.Shutdown(ctx))
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "telemetry shutdown", "error", err)
	}
	return err
}

// Tracer returns the tracer spans are started on.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Operation is the completion handle returned by TrackOperation.
type Operation func(outcome string, err error)

// TrackOperation starts a span and bumps the in-flight gauge. The returned
// Operation must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Operation) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	base := metric.WithAttributes(attrs...)
	p.red.inflight.Add(ctx, 1, base)

	return ctx, func(outcome string, err error) {
		defer span.End()
		p.red.inflight.Add(ctx, -1, base)
		p.red.latency.Record(ctx, time.Since(start).Seconds(), base)

		tagged := append(append([]attribute.KeyValue(nil), attrs...), AttrOutcome.String(outcome))
		p.red.evaluations.Add(ctx, 1, metric.WithAttributes(tagged...))
		span.SetAttributes(AttrOutcome.String(outcome))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			p.red.failures.Add(ctx, 1, metric.WithAttributes(append(tagged, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
		}
	}
}
