// Package tracing provides OpenTelemetry initialization and per-request
// spans for benchmark traffic.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config controls OTLP export. An empty endpoint leaves tracing disabled.
type Config struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
}

// normalize fills the service name and endpoint from the standard OTEL_*
// environment variables when the config file leaves them blank.
func (c Config) normalize() Config {
	if c.ServiceName == "" {
		c.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if c.ServiceName == "" {
		c.ServiceName = "inferload"
	}
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	return c
}

// sampler maps the configured rate onto an OTel sampler: 0 drops everything,
// 1 keeps everything, anything between samples by trace id.
func (c Config) sampler() (sdktrace.Sampler, error) {
	switch {
	case c.SampleRate < 0 || c.SampleRate > 1.0:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", c.SampleRate)
	case c.SampleRate == 0:
		return sdktrace.NeverSample(), nil
	case c.SampleRate < 1.0:
		return sdktrace.TraceIDRatioBased(c.SampleRate), nil
	default:
		return sdktrace.AlwaysSample(), nil
	}
}

// exporter builds the OTLP span exporter for the configured protocol.
func (c Config) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(c.Protocol) {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", c.Protocol)
	}
}

// Provider wraps the OTel TracerProvider and provides convenience methods.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init creates an OTel TracerProvider from cfg. Disabled tracing, or no
// endpoint from either config or environment, yields a no-op provider.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	cfg = cfg.normalize()
	if cfg.Endpoint == "" {
		return &Provider{}, nil
	}

	sampler, err := cfg.sampler()
	if err != nil {
		return nil, err
	}
	exporter, err := cfg.exporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer("inferload")}, nil
}

// Tracer returns the configured tracer. Returns a no-op tracer if tracing is
// disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer("inferload")
	}
	return p.tracer
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
