// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package telemetry installs the OpenTelemetry tracer provider used for session
// spawn and terminate spans and for the control API.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ManuGH/rtmp2hls/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Provider owns the tracer provider installed by NewProvider. A disabled
// provider holds nothing and Shutdown is a no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// ServiceName is the service.name reported for cfg. It falls back to the
// logging service name.
func ServiceName(cfg config.AppConfig) string {
	if cfg.Telemetry.ServiceName != "" {
		return cfg.Telemetry.ServiceName
	}
	return cfg.LogService
}

// Resource describes this ingest instance on every exported span.
func Resource(cfg config.AppConfig, version string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(ServiceName(cfg)),
		semconv.ServiceVersionKey.String(version),
		semconv.DeploymentEnvironmentKey.String(cfg.Telemetry.Environment),
		attribute.String(IngestPortRangeKey, fmt.Sprintf("%d-%d", cfg.Ports.Min, cfg.Ports.Max)),
		attribute.Bool(IngestRecordKey, cfg.Record.Enabled),
	}
	if cfg.Server.PublicIP != "" {
		attrs = append(attrs, attribute.String(IngestPublicIPKey, cfg.Server.PublicIP))
	}
	return resource.NewSchemaless(attrs...)
}

// NewProvider installs the global tracer provider and propagator for cfg.
// With tracing disabled a noop provider is installed.
func NewProvider(ctx context.Context, cfg config.AppConfig, version string) (*Provider, error) {
	tc := cfg.Telemetry
	if !tc.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, tc)
	if err != nil {
		return nil, err
	}

	// TraceIDRatioBased samples everything at 1 and nothing at 0.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(Resource(cfg, version)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SamplingRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Exporters do not dial here; spans are sent by the batcher.
func newExporter(ctx context.Context, tc config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch tc.Exporter {
	case "grpc":
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(tc.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp grpc exporter: %w", err)
		}
		return exp, nil
	case "http":
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(tc.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("otlp http exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q", tc.Exporter)
	}
}

// Shutdown flushes pending spans, bounded by ctx and shutdownTimeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns a tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
