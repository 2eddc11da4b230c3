// Package tracing wires OTLP span export for the hot paths: agent turns,
// graph nodes, scheduler triggers and delegation planning. Disabled
// telemetry leaves the global no-op provider in place, so instrumented
// call sites cost nothing.
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/errdefs"
)

const scopeName = "github.com/omrylcn/gbot"

// Span names used across the runtime.
const (
	SpanTurn         = "turn"
	SpanReason       = "node.reason"
	SpanExecuteTools = "node.execute_tools"
	SpanCronTrigger  = "cron.trigger"
	SpanPlan         = "delegation.plan"
	SpanLightAgent   = "light_agent.run"
)

// Common attribute keys.
const (
	AttrUserID      = "gbot.user_id"
	AttrSessionID   = "gbot.session_id"
	AttrChannel     = "gbot.channel"
	AttrRole        = "gbot.role"
	AttrIteration   = "gbot.iteration"
	AttrToolName    = "gbot.tool_name"
	AttrJobID       = "gbot.job_id"
	AttrTriggerKind = "gbot.trigger_kind"
	AttrProcessor   = "gbot.processor"
	AttrModel       = "gbot.model"
	AttrTokens      = "gbot.tokens"
)

// Init configures the global tracer provider from config and returns its
// shutdown func. With telemetry disabled the shutdown is a no-op and the
// global provider stays no-op.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, errdefs.Errorf(errdefs.ConfigError, "tracing.init",
			"unknown telemetry protocol %q (want grpc or http)", cfg.Protocol)
	}
	if err != nil {
		return nil, errdefs.E(errdefs.ConfigError, "tracing.init", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "gbot"
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, errdefs.E(errdefs.ConfigError, "tracing.init", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	slog.Info("tracing enabled", "endpoint", cfg.Endpoint, "protocol", cfg.Protocol, "service", serviceName)
	return provider.Shutdown, nil
}

// Start opens a span on the global tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on the span and flips its status. nil err is a no-op,
// so call sites can defer-style report on every path.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
