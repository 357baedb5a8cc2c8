// Package tracing installs the process-wide OpenTelemetry tracer provider.
// Spans are started by the packages that own the work: sagaflow.command
// (command.execute), sagaflow.saga (saga.process_event),
// sagaflow.eventstore (eventstore.append, eventstore.load),
// sagaflow.grpc and the HTTP middleware.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/logger"
	"github.com/goclaw/sagaflow/pkg/version"
)

// ServiceNamespace groups every sagaflow node under one namespace.
const ServiceNamespace = "sagaflow"

// ExporterOTLPGRPC is the only supported exporter kind.
const ExporterOTLPGRPC = "otlpgrpc"

// ShutdownFunc flushes pending spans and releases the provider.
type ShutdownFunc func(ctx context.Context) error

// Service identifies the process in exported spans.
type Service struct {
	App config.AppConfig
	// InstanceID distinguishes nodes of one deployment. Optional.
	InstanceID string
}

type exporterFactory func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	ExporterOTLPGRPC: newOTLPGRPCExporter,
}

var reportDroppedSpans = func(err error, exporter, endpoint string, dropped int, total int64) {
	logger.Warn("dropping spans after export failure",
		"error", err,
		"exporter", exporter,
		"endpoint", endpoint,
		"dropped", dropped,
		"dropped_total", total,
	)
}

func newOTLPGRPCExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// dropOnFailure logs and swallows export errors; spans of a failed batch are lost.
type dropOnFailure struct {
	next     sdktrace.SpanExporter
	kind     string
	endpoint string
	dropped  atomic.Int64
}

func (e *dropOnFailure) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.next.ExportSpans(ctx, spans); err != nil {
		total := e.dropped.Add(int64(len(spans)))
		reportDroppedSpans(err, e.kind, e.endpoint, len(spans), total)
	}
	return nil
}

func (e *dropOnFailure) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// Init installs the global tracer provider and W3C propagators. With tracing
// disabled a no-op provider is installed, so spans cost nothing.
func Init(ctx context.Context, svc Service, cfg config.TracingConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	factory, ok := exporters[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("tracing timeout must be > 0")
	}

	res, err := Resource(ctx, svc)
	if err != nil {
		return nil, err
	}

	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", kind, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&dropOnFailure{next: exp, kind: kind, endpoint: normalizeEndpoint(cfg.Endpoint)}),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			_ = tp.Shutdown(shutdownCtx)
			return fmt.Errorf("force flush tracing provider: %w", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracing provider: %w", err)
		}
		return nil
	}, nil
}

// Resource describes the service: name and version from the app config
// (the build version when unset), the sagaflow namespace, the deployment
// environment and the instance id.
func Resource(ctx context.Context, svc Service) (*resource.Resource, error) {
	name := svc.App.Name
	if name == "" {
		name = ServiceNamespace
	}
	ver := svc.App.Version
	if ver == "" || ver == "dev" {
		ver = version.Version
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceNamespace(ServiceNamespace),
		semconv.ServiceVersion(ver),
	}
	if svc.App.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(svc.App.Environment))
	}
	if svc.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(svc.InstanceID))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}
	return res, nil
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// normalizeEndpoint strips the scheme and path from URL-style endpoints; the
// gRPC exporter wants host:port.
func normalizeEndpoint(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}
