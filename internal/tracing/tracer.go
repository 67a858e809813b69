package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wyndmere/avatarsync"

// Tracer returns the global tracer for avatar-pipeline instrumentation.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Options selects the span exporter and sampling for Setup.
type Options struct {
	ServiceName string
	Version     string
	Exporter    string // "stdout", "otlp-grpc", or "otlp-http"
	Endpoint    string // collector address for the otlp exporters
	SampleRate  float64
	Insecure    bool // skip TLS on the otlp exporters, for dev collectors
}

// Setup registers a global TracerProvider per opts and returns a shutdown
// function that flushes pending spans. The caller defers the shutdown.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	exp, err := spanExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// spanExporter builds the exporter opts.Exporter names.
func spanExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp-grpc":
		return grpcExporter(ctx, opts)
	case "otlp-http":
		return httpExporter(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown exporter %q (supported: stdout, otlp-grpc, otlp-http)", opts.Exporter)
	}
}

func grpcExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	var o []otlptracegrpc.Option
	if opts.Endpoint != "" {
		o = append(o, otlptracegrpc.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		o = append(o, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, o...)
}

func httpExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	var o []otlptracehttp.Option
	if opts.Endpoint != "" {
		o = append(o, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		o = append(o, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, o...)
}
