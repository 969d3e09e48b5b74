package obs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agentplexus/omnivoice-receptionist"

// Options configures Init.
type Options struct {
	ServiceName string
	Version     string

	// Stdout exports spans and metrics as JSON to Writer (os.Stdout when nil).
	Stdout bool
	Writer io.Writer
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	meters   *sdkmetric.MeterProvider

	metricsOnce sync.Once
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
)

// ErrAlreadyInitialized is returned when Init runs twice.
var ErrAlreadyInitialized = errors.New("obs: already initialized")

type noopSpanExporter struct{}

func (noopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopSpanExporter) Shutdown(context.Context) error { return nil }

// Init installs global tracer and meter providers. The returned function
// flushes and shuts both down.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return nil, ErrAlreadyInitialized
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "receptionist"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter = noopSpanExporter{}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		traceOpts := []stdouttrace.Option{}
		metricOpts := []stdoutmetric.Option{}
		if opts.Writer != nil {
			traceOpts = append(traceOpts, stdouttrace.WithWriter(opts.Writer))
			metricOpts = append(metricOpts, stdoutmetric.WithWriter(opts.Writer))
		}
		exporter, err = stdouttrace.New(traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("obs: build exporter: %w", err)
		}
		metricExporter, err := stdoutmetric.New(metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("obs: build metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	provider = tp
	meters = mp

	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if provider == nil {
			return nil
		}
		err := errors.Join(provider.Shutdown(ctx), meters.Shutdown(ctx))
		provider, meters = nil, nil
		return err
	}, nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// installMetrics creates the instruments on the global meter. Instruments
// created before Init are forwarded once a provider is installed.
func installMetrics() {
	metricsOnce.Do(func() {
		m := otel.Meter(instrumentationName)
		requests, _ = m.Int64Counter("receptionist.requests", metric.WithDescription("Outbound service requests"))
		latency, _ = m.Float64Histogram("receptionist.request.latency_ms", metric.WithDescription("Outbound service latency (ms)"))
	})
}

// Recorder tracks one outbound operation.
type Recorder struct {
	start time.Time
	span  trace.Span
	attrs []attribute.KeyValue
}

// Start opens a span and counts the request.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Recorder) {
	installMetrics()
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	attrs = append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)
	if requests != nil {
		requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, &Recorder{start: time.Now(), span: span, attrs: attrs}
}

// AddAttributes annotates the span and the latency metric.
func (r *Recorder) AddAttributes(attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	r.attrs = append(r.attrs, attrs...)
	r.span.SetAttributes(attrs...)
}

// End closes the span, marking it failed when err is non-nil.
func (r *Recorder) End(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	if latency != nil {
		ms := float64(time.Since(r.start).Microseconds()) / 1000
		latency.Record(context.Background(), ms, metric.WithAttributes(r.attrs...))
	}
	r.span.End()
}
