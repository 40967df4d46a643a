// Package telemetry implements core.Telemetry over OpenTelemetry, giving
// every tier distributed tracing and metric recording without depending
// on the OTel SDK directly, trimmed to the span/metric surface the
// pipeline actually calls and exporting via stdouttrace, since standing
// up a collector is outside this core's scope.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aios-systems/aios/core"
)

// Provider implements core.Telemetry with a real OpenTelemetry tracer
// and meter. Construct one per process with NewProvider and pass it to
// pipeline.Build; every tier wraps it behind core.Telemetry so it can be
// swapped for core.NoOpTelemetry in tests.
type Provider struct {
	tracer   trace.Tracer
	meter    metric.Meter
	tp       *sdktrace.TracerProvider
	instr    *instruments
	shutdown sync.Once
}

// NewProvider builds a Provider that exports spans via stdouttrace
// (pretty-printed to stdout) and records metrics through the otel
// global meter. serviceName tags every emitted span/metric.
func NewProvider(serviceName string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name cannot be empty")
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create trace exporter: %w", err)
	}

	res, err := sdkresource.New(context.Background(),
		sdkresource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer: tp.Tracer(serviceName),
		meter:  otel.Meter(serviceName),
		tp:     tp,
		instr:  newInstruments(otel.Meter(serviceName)),
	}, nil
}

// StartSpan opens a span named name as a child of any span already in ctx.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records value against an otel histogram named name, tagged
// with labels. Instruments are cached per metric name to avoid
// re-registering them.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.instr.record(context.Background(), name, value, labels)
}

// Shutdown flushes pending spans and tears the provider down. Safe to
// call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdown.Do(func() {
		err = p.tp.Shutdown(ctx)
	})
	return err
}

// otelSpan adapts an otel trace.Span to core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// instruments lazily creates and caches a float64 histogram per metric
// name.
type instruments struct {
	meter      metric.Meter
	mu         sync.RWMutex
	histograms map[string]metric.Float64Histogram
}

func newInstruments(meter metric.Meter) *instruments {
	return &instruments{meter: meter, histograms: map[string]metric.Float64Histogram{}}
}

func (in *instruments) record(ctx context.Context, name string, value float64, labels map[string]string) {
	in.mu.RLock()
	h, ok := in.histograms[name]
	in.mu.RUnlock()

	if !ok {
		in.mu.Lock()
		if h, ok = in.histograms[name]; !ok {
			var err error
			h, err = in.meter.Float64Histogram(name)
			if err != nil {
				in.mu.Unlock()
				return
			}
			in.histograms[name] = h
		}
		in.mu.Unlock()
	}

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}
