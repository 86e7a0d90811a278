// ABOUTME: OpenTelemetry SDK backed implementation of Telemetry with cached instruments
// ABOUTME: Handles provider lifecycle, resource attributes and trace sampling

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/speedykv/speedykv"

// TelemetryProvider implements the Telemetry interface using the OpenTelemetry SDK.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer

	// metricsServer exposes the Prometheus exporter, when configured
	metricsServer *metricsServer

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New creates a Telemetry for cfg. A disabled config yields the no-op implementation.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	readers, server, err := createMetricReaders(cfg)
	if err != nil {
		return nil, err
	}
	exporters, err := createTraceExporters(cfg)
	if err != nil {
		if server != nil {
			server.Shutdown(context.Background())
		}
		return nil, err
	}

	p := newProvider(cfg, readers, exporters)
	p.metricsServer = server
	return p, nil
}

// newProvider wires readers and span exporters into SDK providers. Tests
// pass a manual reader and an in-memory exporter here.
func newProvider(cfg Config, readers []sdkmetric.Reader, exporters []sdktrace.SpanExporter) *TelemetryProvider {
	resource := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(resource)}
	for _, r := range readers {
		metricOpts = append(metricOpts, sdkmetric.WithReader(r))
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, e := range exporters {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(e, sdktrace.WithBatchTimeout(cfg.BatchTimeout)))
	}

	mp := sdkmetric.NewMeterProvider(metricOpts...)
	tp := sdktrace.NewTracerProvider(traceOpts...)

	return &TelemetryProvider{
		config:         cfg,
		meterProvider:  mp,
		tracerProvider: tp,
		meter:          mp.Meter(instrumentationName),
		tracer:         tp.Tracer(instrumentationName),
		counters:       make(map[string]metric.Int64Counter),
		histograms:     make(map[string]metric.Float64Histogram),
	}
}

func (p *TelemetryProvider) counter(name string) (metric.Int64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

func (p *TelemetryProvider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

// RecordHistogram records value in the histogram called name.
func (p *TelemetryProvider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, err := p.histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordCounter adds value to the counter called name.
func (p *TelemetryProvider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, err := p.counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

// StartSpan starts a span as a child of any span in ctx.
func (p *TelemetryProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return p.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// MetricsAddr returns the address of the Prometheus endpoint, or "" when
// the Prometheus exporter is not configured.
func (p *TelemetryProvider) MetricsAddr() string {
	if p.metricsServer == nil {
		return ""
	}
	return p.metricsServer.Addr()
}

// Shutdown flushes pending data and stops both providers.
func (p *TelemetryProvider) Shutdown(ctx context.Context) error {
	errs := []error{
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	}
	if p.metricsServer != nil {
		errs = append(errs, p.metricsServer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
