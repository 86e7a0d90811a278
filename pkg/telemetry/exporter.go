// ABOUTME: Exporter factory creating metric and trace exporters (stdout, OTLP, Prometheus) from Config
// ABOUTME: Metrics fall back to stdout when no metric exporter is configured

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/speedykv/speedykv/pkg/common/log"
)

func output(cfg Config) io.Writer {
	if cfg.Output != nil {
		return cfg.Output
	}
	return os.Stdout
}

// createMetricReaders creates the metric readers for cfg. A configured
// Prometheus exporter also returns the server exposing it.
func createMetricReaders(cfg Config) ([]metric.Reader, *metricsServer, error) {
	var (
		readers []metric.Reader
		server  *metricsServer
	)

	if cfg.HasExporter("prometheus") {
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		server, err = startMetricsServer(cfg.PrometheusAddr, registry)
		if err != nil {
			return nil, nil, err
		}
		readers = append(readers, exporter)
	}

	// OTLP is trace-only here; metrics go to stdout when nothing else takes them.
	if cfg.HasExporter("stdout") || server == nil {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(output(cfg)))
		if err != nil {
			if server != nil {
				server.Shutdown(context.Background())
			}
			return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		readers = append(readers, metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.ExportInterval)))
	}

	return readers, server, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, name := range cfg.Exporters {
		switch name {
		case "otlp":
			exporter, err := otlptracegrpc.New(
				context.Background(),
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(output(cfg)))
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)
		}
	}

	return exporters, nil
}

// metricsServer serves a Prometheus registry over HTTP.
type metricsServer struct {
	listener net.Listener
	server   *http.Server
}

func startMetricsServer(addr string, registry *prometheus.Registry) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s := &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Component("telemetry").Error("Metrics server on %s stopped: %v", s.Addr(), err)
		}
	}()
	return s, nil
}

// Addr returns the address the server listens on
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *metricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
