// ABOUTME: Configuration for telemetry setup including exporters, sampling and validation
// ABOUTME: Supports environment variable overrides and provides defaults for every option

package telemetry

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for telemetry providers and exporters.
type Config struct {
	// ServiceName identifies the service in telemetry data
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion identifies the service version in telemetry data
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporters specifies which exporters to use (stdout, otlp, prometheus)
	Exporters []string `json:"exporters" yaml:"exporters"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// OTLPEndpoint specifies the OTLP collector endpoint (host:port)
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// PrometheusAddr is the listen address of the /metrics endpoint
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`

	// ExportInterval controls how often metrics are exported
	ExportInterval time.Duration `json:"export_interval" yaml:"export_interval"`

	// BatchTimeout controls how long to wait before exporting a span batch
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`

	// Output receives stdout exporter data. Nil means os.Stdout.
	Output io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig returns a disabled configuration with usable defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "speedykv",
		ServiceVersion: "development",
		Enabled:        false,
		Exporters:      []string{"stdout"},
		SampleRate:     1.0,
		OTLPEndpoint:   "localhost:4317",
		PrometheusAddr: "localhost:9464",
		ExportInterval: 30 * time.Second,
		BatchTimeout:   5 * time.Second,
	}
}

// LoadFromEnv overrides fields from SPEEDYKV_TELEMETRY_* variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("SPEEDYKV_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_EXPORTERS"); val != "" {
		c.Exporters = strings.Split(val, ",")
		for i := range c.Exporters {
			c.Exporters[i] = strings.TrimSpace(c.Exporters[i])
		}
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_OTLP_ENDPOINT"); val != "" {
		c.OTLPEndpoint = val
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_PROMETHEUS_ADDR"); val != "" {
		c.PrometheusAddr = val
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_EXPORT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.ExportInterval = d
		}
	}

	if val := os.Getenv("SPEEDYKV_TELEMETRY_BATCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.BatchTimeout = d
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}

	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive, got %s", c.ExportInterval)
	}

	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}

	for _, exporter := range c.Exporters {
		switch exporter {
		case "stdout":
		case "otlp":
			if c.OTLPEndpoint == "" {
				return fmt.Errorf("otlp exporter requires otlp_endpoint")
			}
		case "prometheus":
			if c.PrometheusAddr == "" {
				return fmt.Errorf("prometheus exporter requires prometheus_addr")
			}
		default:
			return fmt.Errorf("invalid exporter: %s, valid options are: stdout, otlp, prometheus", exporter)
		}
	}

	return nil
}

// HasExporter returns true if the specified exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}
