package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/speedykv/speedykv/pkg/common/log"
	"github.com/speedykv/speedykv/pkg/compression"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/segments")

	if cfg.Version != CurrentConfigVersion {
		t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
	}
	if cfg.SegmentDir != "/tmp/segments" {
		t.Errorf("expected segment dir /tmp/segments, got %s", cfg.SegmentDir)
	}
	if cfg.BloomFalsePositiveRate != DefaultBloomFalsePositiveRate {
		t.Errorf("expected fp rate %v, got %v", DefaultBloomFalsePositiveRate, cfg.BloomFalsePositiveRate)
	}
	if cfg.Codec() != compression.None {
		t.Errorf("expected no compression, got %v", cfg.Codec())
	}
	if !cfg.SyncOnFinish || !cfg.VerifyOnOpen {
		t.Error("expected sync and verify enabled by default")
	}
	if cfg.Level() != log.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level())
	}
	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry disabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := NewDefaultConfig("/tmp/segments").Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no version", func(c *Config) { c.Version = 0 }},
		{"no directory", func(c *Config) { c.SegmentDir = "" }},
		{"zero fp rate", func(c *Config) { c.BloomFalsePositiveRate = 0 }},
		{"fp rate of one", func(c *Config) { c.BloomFalsePositiveRate = 1 }},
		{"unknown codec", func(c *Config) { c.Compression = "brotli" }},
		{"level too high", func(c *Config) { c.CompressionLevel = 23 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad telemetry", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 2
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/segments")
			cfg.Update(tt.modify)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"speedykv.json", "speedykv.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)

			cfg := NewDefaultConfig("/data/segments")
			cfg.Compression = "zstd"
			cfg.CompressionLevel = 3
			cfg.VerifyOnOpen = false

			if err := cfg.Save(path); err != nil {
				t.Fatalf("save: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temporary file left behind")
			}

			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.SegmentDir != "/data/segments" || loaded.Codec() != compression.Zstd ||
				loaded.CompressionLevel != 3 || loaded.VerifyOnOpen {
				t.Errorf("loaded config does not match saved one: %+v", loaded)
			}
			if loaded.Telemetry.ExportInterval != cfg.Telemetry.ExportInterval {
				t.Errorf("telemetry interval = %v", loaded.Telemetry.ExportInterval)
			}
		})
	}
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	data := []byte("segment_dir: /srv/kv\ncompression: lz4\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Codec() != compression.LZ4 {
		t.Errorf("codec = %v", cfg.Codec())
	}
	if cfg.BloomFalsePositiveRate != DefaultBloomFalsePositiveRate || !cfg.SyncOnFinish {
		t.Error("missing fields should keep their defaults")
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	// parses, but fails validation because segment_dir is empty
	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(empty); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPEEDYKV_SEGMENT_DIR", "/env/segments")
	t.Setenv("SPEEDYKV_BLOOM_FP_RATE", "0.001")
	t.Setenv("SPEEDYKV_COMPRESSION", "snappy")
	t.Setenv("SPEEDYKV_SYNC_ON_FINISH", "false")
	t.Setenv("SPEEDYKV_COMPRESSION_LEVEL", "not-a-number")
	t.Setenv("SPEEDYKV_TELEMETRY_ENABLED", "true")

	cfg := NewDefaultConfig("/tmp/segments")
	cfg.LoadFromEnv()

	if cfg.SegmentDir != "/env/segments" {
		t.Errorf("segment dir = %s", cfg.SegmentDir)
	}
	if cfg.BloomFalsePositiveRate != 0.001 {
		t.Errorf("fp rate = %v", cfg.BloomFalsePositiveRate)
	}
	if cfg.Codec() != compression.Snappy {
		t.Errorf("codec = %v", cfg.Codec())
	}
	if cfg.SyncOnFinish {
		t.Error("expected sync disabled")
	}
	if cfg.CompressionLevel != 0 {
		t.Error("unparseable level should be ignored")
	}
	if !cfg.Telemetry.Enabled {
		t.Error("expected telemetry enabled through env")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("env config should validate: %v", err)
	}
}
