package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/speedykv/speedykv/pkg/common/log"
	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/telemetry"
)

const (
	CurrentConfigVersion = 1

	DefaultBloomFalsePositiveRate = 0.01
	MaxCompressionLevel           = 22
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

type Config struct {
	Version int `json:"version" yaml:"version"`

	// Segment storage
	SegmentDir             string  `json:"segment_dir" yaml:"segment_dir"`
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate" yaml:"bloom_false_positive_rate"`
	Compression            string  `json:"compression" yaml:"compression"`
	CompressionLevel       int     `json:"compression_level" yaml:"compression_level"`

	// Durability and integrity
	SyncOnFinish bool `json:"sync_on_finish" yaml:"sync_on_finish"`
	VerifyOnOpen bool `json:"verify_on_open" yaml:"verify_on_open"`

	LogLevel  string           `json:"log_level" yaml:"log_level"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dir string) *Config {
	return &Config{
		Version: CurrentConfigVersion,

		SegmentDir:             dir,
		BloomFalsePositiveRate: DefaultBloomFalsePositiveRate,
		Compression:            compression.None.String(),
		CompressionLevel:       0,

		SyncOnFinish: true,
		VerifyOnOpen: true,

		LogLevel:  "info",
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.SegmentDir == "" {
		return fmt.Errorf("%w: segment directory not specified", ErrInvalidConfig)
	}

	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		return fmt.Errorf("%w: bloom false positive rate must be in (0, 1), got %v", ErrInvalidConfig, c.BloomFalsePositiveRate)
	}

	if _, err := compression.ParseCodec(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.CompressionLevel < 0 || c.CompressionLevel > MaxCompressionLevel {
		return fmt.Errorf("%w: compression level must be between 0 and %d", ErrInvalidConfig, MaxCompressionLevel)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// Codec returns the parsed compression codec
func (c *Config) Codec() compression.Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	codec, err := compression.ParseCodec(c.Compression)
	if err != nil {
		return compression.None
	}
	return codec
}

// Level returns the parsed log level
func (c *Config) Level() log.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.LevelInfo
	}
	return level
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads a JSON or YAML config, chosen by file extension. Fields
// missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path through a temporary file
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// LoadFromEnv overrides fields from SPEEDYKV_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("SPEEDYKV_SEGMENT_DIR"); val != "" {
		c.SegmentDir = val
	}

	if val := os.Getenv("SPEEDYKV_BLOOM_FP_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.BloomFalsePositiveRate = rate
		}
	}

	if val := os.Getenv("SPEEDYKV_COMPRESSION"); val != "" {
		c.Compression = val
	}

	if val := os.Getenv("SPEEDYKV_COMPRESSION_LEVEL"); val != "" {
		if level, err := strconv.Atoi(val); err == nil {
			c.CompressionLevel = level
		}
	}

	if val := os.Getenv("SPEEDYKV_SYNC_ON_FINISH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.SyncOnFinish = b
		}
	}

	if val := os.Getenv("SPEEDYKV_VERIFY_ON_OPEN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.VerifyOnOpen = b
		}
	}

	if val := os.Getenv("SPEEDYKV_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	c.Telemetry.LoadFromEnv()
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
