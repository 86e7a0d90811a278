package segment

import (
	"github.com/speedykv/speedykv/pkg/common/log"
	"github.com/speedykv/speedykv/pkg/compression"
	"github.com/speedykv/speedykv/pkg/config"
	"github.com/speedykv/speedykv/pkg/segment/bloom"
	"github.com/speedykv/speedykv/pkg/telemetry"
)

// Options control how segments are written, opened and retired.
type Options struct {
	// BloomFalsePositiveRate is the target rate the bloom filter is sized for
	BloomFalsePositiveRate float64

	// Codec compresses values in the blob store
	Codec            compression.Codec
	CompressionLevel int

	// SyncOnFinish fsyncs every file before it is renamed into place
	SyncOnFinish bool

	// VerifyOnOpen checks the blob store checksum when a segment is opened
	VerifyOnOpen bool

	Logger    log.Logger
	Telemetry telemetry.Telemetry
	Metrics   Metrics

	// Tracker defers deletion of merged segments while handles are open.
	// Nil deletes merge inputs immediately.
	Tracker *Tracker

	// extra receive every event alongside Metrics
	extra []Metrics
}

// Option modifies Options
type Option func(*Options)

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		BloomFalsePositiveRate: bloom.DefaultFalsePositiveRate,
		Codec:                  compression.None,
		SyncOnFinish:           true,
		VerifyOnOpen:           true,
		Logger:                 log.Component(telemetry.ComponentSegment),
		Telemetry:              telemetry.NewNoop(),
		Metrics:                NewNoopMetrics(),
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.extra) > 0 {
		o.Metrics = multiMetrics(append([]Metrics{o.Metrics}, o.extra...))
		o.extra = nil
	}
	return o
}

// WithBloomFalsePositiveRate sets the bloom filter target rate
func WithBloomFalsePositiveRate(rate float64) Option {
	return func(o *Options) {
		o.BloomFalsePositiveRate = rate
	}
}

// WithCompression sets the value codec and its level
func WithCompression(codec compression.Codec, level int) Option {
	return func(o *Options) {
		o.Codec = codec
		o.CompressionLevel = level
	}
}

// WithSync controls fsync before publishing files
func WithSync(sync bool) Option {
	return func(o *Options) {
		o.SyncOnFinish = sync
	}
}

// WithVerifyOnOpen controls the store checksum check in Open
func WithVerifyOnOpen(verify bool) Option {
	return func(o *Options) {
		o.VerifyOnOpen = verify
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTelemetry records spans and metrics through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *Options) {
		o.Telemetry = tel
		o.Metrics = NewMetrics(tel)
	}
}

// WithMetrics records segment events into m as well
func WithMetrics(m Metrics) Option {
	return func(o *Options) {
		o.extra = append(o.extra, m)
	}
}

// WithTracker defers deletion of merge inputs through t
func WithTracker(t *Tracker) Option {
	return func(o *Options) {
		o.Tracker = t
	}
}

// OptionsFromConfig converts cfg into segment options. tel may be nil.
func OptionsFromConfig(cfg *config.Config, tel telemetry.Telemetry) []Option {
	opts := []Option{
		WithBloomFalsePositiveRate(cfg.BloomFalsePositiveRate),
		WithCompression(cfg.Codec(), cfg.CompressionLevel),
		WithSync(cfg.SyncOnFinish),
		WithVerifyOnOpen(cfg.VerifyOnOpen),
	}
	if tel != nil {
		opts = append(opts, WithTelemetry(tel))
	}
	return opts
}
