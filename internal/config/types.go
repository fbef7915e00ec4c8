// Package config manages application configuration from defaults,
// config.yaml, and CHATSTATS_* environment variables.
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Recording RecordingConfig `mapstructure:"recording"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Query     QueryConfig     `mapstructure:"query"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig controls the SQLite file and connection pool bounds.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"              validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"min=1,max=64"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"min=1,max=64"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"min=1m"`
}

// RecordingConfig is the recording policy as persisted. The live, mutable
// view of it lives in the policy package.
type RecordingConfig struct {
	Mode          string     `mapstructure:"mode"           validate:"oneof=whitelist blacklist"`
	RecordPrivate bool       `mapstructure:"record_private"`
	Admins        []int64    `mapstructure:"admins"`
	Groups        GroupLists `mapstructure:"groups"`
}

// GroupLists holds the per-group whitelist and blacklist.
type GroupLists struct {
	Whitelist []int64 `mapstructure:"whitelist"`
	Blacklist []int64 `mapstructure:"blacklist"`
}

// TokenizerConfig controls word segmentation of message text.
type TokenizerConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	MinWordLength int      `mapstructure:"min_word_length" validate:"min=1,max=16"`
	StopWords     []string `mapstructure:"stop_words"`
}

// BatchConfig bounds the write batcher.
type BatchConfig struct {
	Size            int           `mapstructure:"size"              validate:"min=1,max=10000"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"    validate:"min=100ms,max=1m"`
	QueueSize       int           `mapstructure:"queue_size"        validate:"min=1,max=1000000"`
	MaxFlushRetries int           `mapstructure:"max_flush_retries" validate:"min=1,max=100"`
}

// QueryConfig bounds the analytics query surface.
type QueryConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"         validate:"min=100ms,max=1m"`
	MaxLimit      int           `mapstructure:"max_limit"       validate:"min=1,max=10000"`
	MaxDays       int           `mapstructure:"max_days"        validate:"min=1,max=3650"`
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl" validate:"min=1s,max=1h"`
	MaxRankScan   int           `mapstructure:"max_rank_scan"   validate:"min=10,max=1000000"`
}

// IngestConfig bounds per-message preprocessing.
type IngestConfig struct {
	MaxTextLength  int `mapstructure:"max_text_length" validate:"min=64,max=65536"`
	MaxRawLength   int `mapstructure:"max_raw_length"  validate:"min=64,max=262144"`
	SegmentWorkers int `mapstructure:"segment_workers" validate:"min=1,max=64"`
}

// SchedulerConfig controls background jobs.
type SchedulerConfig struct {
	Maintenance TaskConfig `mapstructure:"maintenance"`
}

// TaskConfig enables one scheduled job and sets its cron expression
// (six-field, with seconds).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}
