package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from, in order of precedence: defaults, the YAML
// file at path, and CHATSTATS_* environment variables. The returned viper
// instance carries the loaded state so later policy mutations can be written
// back to the same file.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHATSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, v, nil
}

// SaveGroups writes the current group lists back to the loaded config file.
// Called synchronously on every enable/disable mutation.
func SaveGroups(v *viper.Viper, groups GroupLists) error {
	v.Set("recording.groups.whitelist", groups.Whitelist)
	v.Set("recording.groups.blacklist", groups.Blacklist)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to persist group lists: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("database.path", defaultDBPath)
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaultConnMaxLifetime)

	v.SetDefault("recording.mode", "whitelist")
	v.SetDefault("recording.record_private", false)
	v.SetDefault("recording.admins", []int64{})
	v.SetDefault("recording.groups.whitelist", []int64{})
	v.SetDefault("recording.groups.blacklist", []int64{})

	v.SetDefault("tokenizer.enabled", true)
	v.SetDefault("tokenizer.min_word_length", defaultMinWordLength)
	v.SetDefault("tokenizer.stop_words", defaultStopWords)

	v.SetDefault("batch.size", defaultBatchSize)
	v.SetDefault("batch.flush_interval", defaultFlushInterval)
	v.SetDefault("batch.queue_size", defaultQueueSize)
	v.SetDefault("batch.max_flush_retries", defaultMaxFlushRetries)

	v.SetDefault("query.timeout", defaultQueryTimeout)
	v.SetDefault("query.max_limit", defaultMaxLimit)
	v.SetDefault("query.max_days", defaultMaxDays)
	v.SetDefault("query.stats_cache_ttl", defaultStatsCacheTTL)
	v.SetDefault("query.max_rank_scan", defaultMaxRankScan)

	v.SetDefault("ingest.max_text_length", defaultMaxTextLength)
	v.SetDefault("ingest.max_raw_length", defaultMaxRawLength)
	v.SetDefault("ingest.segment_workers", defaultSegmentWorkers)

	v.SetDefault("scheduler.maintenance.enabled", true)
	v.SetDefault("scheduler.maintenance.schedule", defaultMaintenanceSchedule)
}
