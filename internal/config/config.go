// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/packeteater/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `packet-eater:` root key in YAML.
type GlobalConfig struct {
	Submission SubmissionConfig `mapstructure:"submission" yaml:"submission"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Guard      GuardConfig      `mapstructure:"guard" yaml:"guard"`
	Filter     FilterConfig     `mapstructure:"filter" yaml:"filter"`
	Collector  CollectorConfig  `mapstructure:"collector" yaml:"collector"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ─── Submission ───

// SubmissionConfig controls the outbound HTTP client.
type SubmissionConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Path        string        `mapstructure:"path" yaml:"path"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Compression string        `mapstructure:"compression" yaml:"compression"` // none | gzip
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// ─── Queue ───

// QueueConfig sizes the background task queue.
type QueueConfig struct {
	Workers      int           `mapstructure:"workers" yaml:"workers"` // 1 keeps submission order
	Capacity     int           `mapstructure:"capacity" yaml:"capacity"`
	DropPolicy   string        `mapstructure:"drop_policy" yaml:"drop_policy"` // "tail" | "head"
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// ─── Environment Guard ───

// GuardConfig selects the module whose presence marks the live client.
type GuardConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Module  string        `mapstructure:"module" yaml:"module"`
	Refresh time.Duration `mapstructure:"refresh" yaml:"refresh"`
}

// ─── Filter ───

// FilterConfig holds optional load shedding applied before encoding.
type FilterConfig struct {
	RateLimit        float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // packets/s, 0 = unlimited
	Burst            int     `mapstructure:"burst" yaml:"burst"`
	ExcludePacketIDs []int   `mapstructure:"exclude_packet_ids" yaml:"exclude_packet_ids"`
}

// ─── Collector ───

// CollectorConfig configures the reference /upload receiver.
type CollectorConfig struct {
	Listen       string          `mapstructure:"listen" yaml:"listen"`
	Path         string          `mapstructure:"path" yaml:"path"`
	AllowRemote  bool            `mapstructure:"allow_remote" yaml:"allow_remote"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	Sink         string          `mapstructure:"sink" yaml:"sink"` // log | redis | kafka
	// Submitter ids (hex sha256 of the client IP) admitted from public
	// addresses, and ids refused outright.
	Whitelist    []string        `mapstructure:"whitelist" yaml:"whitelist"`
	Banned       []string        `mapstructure:"banned" yaml:"banned"`
	SubmitterTTL time.Duration   `mapstructure:"submitter_ttl" yaml:"submitter_ttl"`
	Redis        RedisSinkConfig `mapstructure:"redis" yaml:"redis"`
	Kafka        KafkaSinkConfig `mapstructure:"kafka" yaml:"kafka"`
}

// RedisSinkConfig pushes envelopes onto a Redis list.
type RedisSinkConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Key    string `mapstructure:"key" yaml:"key"`
	Shards int    `mapstructure:"shards" yaml:"shards"` // >1 spreads submitters over key:0..n-1
}

// KafkaSinkConfig writes envelopes to a Kafka topic.
type KafkaSinkConfig struct {
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	Topic       string   `mapstructure:"topic" yaml:"topic"`
	Compression string   `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4 | zstd
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format     string           `mapstructure:"format" yaml:"format"` // json / text / pattern
	Pattern    string           `mapstructure:"pattern" yaml:"pattern"`
	TimeFormat string           `mapstructure:"time_format" yaml:"time_format"`
	Outputs    LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
	Loki LokiOutputConfig `mapstructure:"loki" yaml:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels"`
	BatchSize    int               `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// ─── Loading ───

// rootKey is the YAML root; env vars use the PACKET_EATER_ prefix.
const rootKey = "packet-eater"

// configRoot is the top-level wrapper matching the YAML structure.
type configRoot struct {
	PacketEater GlobalConfig `mapstructure:"packet-eater"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only (e.g. PACKET_EATER_SUBMISSION_BASE_URL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// "packet-eater.submission.base_url" → PACKET_EATER_SUBMISSION_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.PacketEater

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Host plugins, which ship without a config file, start from here.
func Default() (*GlobalConfig, error) {
	return Load("")
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(rootKey+"."+key, value) }

	// Submission defaults
	d("submission.base_url", "http://localhost")
	d("submission.path", "/upload")
	d("submission.timeout", "5s")
	d("submission.compression", "none")
	d("submission.user_agent", "packeteater")

	// Queue defaults
	d("queue.workers", 1)
	d("queue.capacity", 4096)
	d("queue.drop_policy", "tail")
	d("queue.drain_timeout", "2s")

	// Guard defaults
	d("guard.enabled", true)
	d("guard.module", "polhook.dll")
	d("guard.refresh", "1s")

	// Filter defaults
	d("filter.rate_limit", 0)
	d("filter.burst", 0)
	d("filter.exclude_packet_ids", []int{})

	// Collector defaults
	d("collector.listen", ":8080")
	d("collector.path", "/upload")
	d("collector.allow_remote", false)
	d("collector.max_body_bytes", 1<<20)
	d("collector.sink", "log")
	d("collector.whitelist", []string{})
	d("collector.banned", []string{})
	d("collector.submitter_ttl", "1h")
	d("collector.redis.shards", 1)
	d("collector.redis.url", "redis://127.0.0.1:6379/0")
	d("collector.redis.key", "packeteater:packets")
	d("collector.kafka.brokers", []string{})
	d("collector.kafka.topic", "packeteater.packets")
	d("collector.kafka.compression", "snappy")

	// Metrics defaults
	d("metrics.enabled", false)
	d("metrics.listen", ":9091")
	d("metrics.path", "/metrics")

	// Log defaults
	d("log.level", "info")
	d("log.format", "text")
	d("log.pattern", "%time [%level] %caller: %msg %field\n")
	d("log.time_format", "2006-01-02 15:04:05.000")
	d("log.outputs.file.enabled", false)
	d("log.outputs.file.path", "packeteater.log")
	d("log.outputs.file.rotation.max_size_mb", 20)
	d("log.outputs.file.rotation.max_age_days", 14)
	d("log.outputs.file.rotation.max_backups", 3)
	d("log.outputs.file.rotation.compress", true)
	d("log.outputs.loki.enabled", false)
	d("log.outputs.loki.batch_size", 100)
	d("log.outputs.loki.batch_timeout", "5s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Submission ──
	if err := validateBaseURL(cfg.Submission.BaseURL); err != nil {
		return err
	}
	cfg.Submission.BaseURL = strings.TrimRight(cfg.Submission.BaseURL, "/")
	if !strings.HasPrefix(cfg.Submission.Path, "/") {
		return fmt.Errorf("%w: submission.path must start with '/': %q", core.ErrConfigInvalid, cfg.Submission.Path)
	}
	if cfg.Submission.Timeout <= 0 {
		return fmt.Errorf("%w: submission.timeout must be positive", core.ErrConfigInvalid)
	}
	if cfg.Submission.Compression == "" {
		cfg.Submission.Compression = "none"
	}
	if cfg.Submission.Compression != "none" && cfg.Submission.Compression != "gzip" {
		return fmt.Errorf("%w: unsupported submission.compression: %s (must be none/gzip)", core.ErrConfigInvalid, cfg.Submission.Compression)
	}

	// ── Queue ──
	if cfg.Queue.Workers < 1 {
		return fmt.Errorf("%w: queue.workers must be >= 1", core.ErrConfigInvalid)
	}
	if cfg.Queue.Capacity < 1 {
		return fmt.Errorf("%w: queue.capacity must be >= 1", core.ErrConfigInvalid)
	}
	if cfg.Queue.DropPolicy != "tail" && cfg.Queue.DropPolicy != "head" {
		return fmt.Errorf("%w: queue.drop_policy must be tail/head, got %q", core.ErrConfigInvalid, cfg.Queue.DropPolicy)
	}
	if cfg.Queue.DrainTimeout < 0 {
		return fmt.Errorf("%w: queue.drain_timeout must not be negative", core.ErrConfigInvalid)
	}

	// ── Guard ──
	if cfg.Guard.Enabled && cfg.Guard.Module == "" {
		return fmt.Errorf("%w: guard.module is required when guard.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Guard.Refresh < 0 {
		return fmt.Errorf("%w: guard.refresh must not be negative", core.ErrConfigInvalid)
	}

	// ── Filter ──
	if cfg.Filter.RateLimit < 0 {
		return fmt.Errorf("%w: filter.rate_limit must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Filter.RateLimit > 0 && cfg.Filter.Burst <= 0 {
		cfg.Filter.Burst = int(cfg.Filter.RateLimit)
		if cfg.Filter.Burst < 1 {
			cfg.Filter.Burst = 1
		}
	}
	for _, id := range cfg.Filter.ExcludePacketIDs {
		if id < 0 || id > 0x1FF {
			return fmt.Errorf("%w: filter.exclude_packet_ids: 0x%X is not a 9-bit packet id", core.ErrConfigInvalid, id)
		}
	}

	// ── Collector ──
	if !strings.HasPrefix(cfg.Collector.Path, "/") {
		return fmt.Errorf("%w: collector.path must start with '/': %q", core.ErrConfigInvalid, cfg.Collector.Path)
	}
	if cfg.Collector.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: collector.max_body_bytes must be positive", core.ErrConfigInvalid)
	}
	if cfg.Collector.SubmitterTTL <= 0 {
		return fmt.Errorf("%w: collector.submitter_ttl must be positive", core.ErrConfigInvalid)
	}
	switch cfg.Collector.Sink {
	case "log":
	case "redis":
		if cfg.Collector.Redis.URL == "" || cfg.Collector.Redis.Key == "" {
			return fmt.Errorf("%w: collector.redis.url and collector.redis.key are required when sink=redis", core.ErrConfigInvalid)
		}
		if cfg.Collector.Redis.Shards < 1 {
			return fmt.Errorf("%w: collector.redis.shards must be >= 1", core.ErrConfigInvalid)
		}
	case "kafka":
		if len(cfg.Collector.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: collector.kafka.brokers is required when sink=kafka", core.ErrConfigInvalid)
		}
		if cfg.Collector.Kafka.Topic == "" {
			return fmt.Errorf("%w: collector.kafka.topic is required when sink=kafka", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported collector.sink: %s (must be log/redis/kafka)", core.ErrConfigInvalid, cfg.Collector.Sink)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: submission.base_url: %v", core.ErrConfigInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: submission.base_url must be http or https, got %q", core.ErrConfigInvalid, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: submission.base_url has no host: %q", core.ErrConfigInvalid, raw)
	}
	return nil
}
