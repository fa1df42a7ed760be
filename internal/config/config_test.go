package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/packeteater/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
packet-eater:
  submission:
    base_url: "https://packets.example.net/"
    timeout: "3s"
    compression: "gzip"
  queue:
    workers: 1
    capacity: 128
    drop_policy: "head"
    drain_timeout: "500ms"
  guard:
    enabled: true
    module: "polhook.dll"
  filter:
    rate_limit: 200
    exclude_packet_ids: [0x0D, 0x17]
  collector:
    listen: "127.0.0.1:9000"
    sink: "redis"
    redis:
      url: "redis://127.0.0.1:6379/2"
      key: "packets"
  log:
    level: "debug"
    format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Submission.BaseURL != "https://packets.example.net" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.Submission.BaseURL)
	}
	if cfg.Submission.Path != "/upload" {
		t.Errorf("Expected default path /upload, got %s", cfg.Submission.Path)
	}
	if cfg.Submission.Timeout != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %v", cfg.Submission.Timeout)
	}
	if cfg.Submission.Compression != "gzip" {
		t.Errorf("Expected gzip compression, got %s", cfg.Submission.Compression)
	}
	if cfg.Queue.Capacity != 128 || cfg.Queue.DropPolicy != "head" {
		t.Errorf("Unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Queue.DrainTimeout != 500*time.Millisecond {
		t.Errorf("Expected drain timeout 500ms, got %v", cfg.Queue.DrainTimeout)
	}
	if cfg.Filter.Burst != 200 {
		t.Errorf("Expected burst to default to rate limit, got %d", cfg.Filter.Burst)
	}
	if len(cfg.Filter.ExcludePacketIDs) != 2 || cfg.Filter.ExcludePacketIDs[0] != 0x0D {
		t.Errorf("Unexpected excluded ids: %v", cfg.Filter.ExcludePacketIDs)
	}
	if cfg.Collector.Sink != "redis" || cfg.Collector.Redis.Key != "packets" {
		t.Errorf("Unexpected collector config: %+v", cfg.Collector)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}

	if cfg.Submission.BaseURL != "http://localhost" {
		t.Errorf("Expected default base url http://localhost, got %s", cfg.Submission.BaseURL)
	}
	if cfg.Queue.Workers != 1 {
		t.Errorf("Expected a single worker by default, got %d", cfg.Queue.Workers)
	}
	if cfg.Queue.DropPolicy != "tail" {
		t.Errorf("Expected tail drop policy, got %s", cfg.Queue.DropPolicy)
	}
	if !cfg.Guard.Enabled || cfg.Guard.Module != "polhook.dll" {
		t.Errorf("Unexpected guard defaults: %+v", cfg.Guard)
	}
	if cfg.Submission.Timeout <= 0 || cfg.Submission.Timeout >= 10*time.Second {
		t.Errorf("Expected a short bounded timeout, got %v", cfg.Submission.Timeout)
	}
	if cfg.Collector.Sink != "log" {
		t.Errorf("Expected log sink by default, got %s", cfg.Collector.Sink)
	}
	if cfg.Collector.SubmitterTTL != time.Hour || cfg.Collector.Redis.Shards != 1 {
		t.Errorf("Unexpected collector registry defaults: %+v", cfg.Collector)
	}
}

func TestEnvOverridesBaseURL(t *testing.T) {
	t.Setenv("PACKET_EATER_SUBMISSION_BASE_URL", "http://collector.internal:8080")
	t.Setenv("PACKET_EATER_QUEUE_CAPACITY", "64")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if cfg.Submission.BaseURL != "http://collector.internal:8080" {
		t.Errorf("Expected env override, got %s", cfg.Submission.BaseURL)
	}
	if cfg.Queue.Capacity != 64 {
		t.Errorf("Expected capacity 64 from env, got %d", cfg.Queue.Capacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "LogLevel",
			content: "packet-eater:\n  log:\n    level: \"loud\"\n",
			errPart: "invalid log level",
		},
		{
			name:    "LogFormat",
			content: "packet-eater:\n  log:\n    format: \"xml\"\n",
			errPart: "invalid log format",
		},
		{
			name:    "BaseURLScheme",
			content: "packet-eater:\n  submission:\n    base_url: \"ftp://example.net\"\n",
			errPart: "http or https",
		},
		{
			name:    "Path",
			content: "packet-eater:\n  submission:\n    path: \"upload\"\n",
			errPart: "submission.path",
		},
		{
			name:    "Compression",
			content: "packet-eater:\n  submission:\n    compression: \"brotli\"\n",
			errPart: "compression",
		},
		{
			name:    "Workers",
			content: "packet-eater:\n  queue:\n    workers: 0\n",
			errPart: "queue.workers",
		},
		{
			name:    "DropPolicy",
			content: "packet-eater:\n  queue:\n    drop_policy: \"random\"\n",
			errPart: "drop_policy",
		},
		{
			name:    "GuardModule",
			content: "packet-eater:\n  guard:\n    enabled: true\n    module: \"\"\n",
			errPart: "guard.module",
		},
		{
			name:    "PacketID",
			content: "packet-eater:\n  filter:\n    exclude_packet_ids: [0x200]\n",
			errPart: "9-bit",
		},
		{
			name:    "KafkaBrokers",
			content: "packet-eater:\n  collector:\n    sink: \"kafka\"\n",
			errPart: "kafka.brokers",
		},
		{
			name:    "RedisShards",
			content: "packet-eater:\n  collector:\n    sink: \"redis\"\n    redis:\n      shards: 0\n",
			errPart: "redis.shards",
		},
		{
			name:    "SubmitterTTL",
			content: "packet-eater:\n  collector:\n    submitter_ttl: \"-1m\"\n",
			errPart: "submitter_ttl",
		},
		{
			name:    "Sink",
			content: "packet-eater:\n  collector:\n    sink: \"s3\"\n",
			errPart: "collector.sink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error to mention %q, got %v", tt.errPart, err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	cfg.Submission.BaseURL = "http://10.0.0.5:8080"
	cfg.Queue.DrainTimeout = 750 * time.Millisecond

	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "packet-eater:") {
		t.Errorf("Expected packet-eater root key, got:\n%s", out)
	}

	reloaded, err := Load(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("Reloading marshalled config failed: %v\n%s", err, out)
	}
	if reloaded.Submission.BaseURL != cfg.Submission.BaseURL {
		t.Errorf("Expected base url %s, got %s", cfg.Submission.BaseURL, reloaded.Submission.BaseURL)
	}
	if reloaded.Queue.DrainTimeout != cfg.Queue.DrainTimeout {
		t.Errorf("Expected drain timeout %v, got %v", cfg.Queue.DrainTimeout, reloaded.Queue.DrainTimeout)
	}
}

func TestMarshalNil(t *testing.T) {
	if _, err := Marshal(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}
