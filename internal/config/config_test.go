package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
storage:
  backend: gcs
  bucket_prefix: digest-
staging:
  backend: redis
  addr: redis:6379
  db: 2
  ttl_seconds: 3600
queues:
  fetch: 8
  summarize: 3
  translate: 3
  illustrate: 1
headless:
  enabled: true
  max_parallel: 4
  nav_timeout_seconds: 40
poll:
  max_attempts: 10
  interval_ms: 250
pubsub:
  project_id: proj
  topic_name: digest-events
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, StorageGCS, cfg.Storage.Backend)
	require.Equal(t, "digest-", cfg.Storage.BucketPrefix)
	require.Equal(t, StagingRedis, cfg.Staging.Backend)
	require.Equal(t, 2, cfg.Staging.DB)
	require.Equal(t, time.Hour, cfg.StagingTTL())
	require.Equal(t, 8, cfg.Queues.Fetch)
	require.Equal(t, 40*time.Second, cfg.NavigationTimeout())
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	require.Equal(t, "digest-events", cfg.PubSub.TopicName)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, StorageLocal, cfg.Storage.Backend)
	require.Equal(t, StagingMemory, cfg.Staging.Backend)
	require.Equal(t, 24*time.Hour, cfg.StagingTTL())
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	require.Equal(t, "cl100k_base", cfg.AI.Encoding)
	require.Equal(t, "flush_runs", cfg.Database.Table)
	require.Equal(t, 30, cfg.Poll.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENRICHER_SERVER_PORT", "7070")
	t.Setenv("ENRICHER_QUEUES_FETCH", "16")
	t.Setenv("OPENAI_API_KEY", "sk-from-openai-env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 16, cfg.Queues.Fetch)
	require.Equal(t, "sk-from-openai-env", cfg.AI.APIKey)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ENRICHER_STAGING_TTL_SECONDS=60\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("ENRICHER_STAGING_TTL_SECONDS") })

	cfg, err := Load("", filepath.Join(t.TempDir(), "absent.env"), envFile)
	require.NoError(t, err)
	require.Equal(t, time.Minute, cfg.StagingTTL())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }, "auth.api_key"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"local without dir", func(c *Config) { c.Storage.Local.BaseDir = "" }, "storage.local.base_dir"},
		{"unknown staging", func(c *Config) { c.Staging.Backend = "etcd" }, "staging.backend"},
		{"redis without addr", func(c *Config) { c.Staging.Backend = StagingRedis; c.Staging.Addr = "" }, "staging.addr"},
		{"zero ttl", func(c *Config) { c.Staging.TTLSeconds = 0 }, "staging.ttl_seconds"},
		{"zero queue", func(c *Config) { c.Queues.Translate = 0 }, "queue concurrency"},
		{"headless missing max parallel", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"zero token budget", func(c *Config) { c.AI.MaxInputTokens = 0 }, "ai.max_input_tokens"},
		{"zero poll", func(c *Config) { c.Poll.IntervalMs = 0 }, "poll."},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "p"; c.PubSub.TopicName = "" }, "pubsub."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
