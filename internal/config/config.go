// Package config loads and validates enricher configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ENRICHER_SERVER_PORT.
const EnvPrefix = "ENRICHER"

// Backend names.
const (
	StorageGCS    = "gcs"
	StorageLocal  = "local"
	StorageMemory = "memory"
	StagingRedis  = "redis"
	StagingMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Queues   QueuesConfig   `mapstructure:"queues"`
	Headless HeadlessConfig `mapstructure:"headless"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	AI       AIConfig       `mapstructure:"ai"`
	Poll     PollConfig     `mapstructure:"poll"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend      string             `mapstructure:"backend"`
	BucketPrefix string             `mapstructure:"bucket_prefix"`
	Local        LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StagingConfig selects the staging store backend.
type StagingConfig struct {
	Backend    string `mapstructure:"backend"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// QueuesConfig sets per-family concurrency. The merge family is always serial.
type QueuesConfig struct {
	Fetch      int `mapstructure:"fetch"`
	Summarize  int `mapstructure:"summarize"`
	Translate  int `mapstructure:"translate"`
	Illustrate int `mapstructure:"illustrate"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// HTTPConfig configures plain downloads.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	UserAgent      string  `mapstructure:"user_agent"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// AIConfig configures the OpenAI collaborators.
type AIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	ImageModel     string  `mapstructure:"image_model"`
	MaxInputTokens int     `mapstructure:"max_input_tokens"`
	Encoding       string  `mapstructure:"encoding"`
	MaxRetries     int     `mapstructure:"max_retries"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// PollConfig bounds staged-key polling.
type PollConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	IntervalMs  int `mapstructure:"interval_ms"`
}

// DatabaseConfig controls the optional flush audit log.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for flush notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from env files, an optional config file and the environment.
// Missing env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ai.api_key", EnvPrefix+"_AI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.bucket_prefix", "")
	v.SetDefault("storage.local.base_dir", "data/objects")
	v.SetDefault("staging.backend", StagingMemory)
	v.SetDefault("staging.addr", "localhost:6379")
	v.SetDefault("staging.password", "")
	v.SetDefault("staging.db", 0)
	v.SetDefault("staging.ttl_seconds", 24*60*60)
	v.SetDefault("queues.fetch", 4)
	v.SetDefault("queues.summarize", 2)
	v.SetDefault("queues.translate", 2)
	v.SetDefault("queues.illustrate", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.user_agent", "digest-enricher/0.1")
	v.SetDefault("http.rps", 2)
	v.SetDefault("http.burst", 2)
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.image_model", "dall-e-3")
	v.SetDefault("ai.max_input_tokens", 6000)
	v.SetDefault("ai.encoding", "cl100k_base")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("ai.rps", 3)
	v.SetDefault("ai.burst", 3)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.interval_ms", 1000)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "flush_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageGCS, StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Staging.Backend {
	case StagingMemory:
	case StagingRedis:
		if c.Staging.Addr == "" {
			return fmt.Errorf("staging.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("staging.backend %q is not supported", c.Staging.Backend)
	}
	if c.Staging.TTLSeconds <= 0 {
		return fmt.Errorf("staging.ttl_seconds must be > 0")
	}
	if c.Queues.Fetch <= 0 || c.Queues.Summarize <= 0 || c.Queues.Translate <= 0 || c.Queues.Illustrate <= 0 {
		return fmt.Errorf("queue concurrency must be > 0 for every family")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.AI.MaxInputTokens <= 0 {
		return fmt.Errorf("ai.max_input_tokens must be > 0")
	}
	if c.Poll.MaxAttempts <= 0 || c.Poll.IntervalMs <= 0 {
		return fmt.Errorf("poll.max_attempts and poll.interval_ms must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// StagingTTL is the lifetime of a staged result.
func (c Config) StagingTTL() time.Duration {
	return time.Duration(c.Staging.TTLSeconds) * time.Second
}

// PollInterval is the delay between staged-key checks.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// HTTPTimeout bounds a single download.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavigationTimeout bounds a headless render.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// AITimeout bounds a single model call.
func (c Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
