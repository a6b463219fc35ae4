// Package config loads the messaging substrate's configuration from the
// environment, with an optional YAML overlay for file-based deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Uh-X3L/agentmq/internal/protocol"
)

// Config is the full configuration surface of the messaging substrate.
type Config struct {
	Redis  RedisConfig  `yaml:"redis"`
	Queue  QueueConfig  `yaml:"queue"`
	Batch  BatchConfig  `yaml:"batch"`
	Health HealthConfig `yaml:"health"`
}

// RedisConfig locates the primary backing store.
type RedisConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	MaxConnections int    `yaml:"max_connections"`
}

// Addr returns the host:port dial address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig tunes queue bookkeeping.
type QueueConfig struct {
	// DefaultTTL is applied to queue keys on every push. Set from the
	// default_ttl_s file key; yaml would otherwise read a bare integer
	// as nanoseconds.
	DefaultTTL time.Duration `yaml:"-"`
	// PriorityThreshold is the highest ordinal still routed to the
	// priority lane (ordinals at or below it are priority traffic).
	PriorityThreshold protocol.Priority `yaml:"priority_threshold"`
	// MaxRetries is the default retry ceiling for new messages.
	MaxRetries int `yaml:"max_retries"`
	// EnableCompression gzips stored records.
	EnableCompression bool `yaml:"enable_compression"`
}

// BatchConfig tunes the batching layer.
type BatchConfig struct {
	// EnableBatching groups outbound messages per destination.
	EnableBatching bool `yaml:"enable_batching"`
	// BatchSize is the flush threshold for the background batcher.
	BatchSize int `yaml:"batch_size"`
	// BatchTimeout flushes a partial batch after this long. Set from the
	// batch_timeout_ms file key.
	BatchTimeout time.Duration `yaml:"-"`
}

// HealthConfig tunes the store liveness probe.
type HealthConfig struct {
	// CheckInterval throttles pings; between probes the cached verdict
	// is reused. Set from the check_interval_s file key.
	CheckInterval time.Duration `yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Host:           "localhost",
			Port:           6379,
			MaxConnections: 20,
		},
		Queue: QueueConfig{
			DefaultTTL:        time.Hour,
			PriorityThreshold: protocol.PriorityHigh,
			MaxRetries:        3,
		},
		Batch: BatchConfig{
			EnableBatching: true,
			BatchSize:      10,
			BatchTimeout:   time.Second,
		},
		Health: HealthConfig{
			CheckInterval: 30 * time.Second,
		},
	}
}

// Load builds the configuration from the environment on top of defaults.
func Load() *Config {
	cfg := Default()

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.MaxConnections = getEnvInt("REDIS_MAX_CONNECTIONS", cfg.Redis.MaxConnections)

	cfg.Queue.DefaultTTL = getEnvSeconds("QUEUE_DEFAULT_TTL_S", cfg.Queue.DefaultTTL)
	cfg.Queue.PriorityThreshold = protocol.Priority(getEnvInt("QUEUE_PRIORITY_THRESHOLD", int(cfg.Queue.PriorityThreshold)))
	cfg.Queue.MaxRetries = getEnvInt("QUEUE_MAX_RETRIES", cfg.Queue.MaxRetries)
	cfg.Queue.EnableCompression = getEnvBool("QUEUE_ENABLE_COMPRESSION", cfg.Queue.EnableCompression)

	cfg.Batch.EnableBatching = getEnvBool("QUEUE_ENABLE_BATCHING", cfg.Batch.EnableBatching)
	cfg.Batch.BatchSize = getEnvInt("QUEUE_BATCH_SIZE", cfg.Batch.BatchSize)
	cfg.Batch.BatchTimeout = getEnvMillis("QUEUE_BATCH_TIMEOUT_MS", cfg.Batch.BatchTimeout)

	cfg.Health.CheckInterval = getEnvSeconds("HEALTH_CHECK_INTERVAL_S", cfg.Health.CheckInterval)

	return cfg
}

// fileDurations carries the unit-suffixed duration keys of the YAML
// schema. They mirror the environment variables; plain time.Duration
// fields would decode a bare YAML integer as nanoseconds.
type fileDurations struct {
	Queue struct {
		DefaultTTLSeconds *int `yaml:"default_ttl_s"`
	} `yaml:"queue"`
	Batch struct {
		BatchTimeoutMillis *int `yaml:"batch_timeout_ms"`
	} `yaml:"batch"`
	Health struct {
		CheckIntervalSeconds *int `yaml:"check_interval_s"`
	} `yaml:"health"`
}

// LoadFile overlays a YAML file on top of the environment configuration.
// Durations in the file use the same units as their environment
// counterparts: default_ttl_s, batch_timeout_ms, check_interval_s.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	var d fileDurations
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if d.Queue.DefaultTTLSeconds != nil {
		cfg.Queue.DefaultTTL = time.Duration(*d.Queue.DefaultTTLSeconds) * time.Second
	}
	if d.Batch.BatchTimeoutMillis != nil {
		cfg.Batch.BatchTimeout = time.Duration(*d.Batch.BatchTimeoutMillis) * time.Millisecond
	}
	if d.Health.CheckIntervalSeconds != nil {
		cfg.Health.CheckInterval = time.Duration(*d.Health.CheckIntervalSeconds) * time.Second
	}
	return cfg, nil
}

// Validate rejects malformed configuration. This is the only place the
// messaging substrate fails synchronously.
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("invalid config: redis host must not be empty")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid config: redis port %d out of range", c.Redis.Port)
	}
	if c.Redis.MaxConnections <= 0 {
		return fmt.Errorf("invalid config: max_connections must be positive")
	}
	if c.Queue.DefaultTTL <= 0 {
		return fmt.Errorf("invalid config: default_ttl must be positive")
	}
	if !c.Queue.PriorityThreshold.IsValid() {
		return fmt.Errorf("invalid config: priority_threshold %d out of range", c.Queue.PriorityThreshold)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("invalid config: max_retries must not be negative")
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("invalid config: batch_size must be positive")
	}
	if c.Batch.BatchTimeout <= 0 {
		return fmt.Errorf("invalid config: batch_timeout must be positive")
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("invalid config: health check_interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
