// Package config loads engine configuration from YAML with environment
// overrides. A .env file is honored when present so local development does
// not need exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Sender     SenderConfig     `yaml:"sender"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection settings for rate limiting and
// distributed locking. Leaving Addr empty disables both.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// SenderConfig holds the envelope identity for outbound mail.
type SenderConfig struct {
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
	ReplyTo   string `yaml:"reply_to"`
}

// DispatcherConfig tunes the send worker pool.
type DispatcherConfig struct {
	NumWorkers          int `yaml:"num_workers"`
	BatchSize           int `yaml:"batch_size"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
	RetryBaseSeconds    int `yaml:"retry_base_seconds"`
	RetryCapSeconds     int `yaml:"retry_cap_seconds"`
	MaxAttempts         int `yaml:"max_attempts"`
	RateLimitDeferSecs  int `yaml:"rate_limit_defer_seconds"`
}

// PollInterval returns the poll interval as a duration.
func (d DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// SendTimeout returns the per-send timeout as a duration.
func (d DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(d.SendTimeoutSeconds) * time.Second
}

// RetryBase returns the first retry backoff as a duration.
func (d DispatcherConfig) RetryBase() time.Duration {
	return time.Duration(d.RetryBaseSeconds) * time.Second
}

// RetryCap returns the backoff ceiling as a duration.
func (d DispatcherConfig) RetryCap() time.Duration {
	return time.Duration(d.RetryCapSeconds) * time.Second
}

// RateLimitDefer returns how far a rate-limited job is pushed out.
func (d DispatcherConfig) RateLimitDefer() time.Duration {
	return time.Duration(d.RateLimitDeferSecs) * time.Second
}

// RateLimitConfig sizes the global and per-contact token buckets.
type RateLimitConfig struct {
	Enabled             bool    `yaml:"enabled"`
	GlobalCapacity      float64 `yaml:"global_capacity"`
	GlobalRefillPerSec  float64 `yaml:"global_refill_per_sec"`
	ContactCapacity     float64 `yaml:"contact_capacity"`
	ContactRefillPerSec float64 `yaml:"contact_refill_per_sec"`
}

// RecoveryConfig tunes the stuck-job recovery scan.
type RecoveryConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	StaleAgeSeconds int `yaml:"stale_age_seconds"`
}

// Interval returns the scan interval as a duration.
func (r RecoveryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// StaleAge returns the orphaned-claim age as a duration.
func (r RecoveryConfig) StaleAge() time.Duration {
	return time.Duration(r.StaleAgeSeconds) * time.Second
}

// Load reads a YAML config file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Dispatcher.NumWorkers == 0 {
		cfg.Dispatcher.NumWorkers = 4
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 50
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 5
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 10
	}
	if cfg.Dispatcher.RetryBaseSeconds == 0 {
		cfg.Dispatcher.RetryBaseSeconds = 60
	}
	if cfg.Dispatcher.RetryCapSeconds == 0 {
		cfg.Dispatcher.RetryCapSeconds = 3600
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = 3
	}
	if cfg.Dispatcher.RateLimitDeferSecs == 0 {
		cfg.Dispatcher.RateLimitDeferSecs = 30
	}
	if cfg.RateLimit.GlobalCapacity == 0 {
		cfg.RateLimit.GlobalCapacity = 100
	}
	if cfg.RateLimit.GlobalRefillPerSec == 0 {
		cfg.RateLimit.GlobalRefillPerSec = 20
	}
	if cfg.RateLimit.ContactCapacity == 0 {
		cfg.RateLimit.ContactCapacity = 3
	}
	if cfg.RateLimit.ContactRefillPerSec == 0 {
		cfg.RateLimit.ContactRefillPerSec = 1.0 / 60
	}
	if cfg.Recovery.IntervalSeconds == 0 {
		cfg.Recovery.IntervalSeconds = 120
	}
	if cfg.Recovery.StaleAgeSeconds == 0 {
		cfg.Recovery.StaleAgeSeconds = 300
	}

	return &cfg, nil
}

// LoadFromEnv loads the YAML config and applies environment overrides. A
// .env file is read first when present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if from := os.Getenv("SENDER_FROM_EMAIL"); from != "" {
		cfg.Sender.FromEmail = from
	}

	return cfg, nil
}
