package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tracking server
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	CORS     CORSConfig     `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	BaseURL string `yaml:"base_url"` // public address used in tracking links
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// StoreConfig holds the SQLite store settings
type StoreConfig struct {
	Path              string `yaml:"path"`
	WriteTimeoutMS    int    `yaml:"write_timeout_ms"`
	BusyTimeoutMS     int    `yaml:"busy_timeout_ms"`
	MaxReaders        int    `yaml:"max_readers"`
	RetryAfterSeconds int    `yaml:"retry_after_seconds"`
}

// WriteTimeout bounds how long a writer waits for the write slot.
func (c StoreConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// BusyTimeout is SQLite's own lock wait.
func (c StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// RetryAfter is the hint sent to clients when the store is busy.
func (c StoreConfig) RetryAfter() time.Duration {
	return time.Duration(c.RetryAfterSeconds) * time.Second
}

// RedisConfig holds the optional summary cache settings. An empty URL
// disables caching.
type RedisConfig struct {
	URL        string `yaml:"url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the summary cache expiry.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SnapshotConfig holds periodic store backup settings
type SnapshotConfig struct {
	Enabled         bool   `yaml:"enabled"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	AWSProfile      string `yaml:"aws_profile"` // Empty string uses default credential chain
	Prefix          string `yaml:"prefix"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// Interval returns the snapshot period as a duration
func (c SnapshotConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c SnapshotConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LoggingConfig holds structured logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether recipient addresses are masked in logs. On unless
// explicitly disabled.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// CORSConfig lists origins allowed to call the dashboard API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/tracking.db"
	}
	if cfg.Store.WriteTimeoutMS == 0 {
		cfg.Store.WriteTimeoutMS = 5000
	}
	if cfg.Store.BusyTimeoutMS == 0 {
		cfg.Store.BusyTimeoutMS = 5000
	}
	if cfg.Store.MaxReaders == 0 {
		cfg.Store.MaxReaders = 4
	}
	if cfg.Store.RetryAfterSeconds == 0 {
		cfg.Store.RetryAfterSeconds = 1
	}
	if cfg.Redis.TTLSeconds == 0 {
		cfg.Redis.TTLSeconds = 60
	}
	if cfg.Snapshot.IntervalMinutes == 0 {
		cfg.Snapshot.IntervalMinutes = 60
	}
	if cfg.Snapshot.Prefix == "" {
		cfg.Snapshot.Prefix = "tracking-snapshots/"
	}
	if cfg.Snapshot.S3Region == "" {
		cfg.Snapshot.S3Region = "us-west-2"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.Path = strings.TrimPrefix(v, "sqlite:")
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SNAPSHOT_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3Bucket = v
		cfg.Snapshot.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = strings.Split(v, ",")
	}

	return cfg, nil
}
