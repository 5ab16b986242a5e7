// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs for both binaries. Values are
// read from the environment (SERVER_PORT, DB_HOST, BATCH_SIZE, ...) or
// from an optional config file.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP ingress and the worker metrics port.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// QueueConfig governs the worker pool coordinator.
type QueueConfig struct {
	// BatchSize caps how many jobs one claim cycle may take.
	BatchSize int `mapstructure:"batch_size"`
	// MaxConcurrentTasks bounds simultaneously executing scrapes.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	// CheckIntervalSec is the seconds between claim attempts.
	CheckIntervalSec int `mapstructure:"check_interval"`
	// UpdateIntervalSec is the seconds between aggregate-status refreshes.
	UpdateIntervalSec int `mapstructure:"update_interval"`
	// StaleProcessingAfterSec, when positive, requeues processing jobs
	// older than this many seconds. Zero disables the sweep.
	StaleProcessingAfterSec int `mapstructure:"stale_processing_after"`
}

// AuthConfig sets the bootstrap policy for the first-boot default key.
type AuthConfig struct {
	DefaultKeyName        string `mapstructure:"default_api_key_name"`
	DefaultKeyAllowedIPs  string `mapstructure:"default_api_key_allowed_ips"`
	DefaultKeyExpiresDays int    `mapstructure:"default_api_key_expires_days"`
}

// ScraperConfig controls the headless browser collaborator.
type ScraperConfig struct {
	MaxParallel    int    `mapstructure:"max_parallel"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	ScrollAttempts int    `mapstructure:"scroll_attempts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from the environment and an optional file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvAliases(v)

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
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "mapscout")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.max_concurrent_tasks", 2)
	v.SetDefault("queue.check_interval", 10)
	v.SetDefault("queue.update_interval", 30)
	v.SetDefault("queue.stale_processing_after", 0)
	v.SetDefault("auth.default_api_key_name", "default")
	v.SetDefault("auth.default_api_key_expires_days", 365)
	v.SetDefault("scraper.max_parallel", 2)
	v.SetDefault("scraper.nav_timeout_seconds", 60)
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("scraper.scroll_attempts", 5)
	v.SetDefault("logging.development", true)
}

// bindEnvAliases maps the flat legacy env names onto the nested keys so
// deployments keep working without a prefix.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"server.port":                       "SERVER_PORT",
		"server.metrics_port":               "METRICS_PORT",
		"db.host":                           "DB_HOST",
		"db.port":                           "DB_PORT",
		"db.name":                           "DB_NAME",
		"db.user":                           "DB_USER",
		"db.password":                       "DB_PASSWORD",
		"queue.batch_size":                  "BATCH_SIZE",
		"queue.max_concurrent_tasks":        "MAX_CONCURRENT_TASKS",
		"queue.check_interval":              "QUEUE_CHECK_INTERVAL",
		"queue.update_interval":             "QUEUE_UPDATE_INTERVAL",
		"queue.stale_processing_after":      "STALE_PROCESSING_AFTER",
		"auth.default_api_key_name":         "DEFAULT_API_KEY_NAME",
		"auth.default_api_key_allowed_ips":  "DEFAULT_API_KEY_ALLOWED_IPS",
		"auth.default_api_key_expires_days": "DEFAULT_API_KEY_EXPIRES_DAYS",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Host == "" || c.DB.Name == "" || c.DB.User == "" {
		return fmt.Errorf("db.host, db.name and db.user are required")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Queue.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("queue.max_concurrent_tasks must be > 0")
	}
	if c.Queue.CheckIntervalSec <= 0 {
		return fmt.Errorf("queue.check_interval must be > 0")
	}
	if c.Queue.UpdateIntervalSec <= 0 {
		return fmt.Errorf("queue.update_interval must be > 0")
	}
	return nil
}

// CheckInterval returns the claim cycle period.
func (c QueueConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// UpdateInterval returns the aggregate-status refresh period.
func (c QueueConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSec) * time.Second
}

// StaleProcessingAfter returns the stuck-job cutoff, zero when disabled.
func (c QueueConfig) StaleProcessingAfter() time.Duration {
	return time.Duration(c.StaleProcessingAfterSec) * time.Second
}

// NavTimeout returns the browser navigation budget.
func (c ScraperConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// DefaultKeyAllowedIPList splits the comma-separated allowlist.
func (c AuthConfig) DefaultKeyAllowedIPList() []string {
	if strings.TrimSpace(c.DefaultKeyAllowedIPs) == "" {
		return nil
	}
	parts := strings.Split(c.DefaultKeyAllowedIPs, ",")
	ips := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ips = append(ips, trimmed)
		}
	}
	return ips
}
