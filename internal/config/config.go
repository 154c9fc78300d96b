// Package config loads process configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"metarecord/internal/model"
	"metarecord/pkg/logger"
)

// Drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Model    ModelConfig    `toml:"model"`
	Log      LogConfig      `toml:"log"`
	Audit    AuditConfig    `toml:"audit"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig selects and tunes the default connection.
type DatabaseConfig struct {
	Driver           string   `toml:"driver"`
	DSN              string   `toml:"dsn"`
	ApplicationName  string   `toml:"application_name"`
	MaxConns         int32    `toml:"max_conns"`
	MinConns         int32    `toml:"min_conns"`
	StatementTimeout Duration `toml:"statement_timeout"`
}

// ModelConfig holds the definition defaults of every registered model.
type ModelConfig struct {
	AutoTimestamp   bool   `toml:"auto_timestamp"`
	DatetimeFormat  string `toml:"datetime_format"`
	TimestampType   string `toml:"timestamp_type"`
	DeleteTimeField string `toml:"delete_time_field"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// AuditConfig configures the change recorder.
type AuditConfig struct {
	Enabled           bool `toml:"enabled"`
	CompressThreshold int  `toml:"compress_threshold"`
}

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Duration is a time.Duration written as a Go duration string, e.g. "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:           DriverSQLite,
			DSN:              "metarecord.db",
			ApplicationName:  "metarecord",
			MaxConns:         25,
			MinConns:         2,
			StatementTimeout: Duration(30 * time.Second),
		},
		Model: ModelConfig{
			DatetimeFormat:  model.DefaultDateFormat,
			TimestampType:   string(model.TimestampDatetime),
			DeleteTimeField: "delete_time",
		},
		Log: LogConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			CompressThreshold: 10 * 1024,
		},
		Metrics: MetricsConfig{
			Namespace: "metarecord",
		},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from METARECORD_* environment variables.
func (c *Config) ApplyEnv() {
	c.Database.Driver = getEnv("METARECORD_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("METARECORD_DB_DSN", c.Database.DSN)
	c.Database.MaxConns = int32(getEnvInt("METARECORD_DB_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.StatementTimeout = Duration(getEnvDuration("METARECORD_DB_STATEMENT_TIMEOUT",
		time.Duration(c.Database.StatementTimeout)))

	c.Model.AutoTimestamp = getEnvBool("METARECORD_AUTO_TIMESTAMP", c.Model.AutoTimestamp)
	c.Model.TimestampType = getEnv("METARECORD_TIMESTAMP_TYPE", c.Model.TimestampType)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("LOG_DEVELOPMENT", c.Log.Development)

	c.Audit.Enabled = getEnvBool("METARECORD_AUDIT", c.Audit.Enabled)
	c.Metrics.Enabled = getEnvBool("METARECORD_METRICS", c.Metrics.Enabled)
}

// Validate reports settings no component can work with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	switch model.TimestampType(c.Model.TimestampType) {
	case model.TimestampDatetime, model.TimestampInt, model.TimestampTime:
	default:
		return fmt.Errorf("unknown timestamp type %q", c.Model.TimestampType)
	}
	return nil
}

// ModelDefaults returns the registry defaults.
func (c Config) ModelDefaults() model.Defaults {
	return model.Defaults{
		AutoTimestamp: c.Model.AutoTimestamp,
		TimestampType: model.TimestampType(c.Model.TimestampType),
		DateFormat:    c.Model.DatetimeFormat,
		DeleteTime:    c.Model.DeleteTimeField,
	}
}

// Logger returns the logger configuration.
func (c Config) Logger() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Development: c.Log.Development,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
