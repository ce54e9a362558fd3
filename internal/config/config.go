// Package config provides configuration management for the backtest binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/logging"
	"options-backtest-lab/internal/marketdata"
	"options-backtest-lab/internal/recorder"
)

// EnvPrefix prefixes every environment override, e.g. OBL_STORAGE_BACKEND.
const EnvPrefix = "OBL"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Market sources.
const (
	SourceSQLite     = "sqlite"
	SourceClickHouse = "clickhouse"
	SourceSynthetic  = "synthetic"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Market   MarketConfig   `mapstructure:"market"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	JSON       bool   `mapstructure:"json"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// StorageConfig selects where runs and ledgers are recorded.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // memory, sqlite, postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// ClickHouseDSN, when set, stores run summaries in ClickHouse.
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

// MarketConfig selects the option chain source.
type MarketConfig struct {
	Source          string        `mapstructure:"source"` // sqlite, clickhouse, synthetic
	SQLitePath      string        `mapstructure:"sqlite_path"`
	ClickHouseDSN   string        `mapstructure:"clickhouse_dsn"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"` // empty disables the /metrics server
}

// RecorderConfig holds run registration settings.
type RecorderConfig struct {
	Policy string `mapstructure:"policy"` // rerun, reuse
}

// SweepConfig holds parallel execution settings.
type SweepConfig struct {
	Parallelism int  `mapstructure:"parallelism"`
	FailFast    bool `mapstructure:"fail_fast"`
}

func setDefaults(v *viper.Viper) {
	def := logging.DefaultLogConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.console", def.Console)
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", def.File)
	v.SetDefault("log.file_path", def.FilePath)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age", def.MaxAge)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "backtest.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	breaker := marketdata.DefaultBreakerSettings()
	v.SetDefault("market.source", SourceSQLite)
	v.SetDefault("market.sqlite_path", "options.db")
	v.SetDefault("market.clickhouse_dsn", "")
	v.SetDefault("market.breaker_failures", breaker.ConsecutiveFailures)
	v.SetDefault("market.breaker_timeout", breaker.Timeout)

	v.SetDefault("metrics.namespace", "options_backtest_lab")
	v.SetDefault("metrics.addr", "")

	v.SetDefault("recorder.policy", string(recorder.PolicyRerun))

	v.SetDefault("sweep.parallelism", 0)
	v.SetDefault("sweep.fail_fast", false)
}

// Load reads configuration. Priority, highest first: environment (OBL_ prefix,
// including variables from an optional .env file), config file, defaults.
// An empty configFile looks for obl.{yaml,toml,json} in the working directory.
func Load(configFile string) (*Config, error) {
	// .env is optional; existing environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NewConfigError(".env", "", err.Error())
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperr.NewConfigError("config", configFile, fmt.Sprintf("reading config file: %v", err))
		}
	} else {
		v.SetConfigName("obl")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, apperr.NewConfigError("config", "obl", fmt.Sprintf("reading config file: %v", err))
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.NewConfigError("config", "", fmt.Sprintf("decoding config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return apperr.NewConfigError("storage.sqlite_path", "", "required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return apperr.NewConfigError("storage.postgres_dsn", "", "required for the postgres backend")
		}
	default:
		return apperr.NewConfigError("storage.backend", c.Storage.Backend, "must be memory, sqlite or postgres")
	}

	switch c.Market.Source {
	case SourceSynthetic:
	case SourceSQLite:
		if c.Market.SQLitePath == "" {
			return apperr.NewConfigError("market.sqlite_path", "", "required for the sqlite source")
		}
	case SourceClickHouse:
		if c.Market.ClickHouseDSN == "" {
			return apperr.NewConfigError("market.clickhouse_dsn", "", "required for the clickhouse source")
		}
	default:
		return apperr.NewConfigError("market.source", c.Market.Source, "must be sqlite, clickhouse or synthetic")
	}
	if c.Market.BreakerFailures == 0 {
		return apperr.NewConfigError("market.breaker_failures", 0, "must be positive")
	}
	if c.Market.BreakerTimeout <= 0 {
		return apperr.NewConfigError("market.breaker_timeout", c.Market.BreakerTimeout, "must be positive")
	}

	if _, err := recorder.ParsePolicy(c.Recorder.Policy); err != nil {
		return err
	}
	if c.Sweep.Parallelism < 0 {
		return apperr.NewConfigError("sweep.parallelism", c.Sweep.Parallelism, "must not be negative")
	}
	return nil
}

// LogSettings converts the log section for the logging package.
func (c *Config) LogSettings() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Log.Level,
		Console:    c.Log.Console,
		JSON:       c.Log.JSON,
		File:       c.Log.File,
		FilePath:   c.Log.FilePath,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	}
}

// BreakerSettings returns the circuit breaker settings for remote market sources.
func (c *Config) BreakerSettings() marketdata.BreakerSettings {
	s := marketdata.DefaultBreakerSettings()
	s.ConsecutiveFailures = c.Market.BreakerFailures
	s.Timeout = c.Market.BreakerTimeout
	return s
}

// RecorderPolicy returns the parsed registration policy.
func (c *Config) RecorderPolicy() recorder.Policy {
	p, _ := recorder.ParsePolicy(c.Recorder.Policy)
	return p
}
