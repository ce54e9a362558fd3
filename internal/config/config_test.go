package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/recorder"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "backtest.db", cfg.Storage.SQLitePath)
	assert.Equal(t, SourceSQLite, cfg.Market.Source)
	assert.Equal(t, recorder.PolicyRerun, cfg.RecorderPolicy())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, uint32(5), cfg.BreakerSettings().ConsecutiveFailures)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OBL_STORAGE_BACKEND", "memory")
	t.Setenv("OBL_MARKET_SOURCE", "synthetic")
	t.Setenv("OBL_MARKET_BREAKER_TIMEOUT", "3s")
	t.Setenv("OBL_SWEEP_PARALLELISM", "6")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, SourceSynthetic, cfg.Market.Source)
	assert.Equal(t, 3*time.Second, cfg.Market.BreakerTimeout)
	assert.Equal(t, 6, cfg.Sweep.Parallelism)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	doc := `
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/backtest
market:
  source: clickhouse
  clickhouse_dsn: clickhouse://localhost:9000/market
recorder:
  policy: reuse
metrics:
  addr: ":9102"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/backtest", cfg.Storage.PostgresDSN)
	assert.Equal(t, SourceClickHouse, cfg.Market.Source)
	assert.Equal(t, recorder.PolicyReuse, cfg.RecorderPolicy())
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OBL_RECORDER_POLICY=reuse\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OBL_RECORDER_POLICY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, recorder.PolicyReuse, cfg.RecorderPolicy())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	require.ErrorIs(t, err, apperr.ErrConfig)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:  StorageConfig{Backend: BackendMemory},
			Market:   MarketConfig{Source: SourceSynthetic, BreakerFailures: 3, BreakerTimeout: time.Second},
			Recorder: RecorderConfig{Policy: "rerun"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"storage.backend", func(c *Config) { c.Storage.Backend = "mongo" }},
		{"storage.sqlite_path", func(c *Config) { c.Storage.Backend = BackendSQLite }},
		{"storage.postgres_dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"market.source", func(c *Config) { c.Market.Source = "csv" }},
		{"market.clickhouse_dsn", func(c *Config) { c.Market.Source = SourceClickHouse }},
		{"market.breaker_failures", func(c *Config) { c.Market.BreakerFailures = 0 }},
		{"market.breaker_timeout", func(c *Config) { c.Market.BreakerTimeout = 0 }},
		{"recorder.policy", func(c *Config) { c.Recorder.Policy = "sometimes" }},
		{"sweep.parallelism", func(c *Config) { c.Sweep.Parallelism = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ce *apperr.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}
