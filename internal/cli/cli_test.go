package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/reporting"
)

// isolate runs the command in an empty working directory with quiet logs.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OBL_LOG_LEVEL", "error")
	return dir
}

func useMemory(t *testing.T) {
	t.Helper()
	t.Setenv("OBL_STORAGE_BACKEND", "memory")
	t.Setenv("OBL_MARKET_SOURCE", "synthetic")
}

func useSQLite(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("OBL_STORAGE_BACKEND", "sqlite")
	t.Setenv("OBL_STORAGE_SQLITE_PATH", filepath.Join(dir, "backtest.db"))
	t.Setenv("OBL_MARKET_SOURCE", "sqlite")
	t.Setenv("OBL_MARKET_SQLITE_PATH", filepath.Join(dir, "options.db"))
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	code := Execute(context.Background(), cmd, args)
	if code != apperr.ExitOK {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), code
}

func TestRun_JSON(t *testing.T) {
	isolate(t)
	useMemory(t)

	out, code := execute(t, NewRootCmd(), "run", "--variant", "short_put", "--dte", "30", "--max-open-trades", "1", "--json")
	require.Equal(t, apperr.ExitOK, code)

	var view runView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.True(t, strings.HasPrefix(view.StorageKey, "sp_"), view.StorageKey)
	assert.Equal(t, "variant=short_put,dte=30,max-open-trades=1", view.RawConfig)
	assert.False(t, view.Reused)
	require.NotNil(t, view.Summary)
	assert.Equal(t, 2, view.Summary.TotalTrades)
}

func TestRun_Text(t *testing.T) {
	isolate(t)
	useMemory(t)

	out, code := execute(t, NewRootCmd(), "run", "--variant", "short_straddle", "--dte", "45", "--max-open-trades", "1")
	require.Equal(t, apperr.ExitOK, code)
	assert.Contains(t, out, "ss_")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Total P&L:")
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown variant", []string{"run", "--variant", "iron_condor"}, apperr.ExitConfig},
		{"invalid threshold", []string{"run", "--variant", "short_put", "--stop-loss", "-5"}, apperr.ExitConfig},
		{"explicit zero dte", []string{"run", "--variant", "short_put", "--dte", "0"}, apperr.ExitConfig},
		{"inverted range", []string{"run", "--variant", "short_put", "--start-date", "2020-03-01", "--end-date", "2020-02-01"}, apperr.ExitConfig},
		{"empty range still succeeds", []string{"run", "--variant", "short_put", "--start-date", "2021-01-01"}, apperr.ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			useMemory(t)
			_, code := execute(t, NewRootCmd(), tt.args...)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestRun_NoMarketData(t *testing.T) {
	dir := isolate(t)
	useSQLite(t, dir)

	_, code := execute(t, NewRootCmd(), "run", "--variant", "short_put")
	assert.Equal(t, apperr.ExitData, code)
}

func TestRun_InvalidConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "obl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: oracle\n"), 0o644))

	_, code := execute(t, NewRootCmd(), "--config", path, "run", "--variant", "short_put")
	assert.Equal(t, apperr.ExitConfig, code)
}

func TestSweep(t *testing.T) {
	dir := isolate(t)
	useMemory(t)

	path := filepath.Join(dir, "sweep.yaml")
	doc := `
parallelism: 2
base:
  variant: short_put
  max-open-trades: 1
runs:
  - name: dte30
    dte: 30
  - name: straddle
    variant: short_straddle
    dte: 45
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, code := execute(t, NewRootCmd(), "sweep", path, "--json")
	require.Equal(t, apperr.ExitOK, code)

	var views []runView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "dte30", views[0].Name)
	assert.Equal(t, "straddle", views[1].Name)
	for _, v := range views {
		assert.Empty(t, v.Error)
		require.NotNil(t, v.Summary)
		assert.Equal(t, 2, v.Summary.TotalTrades)
	}
	assert.NotEqual(t, views[0].StorageKey, views[1].StorageKey)
}

func TestSweep_FailedRunFailsCommand(t *testing.T) {
	dir := isolate(t)
	useSQLite(t, dir)

	path := filepath.Join(dir, "sweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runs:\n  - variant: short_put\n"), 0o644))

	out, code := execute(t, NewRootCmd(), "sweep", path)
	assert.Equal(t, apperr.ExitData, code, "no quotes were seeded")
	assert.Contains(t, out, "1 of 1 runs failed")
}

func TestSeedRunShowReport(t *testing.T) {
	dir := isolate(t)
	useSQLite(t, dir)

	_, code := execute(t, NewRootCmd(), "seed", "--end", "2020-02-28")
	require.Equal(t, apperr.ExitOK, code)

	out, code := execute(t, NewRootCmd(), "run", "--variant", "short_put", "--max-open-trades", "1", "--json")
	require.Equal(t, apperr.ExitOK, code)
	var view runView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.NotNil(t, view.Summary)
	assert.Positive(t, view.Summary.TotalTrades)

	// The ledger outlives the process that wrote it.
	out, code = execute(t, NewRootCmd(), "runs", "--variant", "short_put", "--json")
	require.Equal(t, apperr.ExitOK, code)
	var rows []reporting.IndexRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, view.StorageKey, rows[0].StorageKey)
	assert.True(t, rows[0].Complete)

	out, code = execute(t, NewRootCmd(), "show", view.StorageKey, "--trades")
	require.Equal(t, apperr.ExitOK, code)
	assert.Contains(t, out, view.StorageKey)
	assert.Contains(t, out, "SEQ")

	reportPath := filepath.Join(dir, "reports", "run.md")
	_, code = execute(t, NewReportCmd(), "--storage-key", view.StorageKey, "--out", reportPath)
	require.Equal(t, apperr.ExitOK, code)
	md, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), view.StorageKey)

	csvOut, code := execute(t, NewReportCmd(), "--storage-key", view.StorageKey, "--format", "csv")
	require.Equal(t, apperr.ExitOK, code)
	assert.Len(t, strings.Split(strings.TrimSpace(csvOut), "\n"), view.Summary.TotalTrades+1)
}

func TestShow_UnknownRun(t *testing.T) {
	isolate(t)
	useMemory(t)

	_, code := execute(t, NewRootCmd(), "show", "sp_missing")
	assert.Equal(t, apperr.ExitFailure, code)
}

func TestRuns_Empty(t *testing.T) {
	isolate(t)
	useMemory(t)

	out, code := execute(t, NewRootCmd(), "runs")
	require.Equal(t, apperr.ExitOK, code)
	assert.Contains(t, out, "no runs recorded")
}

func TestReport_RejectsFormat(t *testing.T) {
	isolate(t)
	useMemory(t)

	_, code := execute(t, NewReportCmd(), "--storage-key", "sp_x", "--format", "pdf")
	assert.Equal(t, apperr.ExitConfig, code)
}

func TestSeed_RequiresWritableSource(t *testing.T) {
	isolate(t)
	useMemory(t)

	_, code := execute(t, NewRootCmd(), "seed")
	assert.Equal(t, apperr.ExitConfig, code)
}

func TestStrategyFromFlags_OptionalThresholds(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addStrategyFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--variant", "short_straddle_staggered_entry",
		"--profit-take", "50",
		"--trade-delay-days", "7",
	}))

	cfg, raw, err := strategyFromFlags(cmd)
	require.NoError(t, err)
	assert.True(t, cfg.Staggered, "legacy variant name implies staggered")
	require.NotNil(t, cfg.ProfitTake)
	assert.Equal(t, 50.0, *cfg.ProfitTake)
	assert.Nil(t, cfg.StopLoss)
	assert.Nil(t, cfg.RSILow)
	require.NotNil(t, cfg.TradeDelayDays)
	assert.Equal(t, 7, *cfg.TradeDelayDays)
	assert.Equal(t, "variant=short_straddle_staggered_entry,profit-take=50,trade-delay-days=7", raw)
}
