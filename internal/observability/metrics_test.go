package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordRun("short_put", RunCompleted, 1.5, 1700000000)
	m.RecordRun("short_put", RunFailed, 0.1, 0)
	m.RecordDates("short_put", 62)
	m.RecordTradeOpened("short_put")
	m.RecordTradeClosed("short_put", "CLOSED_EXPIRY", 120)
	m.RecordDataGap(GapDate)
	m.RecordDataGap(GapTrade)
	m.RecordDataGap(GapTrade)
	m.SetSweepPending(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("short_put", RunCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("short_put", RunFailed)))
	assert.Equal(t, 62.0, testutil.ToFloat64(m.DatesProcessed.WithLabelValues("short_put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesOpened.WithLabelValues("short_put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("short_put", "CLOSED_EXPIRY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataGaps.WithLabelValues(GapDate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DataGaps.WithLabelValues(GapTrade)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepPending))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccessfulRun), "only completed runs move the timestamp")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("short_put", RunCompleted, 1, 1)
		m.RecordDates("short_put", 1)
		m.RecordTradeOpened("short_put")
		m.RecordTradeClosed("short_put", "CLOSED_PROFIT", 1)
		m.RecordDataGap(GapDate)
		m.SetSweepPending(1)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("", nil)
	b := NewMetrics("", nil)
	a.RecordTradeOpened("short_put")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TradesOpened.WithLabelValues("short_put")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordTradeOpened("short_straddle")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_simulation_trades_opened_total{variant="short_straddle"} 1`)
}
