// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric when no namespace is configured.
const DefaultNamespace = "options_backtest_lab"

// Run outcome label values.
const (
	RunCompleted = "completed"
	RunReused    = "reused"
	RunFailed    = "failed"
)

// Data gap label values.
const (
	GapDate  = "date"
	GapTrade = "trade"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	SweepPending prometheus.Gauge

	// Simulation metrics
	DatesProcessed *prometheus.CounterVec
	TradesOpened   *prometheus.CounterVec
	TradesClosed   *prometheus.CounterVec
	DataGaps       *prometheus.CounterVec
	RealizedPnL    *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with a fresh private registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of backtest runs by variant and outcome",
		}, []string{"variant", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"variant"}),
		SweepPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "pending_runs",
			Help:      "Number of sweep runs not yet finished",
		}),

		DatesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "dates_processed_total",
			Help:      "Total number of calendar dates simulated",
		}, []string{"variant"}),
		TradesOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "trades_opened_total",
			Help:      "Total number of trades opened",
		}, []string{"variant"}),
		TradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "trades_closed_total",
			Help:      "Total number of trades closed by status",
		}, []string{"variant", "status"}),
		DataGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "data_gaps_total",
			Help:      "Total number of data gaps by scope",
		}, []string{"scope"}),
		RealizedPnL: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "realized_pnl",
			Help:      "Realized P&L of closed trades",
			Buckets:   []float64{-5000, -1000, -500, -100, 0, 100, 500, 1000, 5000},
		}, []string{"variant"}),

		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last completed run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint serving g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(variant, outcome string, durationSeconds float64, finishedUnix int64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(variant, outcome).Inc()
	m.RunDuration.WithLabelValues(variant).Observe(durationSeconds)
	if outcome == RunCompleted {
		m.LastSuccessfulRun.Set(float64(finishedUnix))
	}
}

// RecordDates adds simulated dates.
func (m *Metrics) RecordDates(variant string, n int) {
	if m == nil {
		return
	}
	m.DatesProcessed.WithLabelValues(variant).Add(float64(n))
}

// RecordTradeOpened increments the opened trades counter.
func (m *Metrics) RecordTradeOpened(variant string) {
	if m == nil {
		return
	}
	m.TradesOpened.WithLabelValues(variant).Inc()
}

// RecordTradeClosed increments the closed trades counter and observes pnl.
func (m *Metrics) RecordTradeClosed(variant, status string, pnl float64) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(variant, status).Inc()
	m.RealizedPnL.WithLabelValues(variant).Observe(pnl)
}

// RecordDataGap increments the data gap counter for scope (GapDate or GapTrade).
func (m *Metrics) RecordDataGap(scope string) {
	if m == nil {
		return
	}
	m.DataGaps.WithLabelValues(scope).Inc()
}

// SetSweepPending sets the number of unfinished sweep runs.
func (m *Metrics) SetSweepPending(n int) {
	if m == nil {
		return
	}
	m.SweepPending.Set(float64(n))
}
