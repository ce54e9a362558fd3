package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"options-backtest-lab/internal/domain"
)

// RunInfo carries the calendar facts of a run that trades alone do not hold.
type RunInfo struct {
	TradingDates int
	FirstDate    *time.Time
	LastDate     *time.Time
	DataGapDates int
}

// Summarize computes the summary of a run from its trades.
// Closed trades are ordered by CloseDate ASC, Seq ASC before computing
// order-dependent metrics (MaxDrawdown, MaxConsecutiveLosses). Open trades
// count towards TotalTrades and PremiumCollected only.
func Summarize(trades []*domain.Trade, info RunInfo) *domain.RunSummary {
	sum := &domain.RunSummary{
		TradingDates: info.TradingDates,
		FirstDate:    info.FirstDate,
		LastDate:     info.LastDate,
		DataGapDates: info.DataGapDates,
		TotalTrades:  len(trades),
	}

	premium := decimal.Zero
	var closed []*domain.Trade
	for _, t := range trades {
		premium = premium.Add(decimal.NewFromFloat(t.EntryValue))
		if t.DataGap {
			sum.DataGapTrades++
		}
		if t.Status.IsClosed() && t.CloseDate != nil {
			closed = append(closed, t)
		}
		switch t.Status {
		case domain.StatusClosedProfit:
			sum.ClosedProfit++
		case domain.StatusClosedStopLoss:
			sum.ClosedStopLoss++
		case domain.StatusClosedForceTime:
			sum.ClosedForceTime++
		case domain.StatusClosedExpiry:
			sum.ClosedExpiry++
		case domain.StatusClosedEndOfData:
			sum.ClosedEndOfData++
		}
	}
	sum.PremiumCollected = premium.Round(2).InexactFloat64()

	n := len(closed)
	if n == 0 {
		return sum
	}

	// Sort closed trades deterministically by CloseDate ASC, Seq ASC
	sort.Slice(closed, func(i, j int) bool {
		if !closed[i].CloseDate.Equal(*closed[j].CloseDate) {
			return closed[i].CloseDate.Before(*closed[j].CloseDate)
		}
		return closed[i].Seq < closed[j].Seq
	})

	pnls := make([]float64, n)
	total := decimal.Zero
	for i, t := range closed {
		pnls[i] = t.RealizedPnL
		total = total.Add(decimal.NewFromFloat(t.RealizedPnL))
		if t.RealizedPnL > 0 {
			sum.Wins++
		} else {
			sum.Losses++
		}
	}

	sorted := make([]float64, n)
	copy(sorted, pnls)
	sort.Float64s(sorted)

	mean := computeMean(pnls)

	sum.WinRate = computeWinRate(sum.Wins, n)
	sum.TotalPnL = total.Round(2).InexactFloat64()
	sum.MeanPnL = mean
	sum.MedianPnL = computePercentile(sorted, 0.50)
	sum.P10PnL = computePercentile(sorted, 0.10)
	sum.P90PnL = computePercentile(sorted, 0.90)
	sum.MinPnL = sorted[0]
	sum.MaxPnL = sorted[n-1]
	sum.StddevPnL = computeStddev(pnls, mean)
	sum.MaxDrawdown = computeMaxDrawdown(pnls)
	sum.MaxConsecutiveLosses = computeMaxConsecutiveLosses(pnls)
	return sum
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC; p is a fraction (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown calculates worst peak-to-trough of cumulative P&L.
// Values must be in chronological order.
func computeMaxDrawdown(pnls []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, p := range pnls {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds longest streak of P&L <= 0.
// Values must be in chronological order.
func computeMaxConsecutiveLosses(pnls []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, p := range pnls {
		if p <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}
