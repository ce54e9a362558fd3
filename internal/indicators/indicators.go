// Package indicators computes the underlying-series indicators used by entry gates.
package indicators

import (
	"errors"
	"math"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
)

// TradingDaysPerYear annualizes daily volatility.
const TradingDaysPerYear = 252

// RSI returns Wilder's Relative Strength Index for every close. Values before
// index period are zero. The first average is a simple mean of the first period
// changes, later averages use Wilder smoothing.
func RSI(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(closes) < period+1 {
		return nil, ErrInsufficientData
	}

	n := len(closes)
	result := make([]float64, n)
	gains := make([]float64, n)
	losses := make([]float64, n)

	for i := 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := mean(gains[1 : period+1])
	avgLoss := mean(losses[1 : period+1])
	result[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result[i] = rsiValue(avgGain, avgLoss)
	}

	return result, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// RealizedVolatility returns the annualized sample standard deviation of the
// last window daily log returns of closes.
func RealizedVolatility(closes []float64, window int) (float64, error) {
	if window < 2 {
		return 0, ErrInvalidPeriod
	}
	if len(closes) < window+1 {
		return 0, ErrInsufficientData
	}

	tail := closes[len(closes)-window-1:]
	returns := make([]float64, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			return 0, ErrInsufficientData
		}
		returns[i-1] = math.Log(tail[i] / tail[i-1])
	}

	m := mean(returns)
	sumSq := 0.0
	for _, r := range returns {
		d := r - m
		sumSq += d * d
	}
	daily := math.Sqrt(sumSq / float64(window-1))
	return daily * math.Sqrt(TradingDaysPerYear), nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
