package marketdata

import (
	"context"
	"math"
	"time"

	"options-backtest-lab/internal/domain"
)

// ExpirySchedule selects how a synthetic chain lists expiries.
type ExpirySchedule string

const (
	// ExpiryMonthly lists the third Friday of every month.
	ExpiryMonthly ExpirySchedule = "monthly"
	// ExpiryBiweekly lists every second Friday counted from the anchor.
	ExpiryBiweekly ExpirySchedule = "biweekly"
)

// SyntheticConfig parameterizes a generated option chain.
type SyntheticConfig struct {
	Start    time.Time
	End      time.Time
	Schedule ExpirySchedule
	Anchor   time.Time // first biweekly expiry

	Spot        float64 // centre of the underlying path
	Amplitude   float64 // sine amplitude of the underlying path
	PeriodDays  int     // sine period in trading days
	Vol         float64 // flat implied volatility
	Rate        float64
	StrikeStep  float64
	StrikeRange float64 // listed strikes cover spot * (1 +- StrikeRange)
	MaxDTE      int     // expiries further out are not listed
	Spread      float64 // half spread around the model price
	HistoryDays int     // weekdays of underlying history before Start

	// GapDates stay in the calendar but have no snapshot.
	GapDates []time.Time
}

// DefaultSyntheticConfig returns a chain resembling an equity index in early 2020.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Start:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2020, 3, 30, 0, 0, 0, 0, time.UTC),
		Schedule:    ExpiryMonthly,
		Anchor:      time.Date(2020, 1, 17, 0, 0, 0, 0, time.UTC),
		Spot:        3250,
		Amplitude:   120,
		PeriodDays:  40,
		Vol:         0.18,
		Rate:        0,
		StrikeStep:  25,
		StrikeRange: 0.25,
		MaxDTE:      120,
		Spread:      0.05,
		HistoryDays: 60,
	}
}

// Synthetic generates weekday snapshots from a Black-Scholes model on a
// deterministic underlying path. Snapshots are built on demand.
type Synthetic struct {
	cfg      SyntheticConfig
	dates    []time.Time
	history  []time.Time
	index    map[int64]int // date -> position in history+dates
	expiries []time.Time
	gaps     map[int64]bool
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	s := &Synthetic{
		cfg:   cfg,
		index: make(map[int64]int),
		gaps:  make(map[int64]bool),
	}

	start := domain.Day(cfg.Start)
	end := domain.Day(cfg.End)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if isWeekday(d) {
			s.dates = append(s.dates, d)
		}
	}

	for d := start.AddDate(0, 0, -1); len(s.history) < cfg.HistoryDays; d = d.AddDate(0, 0, -1) {
		if isWeekday(d) {
			s.history = append([]time.Time{d}, s.history...)
		}
	}

	for i, d := range s.history {
		s.index[d.Unix()] = i
	}
	for i, d := range s.dates {
		s.index[d.Unix()] = len(s.history) + i
	}
	for _, g := range cfg.GapDates {
		s.gaps[domain.Day(g).Unix()] = true
	}

	s.expiries = listExpiries(cfg, start, end.AddDate(0, 0, cfg.MaxDTE))
	return s
}

func isWeekday(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

func listExpiries(cfg SyntheticConfig, from, to time.Time) []time.Time {
	var out []time.Time
	switch cfg.Schedule {
	case ExpiryBiweekly:
		d := domain.Day(cfg.Anchor)
		for d.Before(from) {
			d = d.AddDate(0, 0, 14)
		}
		for ; !d.After(to); d = d.AddDate(0, 0, 14) {
			out = append(out, d)
		}
	default:
		for m := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(to); m = m.AddDate(0, 1, 0) {
			d := thirdFriday(m.Year(), m.Month())
			if !d.Before(from) && !d.After(to) {
				out = append(out, d)
			}
		}
	}
	return out
}

func thirdFriday(year int, month time.Month) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 14)
}

// Expiries returns every listed expiry.
func (s *Synthetic) Expiries() []time.Time {
	out := make([]time.Time, len(s.expiries))
	copy(out, s.expiries)
	return out
}

// Spot returns the underlying close of a date, false for dates outside the series.
func (s *Synthetic) Spot(date time.Time) (float64, bool) {
	i, ok := s.index[domain.Day(date).Unix()]
	if !ok {
		return 0, false
	}
	return s.spotAt(i), true
}

func (s *Synthetic) spotAt(i int) float64 {
	period := s.cfg.PeriodDays
	if period <= 0 {
		period = 1
	}
	return s.cfg.Spot + s.cfg.Amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
}

func (s *Synthetic) Dates(ctx context.Context) ([]time.Time, error) {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out, nil
}

func (s *Synthetic) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	day := domain.Day(date)
	i, ok := s.index[day.Unix()]
	if !ok || i < len(s.history) || s.gaps[day.Unix()] {
		return nil, ErrNotFound
	}
	spot := s.spotAt(i)

	lo := math.Floor(spot*(1-s.cfg.StrikeRange)/s.cfg.StrikeStep) * s.cfg.StrikeStep
	hi := math.Ceil(spot*(1+s.cfg.StrikeRange)/s.cfg.StrikeStep) * s.cfg.StrikeStep

	var quotes []domain.OptionQuote
	for _, expiry := range s.expiries {
		dte := domain.DaysBetween(day, expiry)
		if dte < 0 || dte > s.cfg.MaxDTE {
			continue
		}
		years := float64(dte) / 365
		for k := lo; k <= hi; k += s.cfg.StrikeStep {
			for _, typ := range []domain.OptionType{domain.OptionPut, domain.OptionCall} {
				g := blackScholes(typ, spot, k, years, s.cfg.Rate, s.cfg.Vol)
				bid := math.Max(0, g.price-s.cfg.Spread)
				quotes = append(quotes, domain.OptionQuote{
					Expiry: expiry,
					Strike: k,
					Type:   typ,
					Delta:  g.delta,
					Price:  g.price,
					Bid:    bid,
					Ask:    g.price + s.cfg.Spread,
					Gamma:  g.gamma,
					Vega:   g.vega,
					Theta:  g.theta,
					IV:     s.cfg.Vol,
				})
			}
		}
	}
	return domain.NewMarketSnapshot(day, spot, quotes), nil
}

func (s *Synthetic) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	bars := make([]domain.UnderlyingBar, 0, len(s.history)+len(s.dates))
	for i, d := range s.history {
		bars = append(bars, domain.UnderlyingBar{Date: d, Close: s.spotAt(i)})
	}
	for i, d := range s.dates {
		bars = append(bars, domain.UnderlyingBar{Date: d, Close: s.spotAt(len(s.history) + i)})
	}
	return bars, nil
}

type greeks struct {
	price float64
	delta float64
	gamma float64
	vega  float64
	theta float64
}

// blackScholes prices a European option. At expiry the price is intrinsic and
// delta is the exercise indicator.
func blackScholes(typ domain.OptionType, spot, strike, years, rate, vol float64) greeks {
	if years <= 0 || vol <= 0 {
		var g greeks
		if typ == domain.OptionPut {
			g.price = math.Max(strike-spot, 0)
			if strike > spot {
				g.delta = -1
			}
		} else {
			g.price = math.Max(spot-strike, 0)
			if spot > strike {
				g.delta = 1
			}
		}
		return g
	}

	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/strike) + (rate+vol*vol/2)*years) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	disc := math.Exp(-rate * years)
	pdf := normPDF(d1)

	g := greeks{
		gamma: pdf / (spot * vol * sqrtT),
		vega:  spot * pdf * sqrtT / 100,
	}
	if typ == domain.OptionPut {
		g.price = strike*disc*normCDF(-d2) - spot*normCDF(-d1)
		g.delta = normCDF(d1) - 1
		g.theta = (-spot*pdf*vol/(2*sqrtT) + rate*strike*disc*normCDF(-d2)) / 365
	} else {
		g.price = spot*normCDF(d1) - strike*disc*normCDF(d2)
		g.delta = normCDF(d1)
		g.theta = (-spot*pdf*vol/(2*sqrtT) - rate*strike*disc*normCDF(d2)) / 365
	}
	g.price = math.Round(math.Max(g.price, 0)*100) / 100
	return g
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

var _ Source = (*Synthetic)(nil)
