package clickhouse

import (
	"context"
	"fmt"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
)

// QuoteSource implements marketdata.Source over the options_quotes table.
type QuoteSource struct {
	conn *Conn
}

// NewQuoteSource creates a new QuoteSource.
func NewQuoteSource(conn *Conn) *QuoteSource {
	return &QuoteSource{conn: conn}
}

// Compile-time interface check.
var _ marketdata.Source = (*QuoteSource)(nil)

// Dates returns the distinct quote dates in ascending order.
func (s *QuoteSource) Dates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT quote_date FROM options_quotes ORDER BY quote_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("query quote dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan quote date: %w", err)
		}
		dates = append(dates, domain.Day(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote dates: %w", err)
	}
	return dates, nil
}

// Snapshot returns the chain of one date. Returns marketdata.ErrNotFound if the date has no rows.
func (s *QuoteSource) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	query := `
		SELECT
			underlying_last, expiry, strike, option_type,
			last, bid, ask, delta, gamma, vega, theta, iv
		FROM options_quotes FINAL
		WHERE quote_date = ?
		ORDER BY expiry ASC, strike ASC, option_type ASC
	`

	day := domain.Day(date)
	rows, err := s.conn.Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", domain.FormatDate(day), err)
	}
	defer rows.Close()

	var (
		underlying float64
		quotes     []domain.OptionQuote
	)
	for rows.Next() {
		var q domain.OptionQuote
		var typ string
		var last float64
		if err := rows.Scan(
			&underlying, &q.Expiry, &q.Strike, &typ,
			&last, &q.Bid, &q.Ask, &q.Delta, &q.Gamma, &q.Vega, &q.Theta, &q.IV,
		); err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		q.Expiry = domain.Day(q.Expiry)
		q.Type = domain.OptionType(typ)
		q.Price = marketdata.QuotePrice(last, q.Bid, q.Ask)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote rows: %w", err)
	}

	if len(quotes) == 0 {
		return nil, marketdata.ErrNotFound
	}
	return domain.NewMarketSnapshot(day, underlying, quotes), nil
}

// Underlying returns one close per quote date.
func (s *QuoteSource) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	query := `
		SELECT quote_date, any(underlying_last)
		FROM options_quotes
		GROUP BY quote_date
		ORDER BY quote_date ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query underlying: %w", err)
	}
	defer rows.Close()

	var bars []domain.UnderlyingBar
	for rows.Next() {
		var b domain.UnderlyingBar
		if err := rows.Scan(&b.Date, &b.Close); err != nil {
			return nil, fmt.Errorf("scan underlying row: %w", err)
		}
		b.Date = domain.Day(b.Date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate underlying rows: %w", err)
	}
	return bars, nil
}

// InsertSnapshots loads chains into options_quotes with one batch.
// Quote prices are written as last, with bid and ask as given.
func (s *QuoteSource) InsertSnapshots(ctx context.Context, snaps ...*domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO options_quotes (
			quote_date, underlying_last, expiry, strike, option_type,
			last, bid, ask, delta, gamma, vega, theta, iv
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snaps {
		for _, q := range snap.Quotes {
			err := batch.Append(
				domain.Day(snap.Date), snap.UnderlyingClose, domain.Day(q.Expiry), q.Strike, string(q.Type),
				q.Price, q.Bid, q.Ask, q.Delta, q.Gamma, q.Vega, q.Theta, q.IV,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
