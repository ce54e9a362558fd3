package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/marketdata"
)

// OptionsSource implements marketdata.Source over the vendor options_data
// table: one row per (quote date, expiry, strike) with call and put columns.
type OptionsSource struct {
	db *DB
}

// NewOptionsSource creates a new OptionsSource.
func NewOptionsSource(db *DB) *OptionsSource {
	return &OptionsSource{db: db}
}

var _ marketdata.Source = (*OptionsSource)(nil)

func (s *OptionsSource) Dates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT trim(QUOTE_DATE) AS d FROM options_data ORDER BY d ASC`)
	if err != nil {
		return nil, fmt.Errorf("query quote dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan quote date: %w", err)
		}
		d, err := domain.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *OptionsSource) Snapshot(ctx context.Context, date time.Time) (*domain.MarketSnapshot, error) {
	day := domain.Day(date)
	rows, err := s.db.QueryContext(ctx, `
		SELECT UNDERLYING_LAST, EXPIRE_DATE, STRIKE,
			C_LAST, C_BID, C_ASK, C_DELTA, C_GAMMA, C_VEGA, C_THETA, C_IV,
			P_LAST, P_BID, P_ASK, P_DELTA, P_GAMMA, P_VEGA, P_THETA, P_IV
		FROM options_data
		WHERE trim(QUOTE_DATE) = ?
		ORDER BY EXPIRE_DATE ASC, STRIKE ASC`, formatDate(day))
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", formatDate(day), err)
	}
	defer rows.Close()

	var underlying float64
	var quotes []domain.OptionQuote
	for rows.Next() {
		var (
			under                                    sql.NullFloat64
			expiryRaw                                string
			strike                                   float64
			cLast, cBid, cAsk, cDelta, cGamma, cVega sql.NullFloat64
			cTheta, cIV                              sql.NullFloat64
			pLast, pBid, pAsk, pDelta, pGamma, pVega sql.NullFloat64
			pTheta, pIV                              sql.NullFloat64
		)
		if err := rows.Scan(&under, &expiryRaw, &strike,
			&cLast, &cBid, &cAsk, &cDelta, &cGamma, &cVega, &cTheta, &cIV,
			&pLast, &pBid, &pAsk, &pDelta, &pGamma, &pVega, &pTheta, &pIV,
		); err != nil {
			return nil, fmt.Errorf("scan options row: %w", err)
		}
		expiry, err := domain.ParseDate(expiryRaw)
		if err != nil {
			return nil, err
		}
		if under.Valid && under.Float64 > 0 {
			underlying = under.Float64
		}

		quotes = append(quotes,
			domain.OptionQuote{
				Expiry: expiry, Strike: strike, Type: domain.OptionCall,
				Price: marketdata.QuotePrice(cLast.Float64, cBid.Float64, cAsk.Float64),
				Bid:   cBid.Float64, Ask: cAsk.Float64,
				Delta: cDelta.Float64, Gamma: cGamma.Float64, Vega: cVega.Float64, Theta: cTheta.Float64, IV: cIV.Float64,
			},
			domain.OptionQuote{
				Expiry: expiry, Strike: strike, Type: domain.OptionPut,
				Price: marketdata.QuotePrice(pLast.Float64, pBid.Float64, pAsk.Float64),
				Bid:   pBid.Float64, Ask: pAsk.Float64,
				Delta: pDelta.Float64, Gamma: pGamma.Float64, Vega: pVega.Float64, Theta: pTheta.Float64, IV: pIV.Float64,
			},
		)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options rows: %w", err)
	}

	if len(quotes) == 0 {
		return nil, marketdata.ErrNotFound
	}
	return domain.NewMarketSnapshot(day, underlying, quotes), nil
}

func (s *OptionsSource) Underlying(ctx context.Context) ([]domain.UnderlyingBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trim(QUOTE_DATE) AS d, max(UNDERLYING_LAST)
		FROM options_data
		WHERE UNDERLYING_LAST > 0
		GROUP BY d
		ORDER BY d ASC`)
	if err != nil {
		return nil, fmt.Errorf("query underlying: %w", err)
	}
	defer rows.Close()

	var bars []domain.UnderlyingBar
	for rows.Next() {
		var raw string
		var b domain.UnderlyingBar
		if err := rows.Scan(&raw, &b.Close); err != nil {
			return nil, fmt.Errorf("scan underlying row: %w", err)
		}
		if b.Date, err = domain.ParseDate(raw); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// InsertSnapshots writes chains in the vendor layout, pairing the call and put
// of each (expiry, strike). A side without a quote is stored as NULL.
func (s *OptionsSource) InsertSnapshots(ctx context.Context, snaps ...*domain.MarketSnapshot) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO options_data (
				QUOTE_DATE, UNDERLYING_LAST, EXPIRE_DATE, DTE,
				C_DELTA, C_GAMMA, C_VEGA, C_THETA, C_IV, C_LAST, C_BID, C_ASK,
				STRIKE,
				P_BID, P_ASK, P_LAST, P_DELTA, P_GAMMA, P_VEGA, P_THETA, P_IV,
				STRIKE_DISTANCE
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range snaps {
			for _, expiry := range snap.Expiries() {
				seen := make(map[float64]bool)
				for _, q := range snap.Chain(expiry, domain.OptionPut) {
					seen[q.Strike] = true
				}
				for _, q := range snap.Chain(expiry, domain.OptionCall) {
					seen[q.Strike] = true
				}
				for strike := range seen {
					call, hasCall := snap.Quote(expiry, strike, domain.OptionCall)
					put, hasPut := snap.Quote(expiry, strike, domain.OptionPut)
					c := nullQuote(call, hasCall)
					p := nullQuote(put, hasPut)

					distance := strike - snap.UnderlyingClose
					if distance < 0 {
						distance = -distance
					}
					_, err := stmt.ExecContext(ctx,
						formatDate(snap.Date), snap.UnderlyingClose, formatDate(expiry), float64(domain.DaysBetween(snap.Date, expiry)),
						c.delta, c.gamma, c.vega, c.theta, c.iv, c.last, c.bid, c.ask,
						strike,
						p.bid, p.ask, p.last, p.delta, p.gamma, p.vega, p.theta, p.iv,
						distance,
					)
					if err != nil {
						return fmt.Errorf("insert options row: %w", err)
					}
				}
			}
		}
		return nil
	})
}

type nullableQuote struct {
	last, bid, ask, delta, gamma, vega, theta, iv sql.NullFloat64
}

func nullQuote(q domain.OptionQuote, ok bool) nullableQuote {
	if !ok {
		return nullableQuote{}
	}
	v := func(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }
	return nullableQuote{
		last: v(q.Price), bid: v(q.Bid), ask: v(q.Ask),
		delta: v(q.Delta), gamma: v(q.Gamma), vega: v(q.Vega), theta: v(q.Theta), iv: v(q.IV),
	}
}
