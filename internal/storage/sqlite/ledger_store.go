package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// LedgerStore implements storage.LedgerStore using SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ storage.LedgerStore = (*LedgerStore)(nil)

const tradeColumns = `
	storage_key, trade_id, revision, seq, variant, tag,
	entry_date, expiry, dte, contracts, multiplier, status,
	entry_premium, entry_value, close_date, close_premium, close_value,
	realized_pnl, data_gap`

const legColumns = `
	storage_key, trade_id, leg_index, mark_date, leg_type,
	option_type, position, role, strike, expiry,
	price, delta, gamma, vega, theta, iv, underlying,
	stale, settled`

// Append commits one date's records in a single transaction.
func (s *LedgerStore) Append(ctx context.Context, b domain.LedgerBatch) error {
	if b.IsEmpty() {
		return nil
	}
	if err := storage.ValidateBatch(b); err != nil {
		return err
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, t := range b.Trades {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trade_records (`+tradeColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.StorageKey, t.TradeID, t.Revision, t.Seq, string(t.Variant), t.Tag,
				formatDate(t.EntryDate), formatDate(t.Expiry), t.DTE, t.Contracts, t.Multiplier, string(t.Status),
				t.EntryPremium, t.EntryValue, formatNullDate(t.CloseDate), t.ClosePremium, t.CloseValue,
				t.RealizedPnL, t.DataGap,
			)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert trade record: %w", err)
			}
		}

		for _, l := range b.Legs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO leg_records (`+legColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.StorageKey, l.TradeID, l.LegIndex, formatDate(l.Date), string(l.LegType),
				string(l.OptionType), string(l.Position), string(l.Role), l.Strike, formatDate(l.Expiry),
				l.Price, l.Delta, l.Gamma, l.Vega, l.Theta, l.IV, l.Underlying,
				l.Stale, l.Settled,
			)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert leg record: %w", err)
			}
		}
		return nil
	})
}

func (s *LedgerStore) GetTradeRecords(ctx context.Context, storageKey string) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trade_records
		WHERE storage_key = ?
		ORDER BY seq ASC, trade_id ASC, revision ASC`, storageKey)
	if err != nil {
		return nil, fmt.Errorf("get trade records: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var variant, status, entryDate, expiry string
		var closeDate sql.NullString

		if err := rows.Scan(
			&t.StorageKey, &t.TradeID, &t.Revision, &t.Seq, &variant, &t.Tag,
			&entryDate, &expiry, &t.DTE, &t.Contracts, &t.Multiplier, &status,
			&t.EntryPremium, &t.EntryValue, &closeDate, &t.ClosePremium, &t.CloseValue,
			&t.RealizedPnL, &t.DataGap,
		); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}

		if t.EntryDate, err = domain.ParseDate(entryDate); err != nil {
			return nil, err
		}
		if t.Expiry, err = domain.ParseDate(expiry); err != nil {
			return nil, err
		}
		if t.CloseDate, err = parseNullDate(closeDate); err != nil {
			return nil, err
		}
		t.Variant = domain.Variant(variant)
		t.Status = domain.TradeStatus(status)
		records = append(records, t)
	}
	return records, rows.Err()
}

func (s *LedgerStore) GetLegRecords(ctx context.Context, storageKey string) ([]domain.LegRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+legColumns+`
		FROM leg_records
		WHERE storage_key = ?
		ORDER BY mark_date ASC, trade_id ASC, leg_index ASC,
			CASE leg_type WHEN 'OPEN' THEN 0 WHEN 'AUDIT' THEN 1 ELSE 2 END ASC`, storageKey)
	if err != nil {
		return nil, fmt.Errorf("get leg records: %w", err)
	}
	defer rows.Close()

	var records []domain.LegRecord
	for rows.Next() {
		var l domain.LegRecord
		var date, legType, optionType, position, role, expiry string

		if err := rows.Scan(
			&l.StorageKey, &l.TradeID, &l.LegIndex, &date, &legType,
			&optionType, &position, &role, &l.Strike, &expiry,
			&l.Price, &l.Delta, &l.Gamma, &l.Vega, &l.Theta, &l.IV, &l.Underlying,
			&l.Stale, &l.Settled,
		); err != nil {
			return nil, fmt.Errorf("scan leg record: %w", err)
		}

		if l.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		if l.Expiry, err = domain.ParseDate(expiry); err != nil {
			return nil, err
		}
		l.LegType = domain.LegType(legType)
		l.OptionType = domain.OptionType(optionType)
		l.Position = domain.PositionSide(position)
		l.Role = domain.LegRole(role)
		records = append(records, l)
	}
	return records, rows.Err()
}
