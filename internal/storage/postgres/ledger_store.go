package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const tradeColumns = `
	storage_key, trade_id, revision, seq, variant, tag,
	entry_date, expiry, dte, contracts, multiplier, status,
	entry_premium, entry_value, close_date, close_premium, close_value,
	realized_pnl, data_gap
`

const legColumns = `
	storage_key, trade_id, leg_index, mark_date, leg_type,
	option_type, position, role, strike, expiry,
	price, delta, gamma, vega, theta, iv, underlying,
	stale, settled
`

// Append commits one date's records in a single transaction. Fails entire batch on any duplicate.
func (s *LedgerStore) Append(ctx context.Context, b domain.LedgerBatch) error {
	if b.IsEmpty() {
		return nil
	}
	if err := storage.ValidateBatch(b); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tradeQuery := `INSERT INTO trade_records (` + tradeColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17,
		$18, $19
	)`

	for _, t := range b.Trades {
		_, err := tx.Exec(ctx, tradeQuery,
			t.StorageKey, t.TradeID, t.Revision, t.Seq, string(t.Variant), t.Tag,
			t.EntryDate, t.Expiry, t.DTE, t.Contracts, t.Multiplier, string(t.Status),
			t.EntryPremium, t.EntryValue, t.CloseDate, t.ClosePremium, t.CloseValue,
			t.RealizedPnL, t.DataGap,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade record: %w", err)
		}
	}

	legQuery := `INSERT INTO leg_records (` + legColumns + `) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17,
		$18, $19
	)`

	for _, l := range b.Legs {
		_, err := tx.Exec(ctx, legQuery,
			l.StorageKey, l.TradeID, l.LegIndex, l.Date, string(l.LegType),
			string(l.OptionType), string(l.Position), string(l.Role), l.Strike, l.Expiry,
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

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetTradeRecords retrieves all trade records of a run, ordered by seq ASC, revision ASC.
func (s *LedgerStore) GetTradeRecords(ctx context.Context, storageKey string) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_records
		WHERE storage_key = $1
		ORDER BY seq ASC, trade_id ASC, revision ASC`

	rows, err := s.pool.Query(ctx, query, storageKey)
	if err != nil {
		return nil, fmt.Errorf("get trade records: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		records = append(records, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}
	return records, nil
}

// GetLegRecords retrieves all leg records of a run, ordered by date ASC, trade_id ASC, leg_index ASC.
func (s *LedgerStore) GetLegRecords(ctx context.Context, storageKey string) ([]domain.LegRecord, error) {
	query := `SELECT ` + legColumns + ` FROM leg_records
		WHERE storage_key = $1
		ORDER BY mark_date ASC, trade_id ASC, leg_index ASC,
			CASE leg_type WHEN 'OPEN' THEN 0 WHEN 'AUDIT' THEN 1 ELSE 2 END ASC`

	rows, err := s.pool.Query(ctx, query, storageKey)
	if err != nil {
		return nil, fmt.Errorf("get leg records: %w", err)
	}
	defer rows.Close()

	var records []domain.LegRecord
	for rows.Next() {
		l, err := scanLegRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leg record row: %w", err)
		}
		records = append(records, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leg record rows: %w", err)
	}
	return records, nil
}

func scanTradeRecord(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var variant, status string

	err := row.Scan(
		&t.StorageKey, &t.TradeID, &t.Revision, &t.Seq, &variant, &t.Tag,
		&t.EntryDate, &t.Expiry, &t.DTE, &t.Contracts, &t.Multiplier, &status,
		&t.EntryPremium, &t.EntryValue, &t.CloseDate, &t.ClosePremium, &t.CloseValue,
		&t.RealizedPnL, &t.DataGap,
	)
	if err != nil {
		return t, err
	}

	t.Variant = domain.Variant(variant)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

func scanLegRecord(row pgx.Row) (domain.LegRecord, error) {
	var l domain.LegRecord
	var legType, optionType, position, role string

	err := row.Scan(
		&l.StorageKey, &l.TradeID, &l.LegIndex, &l.Date, &legType,
		&optionType, &position, &role, &l.Strike, &l.Expiry,
		&l.Price, &l.Delta, &l.Gamma, &l.Vega, &l.Theta, &l.IV, &l.Underlying,
		&l.Stale, &l.Settled,
	)
	if err != nil {
		return l, err
	}

	l.LegType = domain.LegType(legType)
	l.OptionType = domain.OptionType(optionType)
	l.Position = domain.PositionSide(position)
	l.Role = domain.LegRole(role)
	return l, nil
}
