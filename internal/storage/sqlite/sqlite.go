// Package sqlite implements the storage interfaces and an options_data market
// source on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

// DB wraps a SQLite handle shared by the stores of one file.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// busy_timeout and foreign_keys are set per connection through the DSN.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &DB{DB: db}, nil
}

// Stores returns the run, ledger and summary stores backed by db.
func (db *DB) Stores() storage.Stores {
	return storage.Stores{
		Runs:      NewRunStore(db),
		Ledger:    NewLedgerStore(db),
		Summaries: NewSummaryStore(db),
	}
}

// isDuplicateKeyError checks if error is a primary key or unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDate(t time.Time) string {
	return domain.FormatDate(t)
}

func formatNullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func withTx(ctx context.Context, db *DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	storage_key       TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL UNIQUE,
	fingerprint       TEXT NOT NULL,
	variant           TEXT NOT NULL,
	revision          INTEGER NOT NULL,
	raw_config        TEXT NOT NULL,
	canonical_config  TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	UNIQUE (fingerprint, revision)
);

CREATE TABLE IF NOT EXISTS trade_records (
	storage_key    TEXT NOT NULL REFERENCES backtest_runs (storage_key),
	trade_id       TEXT NOT NULL,
	revision       INTEGER NOT NULL,
	seq            INTEGER NOT NULL,
	variant        TEXT NOT NULL,
	tag            TEXT NOT NULL DEFAULT '',
	entry_date     TEXT NOT NULL,
	expiry         TEXT NOT NULL,
	dte            INTEGER NOT NULL,
	contracts      INTEGER NOT NULL,
	multiplier     REAL NOT NULL,
	status         TEXT NOT NULL,
	entry_premium  REAL NOT NULL,
	entry_value    REAL NOT NULL,
	close_date     TEXT,
	close_premium  REAL NOT NULL DEFAULT 0,
	close_value    REAL NOT NULL DEFAULT 0,
	realized_pnl   REAL NOT NULL DEFAULT 0,
	data_gap       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (storage_key, trade_id, revision)
);

CREATE TABLE IF NOT EXISTS leg_records (
	storage_key  TEXT NOT NULL REFERENCES backtest_runs (storage_key),
	trade_id     TEXT NOT NULL,
	leg_index    INTEGER NOT NULL,
	mark_date    TEXT NOT NULL,
	leg_type     TEXT NOT NULL,
	option_type  TEXT NOT NULL,
	position     TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT '',
	strike       REAL NOT NULL,
	expiry       TEXT NOT NULL,
	price        REAL NOT NULL,
	delta        REAL NOT NULL DEFAULT 0,
	gamma        REAL NOT NULL DEFAULT 0,
	vega         REAL NOT NULL DEFAULT 0,
	theta        REAL NOT NULL DEFAULT 0,
	iv           REAL NOT NULL DEFAULT 0,
	underlying   REAL NOT NULL DEFAULT 0,
	stale        INTEGER NOT NULL DEFAULT 0,
	settled      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (storage_key, trade_id, leg_index, mark_date, leg_type)
);

CREATE TABLE IF NOT EXISTS run_summaries (
	storage_key             TEXT PRIMARY KEY REFERENCES backtest_runs (storage_key),
	run_id                  TEXT NOT NULL,
	fingerprint             TEXT NOT NULL,
	variant                 TEXT NOT NULL,
	trading_dates           INTEGER NOT NULL,
	first_date              TEXT,
	last_date               TEXT,
	total_trades            INTEGER NOT NULL,
	closed_profit           INTEGER NOT NULL,
	closed_stop_loss        INTEGER NOT NULL,
	closed_force_time       INTEGER NOT NULL,
	closed_expiry           INTEGER NOT NULL,
	closed_end_of_data      INTEGER NOT NULL,
	wins                    INTEGER NOT NULL,
	losses                  INTEGER NOT NULL,
	win_rate                REAL NOT NULL,
	total_pnl               REAL NOT NULL,
	mean_pnl                REAL NOT NULL,
	median_pnl              REAL NOT NULL,
	p10_pnl                 REAL NOT NULL,
	p90_pnl                 REAL NOT NULL,
	min_pnl                 REAL NOT NULL,
	max_pnl                 REAL NOT NULL,
	stddev_pnl              REAL NOT NULL,
	max_drawdown            REAL NOT NULL,
	max_consecutive_losses  INTEGER NOT NULL,
	premium_collected       REAL NOT NULL,
	data_gap_trades         INTEGER NOT NULL,
	data_gap_dates          INTEGER NOT NULL,
	completed_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS options_data (
	QUOTE_DATE       TEXT NOT NULL,
	UNDERLYING_LAST  REAL,
	EXPIRE_DATE      TEXT NOT NULL,
	DTE              REAL,
	C_DELTA          REAL,
	C_GAMMA          REAL,
	C_VEGA           REAL,
	C_THETA          REAL,
	C_IV             REAL,
	C_LAST           REAL,
	C_BID            REAL,
	C_ASK            REAL,
	STRIKE           REAL NOT NULL,
	P_BID            REAL,
	P_ASK            REAL,
	P_LAST           REAL,
	P_DELTA          REAL,
	P_GAMMA          REAL,
	P_VEGA           REAL,
	P_THETA          REAL,
	P_IV             REAL,
	STRIKE_DISTANCE  REAL
);

CREATE INDEX IF NOT EXISTS idx_trade_records_seq ON trade_records (storage_key, seq);
CREATE INDEX IF NOT EXISTS idx_leg_records_date ON leg_records (storage_key, mark_date);
CREATE INDEX IF NOT EXISTS idx_options_quote_date ON options_data (QUOTE_DATE);
CREATE INDEX IF NOT EXISTS idx_options_combined ON options_data (QUOTE_DATE, EXPIRE_DATE);
`
