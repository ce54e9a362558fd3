package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/storage"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testBatch(key string, date time.Time, tradeID string, rev int, legType domain.LegType) domain.LedgerBatch {
	return domain.LedgerBatch{
		StorageKey: key,
		Date:       date,
		Trades: []domain.TradeRecord{
			{StorageKey: key, TradeID: tradeID, Revision: rev, Seq: 1, EntryDate: day(2024, 1, 2)},
		},
		Legs: []domain.LegRecord{
			{StorageKey: key, TradeID: tradeID, LegIndex: 1, Date: date, LegType: legType},
			{StorageKey: key, TradeID: tradeID, LegIndex: 0, Date: date, LegType: legType},
		},
	}
}

func TestLedgerStore_AppendAndRead(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	if err := store.Append(ctx, testBatch("sp_a", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, testBatch("sp_a", day(2024, 1, 5), "t1", 1, domain.LegTypeClose)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	trades, err := store.GetTradeRecords(ctx, "sp_a")
	if err != nil {
		t.Fatalf("GetTradeRecords failed: %v", err)
	}
	if len(trades) != 2 || trades[0].Revision != 0 || trades[1].Revision != 1 {
		t.Errorf("trade records wrong: %+v", trades)
	}

	legs, err := store.GetLegRecords(ctx, "sp_a")
	if err != nil {
		t.Fatalf("GetLegRecords failed: %v", err)
	}
	if len(legs) != 4 {
		t.Fatalf("expected 4 legs, got %d", len(legs))
	}
	if legs[0].LegIndex != 0 || legs[1].LegIndex != 1 || !legs[2].Date.Equal(day(2024, 1, 5)) {
		t.Errorf("leg order wrong: %+v", legs)
	}
}

func TestLedgerStore_DuplicateFailsWholeBatch(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	if err := store.Append(ctx, testBatch("sp_a", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dup := testBatch("sp_a", day(2024, 1, 3), "t1", 0, domain.LegTypeAudit)
	dup.Trades = append(dup.Trades, domain.TradeRecord{StorageKey: "sp_a", TradeID: "t2", Seq: 2})
	if err := store.Append(ctx, dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	trades, _ := store.GetTradeRecords(ctx, "sp_a")
	legs, _ := store.GetLegRecords(ctx, "sp_a")
	if len(trades) != 1 || len(legs) != 2 {
		t.Errorf("partial batch written: %d trades, %d legs", len(trades), len(legs))
	}
}

func TestLedgerStore_IntraBatchDuplicate(t *testing.T) {
	store := NewLedgerStore()
	b := testBatch("sp_a", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)
	b.Legs = append(b.Legs, b.Legs[0])

	if err := store.Append(context.Background(), b); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if trades, _ := store.GetTradeRecords(context.Background(), "sp_a"); len(trades) != 0 {
		t.Errorf("expected nothing written, got %d trades", len(trades))
	}
}

func TestLedgerStore_RejectsForeignRecords(t *testing.T) {
	store := NewLedgerStore()
	b := testBatch("sp_a", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)
	b.Legs[0].StorageKey = "other"

	if err := store.Append(context.Background(), b); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestLedgerStore_RunsAreIsolated(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	if err := store.Append(ctx, testBatch("sp_a", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, testBatch("sp_b", day(2024, 1, 2), "t1", 0, domain.LegTypeOpen)); err != nil {
		t.Fatalf("same trade id in another run should succeed: %v", err)
	}
	if err := store.Append(ctx, domain.LedgerBatch{StorageKey: "sp_c"}); err != nil {
		t.Errorf("empty batch should be a no-op: %v", err)
	}

	legs, _ := store.GetLegRecords(ctx, "sp_c")
	if len(legs) != 0 {
		t.Errorf("expected no legs for empty run, got %d", len(legs))
	}
}
