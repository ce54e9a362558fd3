package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(storage_key|seq|entry_date)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(storageKey string, seq int, entryDate time.Time) string {
	data := fmt.Sprintf("%s|%d|%s",
		storageKey,
		seq,
		entryDate.UTC().Format("2006-01-02"),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
