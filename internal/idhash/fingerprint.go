package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// CanonicalJSON renders fields as JSON with keys in lexical order.
// Nested maps are ordered the same way, so two maps with equal contents
// always render to the same bytes regardless of insertion order.
func CanonicalJSON(fields map[string]interface{}) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return string(data), nil
}

// ComputeFingerprint returns the hex-encoded SHA256 of a canonical config (64 characters).
func ComputeFingerprint(canonical string) string {
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// ComputeStorageKey derives the table key of a run.
// Format: <variant-code>_<base58(first 8 bytes of fingerprint)>, with an _r<N>
// suffix for revision N >= 2.
func ComputeStorageKey(variantCode, fingerprint string, revision int) string {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 8 {
		sum := sha256.Sum256([]byte(fingerprint))
		raw = sum[:]
	}

	key := variantCode + "_" + base58.Encode(raw[:8])
	if revision >= 2 {
		key = fmt.Sprintf("%s_r%d", key, revision)
	}
	return key
}
