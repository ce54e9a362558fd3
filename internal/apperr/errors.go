// Package apperr defines the error taxonomy shared by the backtest engine and its CLI.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrConfig marks an invalid or conflicting run configuration. Fatal before simulation starts.
	ErrConfig = errors.New("invalid configuration")

	// ErrDataGap marks missing market data for a date or for every leg of a trade.
	ErrDataGap = errors.New("market data gap")

	// ErrNoMarketData is returned when the market source holds no trading dates at all.
	ErrNoMarketData = errors.New("market data source has no trading dates")

	// ErrPersistenceConflict is returned when a storage key is already owned by a different configuration.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrDataAccess wraps failures of the market data source itself.
	ErrDataAccess = errors.New("market data access failed")
)

// Process exit codes used by the command line tools.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitData     = 3
	ExitConflict = 4
)

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataGapError describes missing market data. TradeID is empty for date-level gaps.
type DataGapError struct {
	Date    time.Time
	TradeID string
	Reason  string
}

func (e *DataGapError) Error() string {
	day := e.Date.Format("2006-01-02")
	if e.TradeID == "" {
		return fmt.Sprintf("data gap on %s: %s", day, e.Reason)
	}
	return fmt.Sprintf("data gap on %s for trade %s: %s", day, e.TradeID, e.Reason)
}

func (e *DataGapError) Unwrap() error {
	return ErrDataGap
}

// ConflictError reports a storage key that belongs to another fingerprint.
type ConflictError struct {
	StorageKey          string
	ExistingFingerprint string
	Fingerprint         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("persistence conflict: storage key %s is owned by fingerprint %s, refusing fingerprint %s",
		e.StorageKey, e.ExistingFingerprint, e.Fingerprint)
}

func (e *ConflictError) Unwrap() error {
	return ErrPersistenceConflict
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrPersistenceConflict):
		return ExitConflict
	case errors.Is(err, ErrNoMarketData), errors.Is(err, ErrDataAccess), errors.Is(err, ErrDataGap):
		return ExitData
	default:
		return ExitFailure
	}
}
