// Package recorder registers backtest runs under reproducible storage keys and
// reads their ledgers back.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"options-backtest-lab/internal/apperr"
	"options-backtest-lab/internal/domain"
	"options-backtest-lab/internal/idhash"
	"options-backtest-lab/internal/storage"
)

// Policy decides what Register does when the fingerprint already has runs.
type Policy string

const (
	// PolicyRerun always registers a new revision.
	PolicyRerun Policy = "rerun"
	// PolicyReuse returns the latest completed run of the fingerprint, if any.
	PolicyReuse Policy = "reuse"
)

// ParsePolicy validates a policy name. Empty means PolicyRerun.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyRerun:
		return PolicyRerun, nil
	case PolicyReuse:
		return PolicyReuse, nil
	default:
		return "", apperr.NewConfigError("recorder.policy", s, "must be rerun or reuse")
	}
}

// maxRegisterAttempts bounds revision retries under concurrent registration.
const maxRegisterAttempts = 16

// Identity is the deterministic identity of a configuration.
type Identity struct {
	Config      domain.StrategyConfig
	Canonical   string
	Fingerprint string
}

// Recorder owns the run registry and ledger access.
type Recorder struct {
	stores storage.Stores
	policy Policy
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPolicy sets the registration policy.
func WithPolicy(p Policy) Option {
	return func(r *Recorder) { r.policy = p }
}

// WithLogger sets the recorder logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides the registration clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a recorder over stores.
func New(stores storage.Stores, opts ...Option) *Recorder {
	r := &Recorder{
		stores: stores,
		policy: PolicyRerun,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identify applies defaults, validates cfg and computes its fingerprint.
func (r *Recorder) Identify(cfg domain.StrategyConfig) (Identity, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Identity{}, err
	}

	canonical, err := idhash.CanonicalJSON(cfg.Canonical())
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Config:      cfg,
		Canonical:   canonical,
		Fingerprint: idhash.ComputeFingerprint(canonical),
	}, nil
}

// Register creates the run of id, or under PolicyReuse returns the latest
// completed run of the same fingerprint (reused = true). raw is stored
// verbatim; empty raw stores the config's parameter string.
func (r *Recorder) Register(ctx context.Context, id Identity, raw string) (*domain.BacktestRun, bool, error) {
	existing, err := r.stores.Runs.GetByFingerprint(ctx, id.Fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("lookup fingerprint: %w", err)
	}

	if r.policy == PolicyReuse {
		run, err := r.latestCompleted(ctx, existing)
		if err != nil {
			return nil, false, err
		}
		if run != nil {
			r.logger.Info().Str("storage_key", run.StorageKey).Msg("reusing completed run")
			return run, true, nil
		}
	}

	if raw == "" {
		raw = id.Config.RawParams()
	}

	revision := 1
	for _, run := range existing {
		if run.Revision >= revision {
			revision = run.Revision + 1
		}
	}

	code := id.Config.VariantCode()
	for attempt := 0; attempt < maxRegisterAttempts; attempt, revision = attempt+1, revision+1 {
		key := idhash.ComputeStorageKey(code, id.Fingerprint, revision)

		run := &domain.BacktestRun{
			RunID:           r.newID(),
			Fingerprint:     id.Fingerprint,
			Variant:         id.Config.Variant,
			StorageKey:      key,
			Revision:        revision,
			RawConfig:       raw,
			CanonicalConfig: id.Canonical,
			CreatedAt:       r.now().UTC(),
		}

		err := r.stores.Runs.Insert(ctx, run)
		if err == nil {
			r.logger.Info().
				Str("storage_key", key).
				Int("revision", revision).
				Str("fingerprint", id.Fingerprint).
				Msg("registered run")
			return run, false, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, false, fmt.Errorf("register run %s: %w", key, err)
		}

		// Lost a race, or the key belongs to another configuration.
		owner, err := r.stores.Runs.GetByStorageKey(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup storage key %s: %w", key, err)
		}
		if owner != nil && owner.Fingerprint != id.Fingerprint {
			return nil, false, &apperr.ConflictError{
				StorageKey:          key,
				ExistingFingerprint: owner.Fingerprint,
				Fingerprint:         id.Fingerprint,
			}
		}
		r.logger.Debug().Str("storage_key", key).Msg("revision taken, retrying")
	}

	return nil, false, fmt.Errorf("register run for %s: no free revision after %d attempts: %w",
		id.Fingerprint, maxRegisterAttempts, storage.ErrDuplicateKey)
}

func (r *Recorder) latestCompleted(ctx context.Context, runs []*domain.BacktestRun) (*domain.BacktestRun, error) {
	for i := len(runs) - 1; i >= 0; i-- {
		_, err := r.stores.Summaries.GetByStorageKey(ctx, runs[i].StorageKey)
		if err == nil {
			return runs[i], nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lookup summary %s: %w", runs[i].StorageKey, err)
		}
	}
	return nil, nil
}

// Append commits one date's ledger records. Recorder is a scheduler.BatchSink.
func (r *Recorder) Append(ctx context.Context, batch domain.LedgerBatch) error {
	return r.stores.Ledger.Append(ctx, batch)
}

// Complete stores the summary of run, marking it complete.
func (r *Recorder) Complete(ctx context.Context, run *domain.BacktestRun, summary *domain.RunSummary) error {
	summary.StorageKey = run.StorageKey
	summary.RunID = run.RunID
	summary.Fingerprint = run.Fingerprint
	summary.Variant = run.Variant
	if summary.CompletedAt.IsZero() {
		summary.CompletedAt = r.now().UTC()
	}

	if err := r.stores.Summaries.Insert(ctx, summary); err != nil {
		return fmt.Errorf("complete run %s: %w", run.StorageKey, err)
	}
	return nil
}

// ByStorageKey returns one run.
func (r *Recorder) ByStorageKey(ctx context.Context, key string) (*domain.BacktestRun, error) {
	return r.stores.Runs.GetByStorageKey(ctx, key)
}

// ByFingerprint returns every revision of a configuration.
func (r *Recorder) ByFingerprint(ctx context.Context, fingerprint string) ([]*domain.BacktestRun, error) {
	return r.stores.Runs.GetByFingerprint(ctx, fingerprint)
}

// ByVariant returns every run of a strategy variant.
func (r *Recorder) ByVariant(ctx context.Context, variant domain.Variant) ([]*domain.BacktestRun, error) {
	return r.stores.Runs.GetByVariant(ctx, variant)
}

// List returns every registered run.
func (r *Recorder) List(ctx context.Context) ([]*domain.BacktestRun, error) {
	return r.stores.Runs.List(ctx)
}

// Summary returns the summary of a completed run, storage.ErrNotFound otherwise.
func (r *Recorder) Summary(ctx context.Context, key string) (*domain.RunSummary, error) {
	return r.stores.Summaries.GetByStorageKey(ctx, key)
}

// LoadLedger rebuilds the trades of a run from its ledger records.
func (r *Recorder) LoadLedger(ctx context.Context, key string) ([]*domain.Trade, error) {
	if _, err := r.stores.Runs.GetByStorageKey(ctx, key); err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", key, err)
	}

	trades, err := r.stores.Ledger.GetTradeRecords(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load trade records %s: %w", key, err)
	}
	legs, err := r.stores.Ledger.GetLegRecords(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load leg records %s: %w", key, err)
	}
	return domain.RebuildTrades(trades, legs), nil
}
