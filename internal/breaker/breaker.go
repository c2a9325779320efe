// Package breaker implements a per (agent type, model, tenant) circuit
// breaker backed by the shared counter store, so failure state is visible
// across process instances.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/logging"
)

const keyPrefix = "breaker:"

// record is the persisted breaker state. The open state is represented
// purely by OpenUntil being in the future; there is no separate enum.
type record struct {
	// Failures holds unix-millisecond timestamps of failures observed
	// within the rolling window. Entries older than the window are
	// discarded wholesale on every mutation.
	Failures  []int64 `json:"failures"`
	OpenUntil int64   `json:"open_until,omitempty"` // unix milliseconds, 0 when closed
}

// Key identifies one breaker. Two models for the same agent, or the same
// agent/model under different tenants, never share state.
type Key struct {
	AgentType string
	ModelID   string
	TenantID  string
}

func (k Key) storeKey() string {
	tenant := k.TenantID
	if tenant == "" {
		tenant = "-"
	}
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, k.AgentType, k.ModelID, tenant)
}

// State describes one breaker for operational tooling.
type State struct {
	AgentType    string     `json:"agent_type"`
	ModelID      string     `json:"model_id"`
	TenantID     string     `json:"tenant_id,omitempty"`
	FailureCount int        `json:"failure_count"`
	Open         bool       `json:"open"`
	OpenUntil    *time.Time `json:"open_until,omitempty"`
}

// Breaker evaluates and mutates circuit state in the shared store.
// Mutations are read-modify-write; small races between concurrent
// processes are tolerated in exchange for simplicity.
type Breaker struct {
	store  store.Store
	cfg    *config.BreakerConfig
	alerts *alerting.Dispatcher
	logger *logging.Logger
	now    func() time.Time
}

// NewBreaker creates a circuit breaker over the shared counter store.
// The dispatcher may be nil; open transitions are then only logged.
func NewBreaker(s store.Store, cfg *config.BreakerConfig, alerts *alerting.Dispatcher) *Breaker {
	return &Breaker{
		store:  s,
		cfg:    cfg,
		alerts: alerts,
		logger: logging.GetLogger(),
		now:    time.Now,
	}
}

// WithClock overrides the breaker's clock. Used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// RecordFailure adds a failure to the rolling window and opens the breaker
// when the in-window count reaches the threshold. It returns whether the
// breaker is open after recording, on both the triggering call and
// subsequent calls while still open.
func (b *Breaker) RecordFailure(ctx context.Context, key Key) (bool, error) {
	now := b.now()
	rec, err := b.load(ctx, key)
	if err != nil {
		return false, err
	}

	b.pruneWindow(&rec, now)
	rec.Failures = append(rec.Failures, now.UnixMilli())

	alreadyOpen := rec.OpenUntil > now.UnixMilli()

	if !alreadyOpen && len(rec.Failures) >= b.cfg.ErrorsThreshold {
		rec.OpenUntil = now.Add(b.cfg.Cooldown).UnixMilli()
		// Failures are consumed by the trip; after cooldown it takes a
		// full threshold of new failures to reopen.
		rec.Failures = nil

		b.logger.Warn("Circuit breaker opened",
			"agent_type", key.AgentType,
			"model_id", key.ModelID,
			"tenant_id", key.TenantID,
			"cooldown", b.cfg.Cooldown.String(),
		)

		if b.alerts != nil {
			b.alerts.NotifyTenant(ctx, alerting.EventBreakerOpen, map[string]interface{}{
				"agent_type": key.AgentType,
				"model_id":   key.ModelID,
			}, key.TenantID)
		}
	}

	if err := b.save(ctx, key, rec); err != nil {
		return false, err
	}

	return rec.OpenUntil > now.UnixMilli(), nil
}

// RecordSuccess records a successful call. With resetCounter the failure
// window is cleared; without it the failure history is preserved, for
// non-terminal partial successes.
func (b *Breaker) RecordSuccess(ctx context.Context, key Key, resetCounter bool) error {
	if !resetCounter {
		return nil
	}

	rec, err := b.load(ctx, key)
	if err != nil {
		return err
	}

	if len(rec.Failures) == 0 {
		return nil
	}

	rec.Failures = nil
	return b.save(ctx, key, rec)
}

// IsOpen reports whether the breaker is rejecting calls. Recovery is
// purely time-based: once the cooldown elapses this reports false without
// any explicit transition.
func (b *Breaker) IsOpen(ctx context.Context, key Key) (bool, error) {
	rec, err := b.load(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.OpenUntil > b.now().UnixMilli(), nil
}

// FailureCount returns the number of failures within the rolling window.
func (b *Breaker) FailureCount(ctx context.Context, key Key) (int, error) {
	rec, err := b.load(ctx, key)
	if err != nil {
		return 0, err
	}
	b.pruneWindow(&rec, b.now())
	return len(rec.Failures), nil
}

// Reset force-closes the breaker and zeroes its failure window.
func (b *Breaker) Reset(ctx context.Context, key Key) error {
	return b.store.Delete(ctx, key.storeKey())
}

// StatusReport lists every breaker with persisted state.
func (b *Breaker) StatusReport(ctx context.Context) ([]State, error) {
	keys, err := b.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	now := b.now()
	states := make([]State, 0, len(keys))
	for _, storeKey := range keys {
		parts := strings.SplitN(strings.TrimPrefix(storeKey, keyPrefix), ":", 3)
		if len(parts) != 3 {
			continue
		}

		raw, ok, err := b.store.Get(ctx, storeKey)
		if err != nil || !ok {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}

		b.pruneWindow(&rec, now)
		state := State{
			AgentType:    parts[0],
			ModelID:      parts[1],
			FailureCount: len(rec.Failures),
			Open:         rec.OpenUntil > now.UnixMilli(),
		}
		if parts[2] != "-" {
			state.TenantID = parts[2]
		}
		if rec.OpenUntil > 0 {
			until := time.UnixMilli(rec.OpenUntil)
			if until.After(now) {
				state.OpenUntil = &until
			}
		}
		states = append(states, state)
	}

	return states, nil
}

// pruneWindow discards failures older than the rolling window. Hard
// cutoff: anything outside the window is dropped wholesale.
func (b *Breaker) pruneWindow(rec *record, now time.Time) {
	cutoff := now.Add(-b.cfg.Window).UnixMilli()

	kept := rec.Failures[:0]
	for _, ts := range rec.Failures {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	rec.Failures = kept
}

func (b *Breaker) load(ctx context.Context, key Key) (record, error) {
	raw, ok, err := b.store.Get(ctx, key.storeKey())
	if err != nil || !ok {
		return record{}, err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A corrupt record degrades to a fresh closed breaker.
		b.logger.Warn("Corrupt breaker record, resetting",
			"key", key.storeKey(),
			"error", err.Error(),
		)
		return record{}, nil
	}
	return rec, nil
}

func (b *Breaker) save(ctx context.Context, key Key, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	// Records self-clean once both the window and any cooldown have passed.
	ttl := b.cfg.Window + b.cfg.Cooldown + 5*time.Minute
	return b.store.Set(ctx, key.storeKey(), string(raw), ttl)
}
