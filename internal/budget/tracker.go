// Package budget provides time-windowed spend and token accounting with
// configurable enforcement, backed by the shared counter store so limits
// hold across process instances.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
	"github.com/modelguard/modelguard/pkg/logging"
)

// Period is a budget accounting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Counter key TTLs run slightly longer than the period so stale keys
// self-clean without an explicit sweep.
const (
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 35 * 24 * time.Hour
)

// Limits holds effective budget limits. Zero means not configured.
type Limits struct {
	GlobalDaily   float64 `json:"global_daily"`
	GlobalMonthly float64 `json:"global_monthly"`
	AgentDaily    float64 `json:"agent_daily"`
	AgentMonthly  float64 `json:"agent_monthly"`
	DailyTokens   int64   `json:"daily_tokens"`
	MonthlyTokens int64   `json:"monthly_tokens"`
}

// TenantConfig is a runtime per-tenant override resolved by the caller.
// Non-zero fields take precedence over the static configuration.
type TenantConfig struct {
	Limits      Limits `json:"limits"`
	Enforcement string `json:"enforcement,omitempty"`
}

// Breach describes a budget limit found at or over budget. Under hard
// enforcement it is surfaced as an error; under soft enforcement it is
// returned for the caller to alert on.
type Breach struct {
	Scope   errors.BudgetScope `json:"scope"`
	Current float64            `json:"current"`
	Limit   float64            `json:"limit"`
}

// Status describes one configured budget for operational tooling.
type Status struct {
	Limit          float64 `json:"limit"`
	Current        float64 `json:"current"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
}

// Tracker accumulates spend and token usage in the shared store and
// answers budget checks.
type Tracker struct {
	store  store.Store
	cfg    *config.BudgetConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewTracker creates a budget tracker over the shared counter store.
func NewTracker(s store.Store, cfg *config.BudgetConfig) *Tracker {
	return &Tracker{
		store:  s,
		cfg:    cfg,
		logger: logging.GetLogger(),
		now:    time.Now,
	}
}

// WithClock overrides the tracker's clock. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordSpend atomically adds amount to the global and per-agent daily and
// monthly spend counters. Nil, zero and negative amounts are no-ops.
func (t *Tracker) RecordSpend(ctx context.Context, agentType string, amount float64, tenantID string) error {
	if amount <= 0 {
		return nil
	}

	now := t.now()
	keys := []struct {
		key string
		ttl time.Duration
	}{
		{t.spendKey("global", PeriodDaily, now, tenantID), dailyTTL},
		{t.spendKey("global", PeriodMonthly, now, tenantID), monthlyTTL},
		{t.agentSpendKey(agentType, PeriodDaily, now, tenantID), dailyTTL},
		{t.agentSpendKey(agentType, PeriodMonthly, now, tenantID), monthlyTTL},
	}

	for _, k := range keys {
		if _, err := t.store.IncrByFloat(ctx, k.key, amount, k.ttl); err != nil {
			return err
		}
	}

	return nil
}

// RecordTokens atomically adds tokenCount to the global daily and monthly
// token counters. Zero and negative counts are no-ops.
func (t *Tracker) RecordTokens(ctx context.Context, agentType string, tokenCount int64, tenantID string) error {
	if tokenCount <= 0 {
		return nil
	}

	now := t.now()
	if _, err := t.store.IncrBy(ctx, t.tokenKey(PeriodDaily, now, tenantID), tokenCount, dailyTTL); err != nil {
		return err
	}
	if _, err := t.store.IncrBy(ctx, t.tokenKey(PeriodMonthly, now, tenantID), tokenCount, monthlyTTL); err != nil {
		return err
	}

	return nil
}

// CurrentSpend returns the accumulated spend for the period. An empty
// agentType reads the global counter. Missing counters read as 0.
func (t *Tracker) CurrentSpend(ctx context.Context, period Period, agentType, tenantID string) (float64, error) {
	key := t.spendKey("global", period, t.now(), tenantID)
	if agentType != "" {
		key = t.agentSpendKey(agentType, period, t.now(), tenantID)
	}
	return t.store.GetFloat(ctx, key)
}

// CurrentTokens returns the accumulated token count for the period.
func (t *Tracker) CurrentTokens(ctx context.Context, period Period, tenantID string) (int64, error) {
	return t.store.GetInt(ctx, t.tokenKey(period, t.now(), tenantID))
}

// RemainingBudget returns limit minus current spend, floored at 0.
// It returns nil when no limit is configured for the scope and period.
func (t *Tracker) RemainingBudget(ctx context.Context, period Period, agentType, tenantID string, tenantCfg *TenantConfig) (*float64, error) {
	limits := t.effectiveLimits(tenantCfg)

	var limit float64
	switch {
	case agentType == "" && period == PeriodDaily:
		limit = limits.GlobalDaily
	case agentType == "" && period == PeriodMonthly:
		limit = limits.GlobalMonthly
	case period == PeriodDaily:
		limit = limits.AgentDaily
	default:
		limit = limits.AgentMonthly
	}

	if limit <= 0 {
		return nil, nil
	}

	current, err := t.CurrentSpend(ctx, period, agentType, tenantID)
	if err != nil {
		return nil, err
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}

// CheckBudget evaluates every configured spend limit in order — global
// daily, global monthly, per-agent daily, per-agent monthly — and reports
// the first one found at or over budget. Under hard enforcement the breach
// is returned as an error; under soft or none it is returned as a value
// for the caller to alert on.
func (t *Tracker) CheckBudget(ctx context.Context, agentType, tenantID string, tenantCfg *TenantConfig) (*Breach, error) {
	limits := t.effectiveLimits(tenantCfg)

	checks := []struct {
		scope     errors.BudgetScope
		limit     float64
		period    Period
		agentType string
	}{
		{errors.ScopeGlobalDaily, limits.GlobalDaily, PeriodDaily, ""},
		{errors.ScopeGlobalMonthly, limits.GlobalMonthly, PeriodMonthly, ""},
		{errors.ScopePerAgentDaily, limits.AgentDaily, PeriodDaily, agentType},
		{errors.ScopePerAgentMonthly, limits.AgentMonthly, PeriodMonthly, agentType},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}

		current, err := t.CurrentSpend(ctx, check.period, check.agentType, tenantID)
		if err != nil {
			// Store failures degrade to unlimited rather than blocking calls.
			t.logger.Warn("Budget counter read failed, treating as unlimited",
				"scope", string(check.scope),
				"error", err.Error(),
			)
			continue
		}

		if current >= check.limit {
			breach := &Breach{Scope: check.scope, Current: current, Limit: check.limit}
			if t.enforcement(tenantCfg) == "hard" {
				return breach, errors.NewBudgetExceededError(check.scope, current, check.limit)
			}
			return breach, nil
		}
	}

	return nil, nil
}

// CheckTokenBudget evaluates the global token limits, daily then monthly,
// with the same enforcement semantics as CheckBudget.
func (t *Tracker) CheckTokenBudget(ctx context.Context, agentType, tenantID string, tenantCfg *TenantConfig) (*Breach, error) {
	limits := t.effectiveLimits(tenantCfg)

	checks := []struct {
		scope  errors.BudgetScope
		limit  int64
		period Period
	}{
		{errors.ScopeGlobalDailyTokens, limits.DailyTokens, PeriodDaily},
		{errors.ScopeGlobalMonthlyTokens, limits.MonthlyTokens, PeriodMonthly},
	}

	for _, check := range checks {
		if check.limit <= 0 {
			continue
		}

		current, err := t.CurrentTokens(ctx, check.period, tenantID)
		if err != nil {
			t.logger.Warn("Token counter read failed, treating as unlimited",
				"scope", string(check.scope),
				"error", err.Error(),
			)
			continue
		}

		if current >= check.limit {
			breach := &Breach{Scope: check.scope, Current: float64(current), Limit: float64(check.limit)}
			if t.enforcement(tenantCfg) == "hard" {
				return breach, errors.NewBudgetExceededError(check.scope, float64(current), float64(check.limit))
			}
			return breach, nil
		}
	}

	return nil, nil
}

// Forecast extrapolates the current period run-rate to an end-of-period
// projection. Observability only; derived entirely from current spend.
func (t *Tracker) Forecast(ctx context.Context, tenantID string) (map[string]float64, error) {
	now := t.now()

	daily, err := t.CurrentSpend(ctx, PeriodDaily, "", tenantID)
	if err != nil {
		return nil, err
	}
	monthly, err := t.CurrentSpend(ctx, PeriodMonthly, "", tenantID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayFraction := now.Sub(dayStart).Seconds() / (24 * time.Hour).Seconds()
	if dayFraction <= 0 {
		dayFraction = 1.0 / (24 * 60 * 60)
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)
	monthFraction := now.Sub(monthStart).Seconds() / monthEnd.Sub(monthStart).Seconds()
	if monthFraction <= 0 {
		monthFraction = 1.0 / (31 * 24 * 60 * 60)
	}

	return map[string]float64{
		"current_daily":     daily,
		"current_monthly":   monthly,
		"projected_daily":   daily / dayFraction,
		"projected_monthly": monthly / monthFraction,
	}, nil
}

// StatusReport returns the limit, current spend, remaining and utilization
// of every configured budget. Per-agent entries are included for the given
// agent types under "per_agent_<period>:<agent>" keys.
func (t *Tracker) StatusReport(ctx context.Context, tenantID string, agentTypes ...string) (map[string]Status, error) {
	limits := t.effectiveLimits(nil)
	report := make(map[string]Status)

	add := func(name string, limit float64, period Period, agentType string) error {
		if limit <= 0 {
			return nil
		}
		current, err := t.CurrentSpend(ctx, period, agentType, tenantID)
		if err != nil {
			return err
		}
		remaining := limit - current
		if remaining < 0 {
			remaining = 0
		}
		report[name] = Status{
			Limit:          limit,
			Current:        current,
			Remaining:      remaining,
			PercentageUsed: current / limit * 100,
		}
		return nil
	}

	if err := add(string(errors.ScopeGlobalDaily), limits.GlobalDaily, PeriodDaily, ""); err != nil {
		return nil, err
	}
	if err := add(string(errors.ScopeGlobalMonthly), limits.GlobalMonthly, PeriodMonthly, ""); err != nil {
		return nil, err
	}

	for _, agent := range agentTypes {
		if err := add(fmt.Sprintf("per_agent_daily:%s", agent), limits.AgentDaily, PeriodDaily, agent); err != nil {
			return nil, err
		}
		if err := add(fmt.Sprintf("per_agent_monthly:%s", agent), limits.AgentMonthly, PeriodMonthly, agent); err != nil {
			return nil, err
		}
	}

	for _, tc := range []struct {
		scope  errors.BudgetScope
		limit  int64
		period Period
	}{
		{errors.ScopeGlobalDailyTokens, limits.DailyTokens, PeriodDaily},
		{errors.ScopeGlobalMonthlyTokens, limits.MonthlyTokens, PeriodMonthly},
	} {
		if tc.limit <= 0 {
			continue
		}
		current, err := t.CurrentTokens(ctx, tc.period, tenantID)
		if err != nil {
			return nil, err
		}
		remaining := tc.limit - current
		if remaining < 0 {
			remaining = 0
		}
		report[string(tc.scope)] = Status{
			Limit:          float64(tc.limit),
			Current:        float64(current),
			Remaining:      float64(remaining),
			PercentageUsed: float64(current) / float64(tc.limit) * 100,
		}
	}

	return report, nil
}

// Reset clears budget counters. With a tenantID only that tenant's scoped
// counters are cleared; otherwise every budget counter is.
func (t *Tracker) Reset(ctx context.Context, tenantID string) error {
	if tenantID != "" {
		return t.store.DeleteByPrefix(ctx, fmt.Sprintf("budget:%s:", tenantID))
	}
	return t.store.DeleteByPrefix(ctx, "budget:")
}

func (t *Tracker) enforcement(tenantCfg *TenantConfig) string {
	if tenantCfg != nil && tenantCfg.Enforcement != "" {
		return tenantCfg.Enforcement
	}
	return t.cfg.Enforcement
}

// effectiveLimits merges static configuration with runtime tenant overrides.
func (t *Tracker) effectiveLimits(tenantCfg *TenantConfig) Limits {
	limits := Limits{
		GlobalDaily:   t.cfg.GlobalDailyLimit,
		GlobalMonthly: t.cfg.GlobalMonthlyLimit,
		AgentDaily:    t.cfg.AgentDailyLimit,
		AgentMonthly:  t.cfg.AgentMonthlyLimit,
		DailyTokens:   t.cfg.DailyTokenLimit,
		MonthlyTokens: t.cfg.MonthlyTokenLimit,
	}

	if tenantCfg == nil {
		return limits
	}

	if tenantCfg.Limits.GlobalDaily > 0 {
		limits.GlobalDaily = tenantCfg.Limits.GlobalDaily
	}
	if tenantCfg.Limits.GlobalMonthly > 0 {
		limits.GlobalMonthly = tenantCfg.Limits.GlobalMonthly
	}
	if tenantCfg.Limits.AgentDaily > 0 {
		limits.AgentDaily = tenantCfg.Limits.AgentDaily
	}
	if tenantCfg.Limits.AgentMonthly > 0 {
		limits.AgentMonthly = tenantCfg.Limits.AgentMonthly
	}
	if tenantCfg.Limits.DailyTokens > 0 {
		limits.DailyTokens = tenantCfg.Limits.DailyTokens
	}
	if tenantCfg.Limits.MonthlyTokens > 0 {
		limits.MonthlyTokens = tenantCfg.Limits.MonthlyTokens
	}

	return limits
}

// Key layout: budget:<tenant|->:spend:global:<period>:<boundary>
//             budget:<tenant|->:spend:agent:<agent>:<period>:<boundary>
//             budget:<tenant|->:tokens:<period>:<boundary>
// The boundary encodes the calendar day or month so a new period starts
// on a fresh key and old ones expire on their TTL.

func (t *Tracker) tenantSegment(tenantID string) string {
	if tenantID == "" || !t.cfg.MultiTenant {
		return "-"
	}
	return tenantID
}

func (t *Tracker) spendKey(scope string, period Period, now time.Time, tenantID string) string {
	return fmt.Sprintf("budget:%s:spend:%s:%s:%s",
		t.tenantSegment(tenantID), scope, period, periodBoundary(period, now))
}

func (t *Tracker) agentSpendKey(agentType string, period Period, now time.Time, tenantID string) string {
	return fmt.Sprintf("budget:%s:spend:agent:%s:%s:%s",
		t.tenantSegment(tenantID), agentType, period, periodBoundary(period, now))
}

func (t *Tracker) tokenKey(period Period, now time.Time, tenantID string) string {
	return fmt.Sprintf("budget:%s:tokens:%s:%s",
		t.tenantSegment(tenantID), period, periodBoundary(period, now))
}

func periodBoundary(period Period, now time.Time) string {
	if period == PeriodMonthly {
		return now.Format("2006-01")
	}
	return now.Format("2006-01-02")
}
