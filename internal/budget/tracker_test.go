package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
)

func newTestTracker(t *testing.T, cfg *config.BudgetConfig) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return NewTracker(s, cfg)
}

func TestRecordSpendAccumulates(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 5.0, ""))
	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 3.0, ""))

	global, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, global, 1e-9)

	agent, err := tracker.CurrentSpend(ctx, PeriodDaily, "researcher", "")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, agent, 1e-9)

	monthly, err := tracker.CurrentSpend(ctx, PeriodMonthly, "", "")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, monthly, 1e-9)
}

func TestRecordSpendIgnoresNonPositiveAmounts(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 0, ""))
	require.NoError(t, tracker.RecordSpend(ctx, "researcher", -1.5, ""))

	current, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestAgentSpendIsolation(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 2.0, ""))
	require.NoError(t, tracker.RecordSpend(ctx, "summarizer", 1.0, ""))

	researcher, err := tracker.CurrentSpend(ctx, PeriodDaily, "researcher", "")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, researcher, 1e-9)

	global, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, global, 1e-9)
}

func TestCheckBudgetHardRejectsGlobalDailyFirst(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:        "hard",
		GlobalDailyLimit:   10.0,
		GlobalMonthlyLimit: 10.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 10.0, ""))

	breach, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	require.Error(t, err)
	require.NotNil(t, breach)

	assert.True(t, errors.IsBudgetExceeded(err))
	scope, ok := errors.BudgetScopeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ScopeGlobalDaily, scope)
	assert.InDelta(t, 10.0, breach.Current, 1e-9)
}

func TestCheckBudgetPerAgentScope(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "hard",
		GlobalDailyLimit: 100.0,
		AgentDailyLimit:  5.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 5.0, ""))

	_, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	require.Error(t, err)

	scope, ok := errors.BudgetScopeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ScopePerAgentDaily, scope)

	// Another agent is still under its own limit
	breach, err := tracker.CheckBudget(ctx, "summarizer", "", nil)
	require.NoError(t, err)
	assert.Nil(t, breach)
}

func TestCheckBudgetExactLimitBreaches(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "hard",
		GlobalDailyLimit: 8.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 8.0, ""))

	_, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	assert.Error(t, err, "spend equal to the limit is a breach")
}

func TestCheckBudgetSoftReturnsBreachWithoutError(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "soft",
		GlobalDailyLimit: 1.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 2.0, ""))

	breach, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	require.NoError(t, err)
	require.NotNil(t, breach)
	assert.Equal(t, errors.ScopeGlobalDaily, breach.Scope)
	assert.InDelta(t, 2.0, breach.Current, 1e-9)
	assert.InDelta(t, 1.0, breach.Limit, 1e-9)
}

func TestCheckBudgetNoneNeverErrors(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "none",
		GlobalDailyLimit: 1.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 100.0, ""))

	breach, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	require.NoError(t, err)
	require.NotNil(t, breach, "the breach is still reported for observability")
}

func TestCheckBudgetUnconfiguredLimitsNeverBreach(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 1e6, ""))

	breach, err := tracker.CheckBudget(ctx, "researcher", "", nil)
	require.NoError(t, err)
	assert.Nil(t, breach)
}

func TestCheckTokenBudget(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:     "hard",
		DailyTokenLimit: 1000,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordTokens(ctx, "researcher", 999, ""))

	breach, err := tracker.CheckTokenBudget(ctx, "researcher", "", nil)
	require.NoError(t, err)
	assert.Nil(t, breach)

	require.NoError(t, tracker.RecordTokens(ctx, "researcher", 1, ""))

	_, err = tracker.CheckTokenBudget(ctx, "researcher", "", nil)
	require.Error(t, err)
	scope, ok := errors.BudgetScopeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ScopeGlobalDailyTokens, scope)
}

func TestTenantOverridesTakePrecedence(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "hard",
		GlobalDailyLimit: 100.0,
		MultiTenant:      true,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 10.0, "acme"))

	tenantCfg := &TenantConfig{Limits: Limits{GlobalDaily: 5.0}}
	_, err := tracker.CheckBudget(ctx, "researcher", "acme", tenantCfg)
	assert.Error(t, err, "tenant override lowers the global limit")

	// Enforcement can also be overridden per tenant
	tenantCfg.Enforcement = "soft"
	breach, err := tracker.CheckBudget(ctx, "researcher", "acme", tenantCfg)
	require.NoError(t, err)
	assert.NotNil(t, breach)
}

func TestTenantCountersAreScoped(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement: "hard",
		MultiTenant: true,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 4.0, "acme"))

	other, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "globex")
	require.NoError(t, err)
	assert.Zero(t, other)

	acme, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "acme")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, acme, 1e-9)
}

func TestSingleTenantModeIgnoresTenantID(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 4.0, "acme"))

	// Without multi-tenant mode every tenant shares the same counters
	shared, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "globex")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, shared, 1e-9)
}

func TestDailyCounterRollsOverAtBoundary(t *testing.T) {
	now := time.Date(2026, 8, 26, 23, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 6.0, ""))

	now = now.Add(2 * time.Hour) // past midnight, same month

	daily, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "")
	require.NoError(t, err)
	assert.Zero(t, daily, "daily counter starts fresh on a new day")

	monthly, err := tracker.CurrentSpend(ctx, PeriodMonthly, "", "")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, monthly, 1e-9)
}

func TestRemainingBudget(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "hard",
		GlobalDailyLimit: 10.0,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 4.0, ""))

	remaining, err := tracker.RemainingBudget(ctx, PeriodDaily, "", "", nil)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.InDelta(t, 6.0, *remaining, 1e-9)

	// Unconfigured limits have no remaining value
	unlimited, err := tracker.RemainingBudget(ctx, PeriodMonthly, "", "", nil)
	require.NoError(t, err)
	assert.Nil(t, unlimited)

	// Overspend floors at zero
	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 20.0, ""))
	remaining, err = tracker.RemainingBudget(ctx, PeriodDaily, "", "", nil)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.Zero(t, *remaining)
}

func TestStatusReport(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement:      "hard",
		GlobalDailyLimit: 10.0,
		AgentDailyLimit:  4.0,
		DailyTokenLimit:  1000,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 2.0, ""))
	require.NoError(t, tracker.RecordTokens(ctx, "researcher", 250, ""))

	report, err := tracker.StatusReport(ctx, "", "researcher")
	require.NoError(t, err)

	global := report["global_daily"]
	assert.InDelta(t, 2.0, global.Current, 1e-9)
	assert.InDelta(t, 8.0, global.Remaining, 1e-9)
	assert.InDelta(t, 20.0, global.PercentageUsed, 1e-9)

	agent := report["per_agent_daily:researcher"]
	assert.InDelta(t, 50.0, agent.PercentageUsed, 1e-9)

	tokens := report["global_daily_tokens"]
	assert.InDelta(t, 250.0, tokens.Current, 1e-9)
}

func TestForecastExtrapolatesRunRate(t *testing.T) {
	noon := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker(t, &config.BudgetConfig{Enforcement: "hard"}).
		WithClock(func() time.Time { return noon })
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 5.0, ""))

	forecast, err := tracker.Forecast(ctx, "")
	require.NoError(t, err)

	assert.InDelta(t, 5.0, forecast["current_daily"], 1e-9)
	assert.InDelta(t, 10.0, forecast["projected_daily"], 1e-9, "half the day spent 5, project 10")
}

func TestReset(t *testing.T) {
	tracker := newTestTracker(t, &config.BudgetConfig{
		Enforcement: "hard",
		MultiTenant: true,
	})
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 3.0, "acme"))
	require.NoError(t, tracker.RecordSpend(ctx, "researcher", 7.0, "globex"))

	require.NoError(t, tracker.Reset(ctx, "acme"))

	acme, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "acme")
	require.NoError(t, err)
	assert.Zero(t, acme)

	globex, err := tracker.CurrentSpend(ctx, PeriodDaily, "", "globex")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, globex, 1e-9)

	require.NoError(t, tracker.Reset(ctx, ""))
	globex, err = tracker.CurrentSpend(ctx, PeriodDaily, "", "globex")
	require.NoError(t, err)
	assert.Zero(t, globex)
}
