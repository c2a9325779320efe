// Package pipeline mediates every model call through budget enforcement,
// circuit breaking, caching, bounded retry/fallback and alert fan-out.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/breaker"
	"github.com/modelguard/modelguard/internal/budget"
	"github.com/modelguard/modelguard/pkg/errors"
	"github.com/modelguard/modelguard/pkg/logging"
)

// Executor sequences the stages of one invocation: budget check, breaker
// check, cache lookup, retry/fallback execution, spend recording and
// alerting. The invocation context is mutated in place.
type Executor struct {
	budget   *budget.Tracker
	breaker  *breaker.Breaker
	caller   ModelCaller
	pricing  PricingResolver
	cache    CacheStore
	tenants  TenantResolver
	alerts   *alerting.Dispatcher
	bus      Bus
	policy   RetryPolicy
	cacheTTL time.Duration
	logger   *logging.Logger
}

// ExecutorConfig wires the executor's collaborators. Cache and tenant
// resolver are optional; the rest are required.
type ExecutorConfig struct {
	Budget   *budget.Tracker
	Breaker  *breaker.Breaker
	Caller   ModelCaller
	Pricing  PricingResolver
	Cache    CacheStore
	Tenants  TenantResolver
	Alerts   *alerting.Dispatcher
	Bus      Bus
	Policy   RetryPolicy
	CacheTTL time.Duration
}

// NewExecutor creates the pipeline executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		budget:   cfg.Budget,
		breaker:  cfg.Breaker,
		caller:   cfg.Caller,
		pricing:  cfg.Pricing,
		cache:    cfg.Cache,
		tenants:  cfg.Tenants,
		alerts:   cfg.Alerts,
		bus:      cfg.Bus,
		policy:   cfg.Policy,
		cacheTTL: cfg.CacheTTL,
		logger:   logging.GetLogger(),
	}
}

// Run executes one invocation to completion or rejection. The returned
// context is the same value passed in, mutated by each stage; rejections
// surface as a status, not a panic.
func (e *Executor) Run(ctx context.Context, pc *Context) *Context {
	pc.StartedAt = time.Now()
	pc.Status = StatusPending

	var tenantCfg *budget.TenantConfig
	if pc.TenantID == "" && e.tenants != nil {
		pc.TenantID, tenantCfg = e.tenants.Resolve(ctx)
	}

	// Stage 1: budget check.
	if rejected := e.checkBudgets(ctx, pc, tenantCfg); rejected {
		return pc
	}

	// Stage 2: circuit breaker check, with fallback to the first closed
	// model when the primary is open.
	model, open := e.selectClosedModel(ctx, pc)
	if open {
		err := errors.NewBreakerOpenError(pc.AgentType, pc.Model)
		e.emit(ctx, "invocation_rejected", map[string]interface{}{
			"agent_type": pc.AgentType,
			"model":      pc.Model,
			"reason":     "breaker_open",
		})
		return pc.complete(StatusBreakerOpen, err)
	}

	// Stage 3: cache lookup.
	if e.tryCache(ctx, pc) {
		return pc
	}

	// Stage 4: retry/fallback execution.
	controller := NewRetryFallbackController(e.policyStartingAt(pc.Model, model)).withBus(e.bus)
	result, err := controller.Execute(ctx, model, func(ctx context.Context, modelID string) (string, UsageMetrics, error) {
		return e.caller.Invoke(ctx, modelID, pc.Payload)
	})

	pc.AttemptsMade = result.Attempts
	pc.ModelUsed = result.ModelUsed

	// Stage 5: breaker accounting for the models actually attempted.
	if err != nil {
		for _, attempted := range result.ModelsAttempted {
			key := breaker.Key{AgentType: pc.AgentType, ModelID: attempted, TenantID: pc.TenantID}
			if _, berr := e.breaker.RecordFailure(ctx, key); berr != nil {
				e.logger.Warn("Failed to record breaker failure",
					"model", attempted,
					"error", berr.Error(),
				)
			}
		}
		e.emit(ctx, "invocation_failed", map[string]interface{}{
			"agent_type": pc.AgentType,
			"model":      pc.Model,
			"attempts":   result.Attempts,
			"error_type": string(errors.GetType(err)),
		})
		return pc.complete(StatusError, err)
	}

	key := breaker.Key{AgentType: pc.AgentType, ModelID: result.ModelUsed, TenantID: pc.TenantID}
	if berr := e.breaker.RecordSuccess(ctx, key, true); berr != nil {
		e.logger.Warn("Failed to record breaker success",
			"model", result.ModelUsed,
			"error", berr.Error(),
		)
	}

	// Stage 6: cost and usage recording.
	pc.Output = result.Output
	pc.InputTokens = result.Usage.InputTokens
	pc.OutputTokens = result.Usage.OutputTokens
	pc.TimeToFirstToken = result.Usage.TimeToFirstToken
	e.recordCosts(ctx, pc)

	// Stage 7: cache fill.
	e.fillCache(ctx, pc)

	e.emit(ctx, "invocation_completed", map[string]interface{}{
		"agent_type":       pc.AgentType,
		"model_used":       pc.ModelUsed,
		"attempts":         pc.AttemptsMade,
		"total_cost":       pc.TotalCost,
		"tokens":           pc.InputTokens + pc.OutputTokens,
		"duration_seconds": time.Since(pc.StartedAt).Seconds(),
	})

	return pc.complete(StatusSuccess, nil)
}

// checkBudgets evaluates spend and token budgets. A hard breach rejects
// the invocation; a soft breach only alerts.
func (e *Executor) checkBudgets(ctx context.Context, pc *Context, tenantCfg *budget.TenantConfig) bool {
	for _, check := range []func(context.Context, string, string, *budget.TenantConfig) (*budget.Breach, error){
		e.budget.CheckBudget,
		e.budget.CheckTokenBudget,
	} {
		breach, err := check(ctx, pc.AgentType, pc.TenantID, tenantCfg)
		if err != nil {
			scope, _ := errors.BudgetScopeOf(err)
			e.notify(ctx, alerting.EventBudgetHardCap, map[string]interface{}{
				"agent_type": pc.AgentType,
				"scope":      string(scope),
				"current":    breach.Current,
				"limit":      breach.Limit,
			}, pc.TenantID)
			e.emit(ctx, "invocation_rejected", map[string]interface{}{
				"agent_type": pc.AgentType,
				"reason":     "budget",
				"scope":      string(scope),
			})
			pc.complete(StatusBudgetRejected, err)
			return true
		}
		if breach != nil {
			e.notify(ctx, alerting.EventBudgetSoftCap, map[string]interface{}{
				"agent_type": pc.AgentType,
				"scope":      string(breach.Scope),
				"current":    breach.Current,
				"limit":      breach.Limit,
			}, pc.TenantID)
		}
	}
	return false
}

// selectClosedModel returns the primary model, or the first fallback whose
// breaker is closed when the primary's is open. The second return is true
// when every candidate is open.
func (e *Executor) selectClosedModel(ctx context.Context, pc *Context) (string, bool) {
	candidates := append([]string{pc.Model}, e.policy.FallbackModels...)

	for _, model := range candidates {
		key := breaker.Key{AgentType: pc.AgentType, ModelID: model, TenantID: pc.TenantID}
		open, err := e.breaker.IsOpen(ctx, key)
		if err != nil {
			// Breaker state being unreadable must not block calls.
			e.logger.Warn("Breaker state read failed, treating as closed",
				"model", model,
				"error", err.Error(),
			)
			return model, false
		}
		if !open {
			if model != pc.Model {
				e.logger.Info("Primary model breaker open, starting from fallback",
					"agent_type", pc.AgentType,
					"primary", pc.Model,
					"selected", model,
				)
			}
			return model, false
		}
	}

	return "", true
}

// policyStartingAt trims the fallback list when the sequence starts at a
// fallback model, so earlier (open) models are not revisited.
func (e *Executor) policyStartingAt(primary, selected string) RetryPolicy {
	if selected == primary {
		return e.policy
	}

	for i, fb := range e.policy.FallbackModels {
		if fb == selected {
			trimmed := e.policy
			trimmed.FallbackModels = e.policy.FallbackModels[i+1:]
			return trimmed
		}
	}
	return e.policy
}

func (e *Executor) tryCache(ctx context.Context, pc *Context) bool {
	if e.cache == nil {
		return false
	}

	value, ok, err := e.cache.Get(ctx, cacheKey(pc))
	if err != nil {
		e.logger.Warn("Cache lookup failed", "error", err.Error())
		return false
	}
	if !ok {
		e.emit(ctx, "cache_miss", map[string]interface{}{"agent_type": pc.AgentType})
		return false
	}

	pc.Output = value
	pc.ModelUsed = pc.Model
	pc.CacheHit = true
	e.emit(ctx, "cache_hit", map[string]interface{}{"agent_type": pc.AgentType})
	pc.complete(StatusSuccess, nil)
	return true
}

func (e *Executor) fillCache(ctx context.Context, pc *Context) {
	if e.cache == nil || pc.Output == "" {
		return
	}
	if err := e.cache.Put(ctx, cacheKey(pc), pc.Output, e.cacheTTL); err != nil {
		e.logger.Warn("Cache fill failed", "error", err.Error())
	}
}

// recordCosts resolves pricing for the model actually used and records
// spend and token usage. A pricing miss degrades to zero-cost recording.
func (e *Executor) recordCosts(ctx context.Context, pc *Context) {
	if price, ok := e.pricing.PricePerMillionTokens(pc.ModelUsed); ok {
		pc.InputCost = float64(pc.InputTokens) / 1e6 * price.InputPerMillion
		pc.OutputCost = float64(pc.OutputTokens) / 1e6 * price.OutputPerMillion
	} else {
		e.logger.Debug("No pricing for model, recording zero cost",
			"model", pc.ModelUsed,
		)
	}
	pc.TotalCost = pc.InputCost + pc.OutputCost

	if err := e.budget.RecordSpend(ctx, pc.AgentType, pc.TotalCost, pc.TenantID); err != nil {
		e.logger.Warn("Failed to record spend", "error", err.Error())
	}
	if err := e.budget.RecordTokens(ctx, pc.AgentType, pc.InputTokens+pc.OutputTokens, pc.TenantID); err != nil {
		e.logger.Warn("Failed to record tokens", "error", err.Error())
	}
}

func (e *Executor) notify(ctx context.Context, kind alerting.EventKind, payload map[string]interface{}, tenantID string) {
	if e.alerts != nil {
		e.alerts.NotifyTenant(ctx, kind, payload, tenantID)
	}
}

func (e *Executor) emit(ctx context.Context, event string, payload map[string]interface{}) {
	if e.bus != nil {
		e.bus.Emit(ctx, event, payload)
	}
}

func cacheKey(pc *Context) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", pc.AgentType, pc.Model, pc.Payload)))
	return "response:" + hex.EncodeToString(sum[:])
}
