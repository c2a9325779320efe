package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/modelguard/modelguard/pkg/errors"
	"github.com/modelguard/modelguard/pkg/logging"
)

// CallFunc performs one attempt against a model.
type CallFunc func(ctx context.Context, modelID string) (output string, usage UsageMetrics, err error)

// AttemptResult reports the outcome of a retry/fallback sequence. It is
// populated even when the sequence fails so the caller can see which
// models were attempted.
type AttemptResult struct {
	Output          string
	Usage           UsageMetrics
	ModelUsed       string
	Attempts        int
	ModelsAttempted []string
}

// RetryFallbackController performs one logical call, retrying and falling
// back per policy while respecting the total wall-clock ceiling.
type RetryFallbackController struct {
	policy RetryPolicy
	logger *logging.Logger
	bus    Bus
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryFallbackController creates a controller for the given policy.
func NewRetryFallbackController(policy RetryPolicy) *RetryFallbackController {
	return &RetryFallbackController{
		policy: policy,
		logger: logging.GetLogger(),
		sleep:  sleepWithContext,
	}
}

// withBus attaches an instrumentation bus for attempt and fallback events.
func (c *RetryFallbackController) withBus(bus Bus) *RetryFallbackController {
	c.bus = bus
	return c
}

// withSleep overrides the backoff sleeper. Used by tests.
func (c *RetryFallbackController) withSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryFallbackController {
	c.sleep = sleep
	return c
}

// Execute runs the sequence starting with primaryModel and advancing
// through the policy's fallback list. The returned result is never nil.
func (c *RetryFallbackController) Execute(ctx context.Context, primaryModel string, call CallFunc) (*AttemptResult, error) {
	models := append([]string{primaryModel}, c.policy.FallbackModels...)
	result := &AttemptResult{}
	start := time.Now()

	var lastErr error

	for modelIdx, model := range models {
		attemptsOnModel := 0
		result.ModelsAttempted = append(result.ModelsAttempted, model)

		if modelIdx > 0 {
			c.logger.Info("Falling back to next model",
				"from_model", models[modelIdx-1],
				"to_model", model,
			)
			c.emit(ctx, "model_fallback", map[string]interface{}{
				"from_model": models[modelIdx-1],
				"to_model":   model,
			})
		}

		for {
			if err := c.checkTotalTimeout(start); err != nil {
				return result, err
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			attemptsOnModel++
			result.Attempts++

			output, usage, err := c.attempt(ctx, model, call)
			c.emit(ctx, "model_attempt", map[string]interface{}{
				"model":   model,
				"outcome": attemptOutcome(err),
			})
			if err == nil {
				result.Output = output
				result.Usage = usage
				result.ModelUsed = model
				if result.Attempts > 1 {
					c.logger.Info("Call succeeded after retries",
						"model", model,
						"attempts", result.Attempts,
					)
				}
				return result, nil
			}

			lastErr = c.tagError(err, model, result.Attempts)

			if c.policy.IsNonFallback(err) {
				c.logger.Debug("Error is non-fallback, aborting",
					"model", model,
					"error", err.Error(),
				)
				return result, lastErr
			}

			if c.policy.IsRetryable(err) && attemptsOnModel < c.policy.MaxRetries {
				delay := c.policy.Delay(attemptsOnModel)
				c.logger.Debug("Attempt failed, retrying",
					"model", model,
					"attempt", attemptsOnModel,
					"delay", delay.String(),
					"error", err.Error(),
				)
				if err := c.sleep(ctx, delay); err != nil {
					return result, err
				}
				continue
			}

			// Retries for this model are exhausted, or the error is not
			// retryable but still fallback-eligible.
			break
		}
	}

	c.logger.Error("All models exhausted",
		"attempts", result.Attempts,
		"models", result.ModelsAttempted,
	)

	return result, lastErr
}

// attempt runs one call under the per-attempt deadline.
func (c *RetryFallbackController) attempt(ctx context.Context, model string, call CallFunc) (string, UsageMetrics, error) {
	if c.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
		defer cancel()
	}
	return call(ctx, model)
}

func (c *RetryFallbackController) checkTotalTimeout(start time.Time) error {
	if c.policy.TotalTimeout > 0 && time.Since(start) >= c.policy.TotalTimeout {
		return errors.NewTimeoutError("retry/fallback sequence").
			WithDetail("total_timeout", c.policy.TotalTimeout.String())
	}
	return nil
}

func (c *RetryFallbackController) emit(ctx context.Context, event string, payload map[string]interface{}) {
	if c.bus != nil {
		c.bus.Emit(ctx, event, payload)
	}
}

func attemptOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

// tagError annotates the terminal error with the model and attempt that
// produced it.
func (c *RetryFallbackController) tagError(err error, model string, attempt int) error {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.
			WithDetail("model_id", model).
			WithDetail("attempt", fmt.Sprintf("%d", attempt))
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
