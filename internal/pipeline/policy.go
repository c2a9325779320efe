package pipeline

import (
	"strings"
	"time"

	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
)

// BackoffKind selects the delay progression between retries.
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is the static retry/fallback plan attached to the pipeline.
// It is an immutable value constructed once; per-tenant or per-agent
// variants are built by merging overrides at construction time.
type RetryPolicy struct {
	// MaxRetries bounds the attempts made against a single model before
	// advancing to the next fallback.
	MaxRetries      int
	Backoff         BackoffKind
	BackoffBase     time.Duration
	BackoffMaxDelay time.Duration
	// TotalTimeout caps the wall-clock time of the whole retry/fallback
	// sequence. Zero disables the ceiling.
	TotalTimeout time.Duration
	// AttemptTimeout is the hard deadline applied to each individual call.
	AttemptTimeout time.Duration
	// FallbackModels are tried in order after the primary is exhausted.
	FallbackModels []string
	// NonFallbackKinds abort the sequence immediately: no retry, no
	// fallback, the error surfaces as-is.
	NonFallbackKinds []errors.ErrorType
	// RetryableMatch marks an error retryable by message substring even
	// when its kind would not qualify.
	RetryableMatch []string
}

// defaultRetryableSubstrings are provider signals that indicate a
// transient failure regardless of how the error was classified.
var defaultRetryableSubstrings = []string{
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"overloaded",
	"quota",
	"timeout",
}

// PolicyFromConfig builds the pipeline retry policy from configuration.
func PolicyFromConfig(cfg *config.RetryConfig) RetryPolicy {
	policy := RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		Backoff:         BackoffKind(cfg.BackoffKind),
		BackoffBase:     cfg.BackoffBase,
		BackoffMaxDelay: cfg.BackoffMaxDelay,
		TotalTimeout:    cfg.TotalTimeout,
		AttemptTimeout:  cfg.AttemptTimeout,
		FallbackModels:  cfg.FallbackModels,
		NonFallbackKinds: []errors.ErrorType{
			errors.ErrorTypeValidation,
			errors.ErrorTypeAuthentication,
			errors.ErrorTypeAuthorization,
		},
	}

	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 1
	}
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = 400 * time.Millisecond
	}
	if policy.BackoffMaxDelay <= 0 {
		policy.BackoffMaxDelay = 30 * time.Second
	}

	return policy
}

// Delay returns the backoff before retrying after the n-th failed attempt
// on a model (1-indexed). Exponential backoff doubles from the base and is
// capped at the max delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if p.Backoff == BackoffConstant {
		return p.BackoffBase
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMaxDelay {
			return p.BackoffMaxDelay
		}
	}
	if delay > p.BackoffMaxDelay {
		return p.BackoffMaxDelay
	}
	return delay
}

// IsNonFallback reports whether the error must abort the sequence with no
// retry and no fallback.
func (p RetryPolicy) IsNonFallback(err error) bool {
	if err == nil {
		return false
	}
	kind := errors.GetType(err)
	for _, k := range p.NonFallbackKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the error qualifies for a retry against the
// same model: transient error kinds, or a message matching a retryable
// pattern.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeRateLimit, errors.ErrorTypeTimeout, errors.ErrorTypeExternal:
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range defaultRetryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	for _, s := range p.RetryableMatch {
		if strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}

	return false
}
