package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeBudget         ErrorType = "budget"
	ErrorTypeBreakerOpen    ErrorType = "breaker_open"
)

// BudgetScope identifies which configured budget limit tripped a check.
type BudgetScope string

const (
	ScopeGlobalDaily         BudgetScope = "global_daily"
	ScopeGlobalMonthly       BudgetScope = "global_monthly"
	ScopePerAgentDaily       BudgetScope = "per_agent_daily"
	ScopePerAgentMonthly     BudgetScope = "per_agent_monthly"
	ScopeGlobalDailyTokens   BudgetScope = "global_daily_tokens"
	ScopeGlobalMonthlyTokens BudgetScope = "global_monthly_tokens"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// NewBudgetExceededError signals a hard budget breach for the given scope.
func NewBudgetExceededError(scope BudgetScope, current, limit float64) *AppError {
	return NewAppError(ErrorTypeBudget, "BUDGET_EXCEEDED",
		fmt.Sprintf("budget exceeded for %s: %.4f >= %.4f", scope, current, limit)).
		WithDetail("scope", string(scope)).
		WithDetail("current", fmt.Sprintf("%.4f", current)).
		WithDetail("limit", fmt.Sprintf("%.4f", limit))
}

// NewBreakerOpenError signals that a circuit breaker is rejecting calls
// for the given agent/model pair.
func NewBreakerOpenError(agentType, modelID string) *AppError {
	return NewAppError(ErrorTypeBreakerOpen, "BREAKER_OPEN",
		fmt.Sprintf("circuit breaker open for agent %q model %q", agentType, modelID)).
		WithDetail("agent_type", agentType).
		WithDetail("model_id", modelID)
}

// NewModelCallError wraps an upstream model provider failure.
func NewModelCallError(errorType ErrorType, modelID, message string) *AppError {
	return NewAppError(errorType, "MODEL_CALL_ERROR", message).
		WithDetail("model_id", modelID)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsBudgetExceeded reports whether err is a hard budget breach.
func IsBudgetExceeded(err error) bool {
	return IsType(err, ErrorTypeBudget)
}

// BudgetScopeOf returns the tripped scope of a budget error, if any.
func BudgetScopeOf(err error) (BudgetScope, bool) {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Type != ErrorTypeBudget {
		return "", false
	}
	return BudgetScope(appErr.Details["scope"]), true
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
