package pipeline

import (
	"time"
)

// Status is the terminal disposition of one pipeline invocation.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSuccess        Status = "success"
	StatusBudgetRejected Status = "budget_rejected"
	StatusBreakerOpen    Status = "breaker_open"
	StatusError          Status = "error"
)

// Context carries one invocation through the pipeline. It is exclusively
// owned by the call that created it and mutated only by pipeline stages in
// sequence, never concurrently. It is unrelated to context.Context.
type Context struct {
	// Identity
	AgentType string `json:"agent_type"`
	Model     string `json:"model"`
	TenantID  string `json:"tenant_id,omitempty"`

	// Input
	Payload string `json:"payload"`

	// Accounting
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	AttemptsMade int     `json:"attempts_made"`
	ModelUsed    string  `json:"model_used,omitempty"`

	// Timing
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      time.Time     `json:"completed_at"`
	TimeToFirstToken time.Duration `json:"time_to_first_token,omitempty"`

	// Outcome
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`
	Status Status `json:"status"`

	// CacheHit marks an invocation satisfied from the response cache.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// NewContext builds a pending invocation context.
func NewContext(agentType, model, payload string) *Context {
	return &Context{
		AgentType: agentType,
		Model:     model,
		Payload:   payload,
		Status:    StatusPending,
	}
}

// Duration returns the wall-clock duration of a completed invocation.
func (c *Context) Duration() time.Duration {
	if c.CompletedAt.IsZero() || c.StartedAt.IsZero() {
		return 0
	}
	return c.CompletedAt.Sub(c.StartedAt)
}

// complete stamps the terminal status and completion time.
func (c *Context) complete(status Status, err error) *Context {
	c.Status = status
	c.Err = err
	c.CompletedAt = time.Now()
	return c
}
