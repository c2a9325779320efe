package pipeline

import (
	"context"
	"time"

	"github.com/modelguard/modelguard/internal/budget"
)

// UsageMetrics carries token usage reported by one model call attempt.
type UsageMetrics struct {
	InputTokens      int64         `json:"input_tokens"`
	OutputTokens     int64         `json:"output_tokens"`
	TimeToFirstToken time.Duration `json:"time_to_first_token,omitempty"`
}

// ModelCaller performs the actual network call to a model endpoint.
// Implementations normalize heterogeneous provider responses and classify
// failures into the typed error taxonomy before the pipeline sees them.
type ModelCaller interface {
	Invoke(ctx context.Context, modelID, payload string) (output string, usage UsageMetrics, err error)
}

// ModelPrice is a model's price in USD per million tokens.
type ModelPrice struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// PricingResolver supplies cost-per-token for spend recording. A miss
// degrades to zero-cost recording upstream.
type PricingResolver interface {
	PricePerMillionTokens(modelID string) (ModelPrice, bool)
}

// CacheStore is the response cache collaborator.
type CacheStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}

// TenantResolver supplies the current tenant identifier and an optional
// per-tenant budget configuration override. The pipeline only consumes a
// resolved identity; it never determines one.
type TenantResolver interface {
	Resolve(ctx context.Context) (tenantID string, cfg *budget.TenantConfig)
}

// Bus accepts structured named events, fire-and-forget.
type Bus interface {
	Emit(ctx context.Context, event string, payload map[string]interface{})
}
