// Package pricing resolves per-model token prices for spend recording.
package pricing

import (
	"github.com/modelguard/modelguard/internal/pipeline"
	"github.com/modelguard/modelguard/pkg/config"
)

// defaultPrices holds USD per million tokens for commonly proxied models.
// Configuration overrides take precedence and can add unknown models.
var defaultPrices = map[string]pipeline.ModelPrice{
	"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":           {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"o3-mini":           {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	"claude-opus-4":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"gemini-2.5-pro":    {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gemini-2.0-flash":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"llama-3.3-70b":     {InputPerMillion: 0.59, OutputPerMillion: 0.79},
	"mistral-large":     {InputPerMillion: 2.00, OutputPerMillion: 6.00},
	"deepseek-chat":     {InputPerMillion: 0.27, OutputPerMillion: 1.10},
}

// Resolver maps model identifiers to prices. Unknown models miss, and
// callers degrade to zero-cost recording.
type Resolver struct {
	prices map[string]pipeline.ModelPrice
}

// NewResolver builds a resolver from the default table plus overrides.
func NewResolver(cfg *config.PricingConfig) *Resolver {
	prices := make(map[string]pipeline.ModelPrice, len(defaultPrices))
	for model, price := range defaultPrices {
		prices[model] = price
	}

	if cfg != nil {
		for model, pair := range cfg.Overrides {
			prices[model] = pipeline.ModelPrice{
				InputPerMillion:  pair[0],
				OutputPerMillion: pair[1],
			}
		}
	}

	return &Resolver{prices: prices}
}

// PricePerMillionTokens returns the price for a model, false on a miss.
func (r *Resolver) PricePerMillionTokens(modelID string) (pipeline.ModelPrice, bool) {
	price, ok := r.prices[modelID]
	return price, ok
}
