// Package modelcall provides an HTTP model caller for OpenAI-compatible
// completion endpoints. It normalizes transport failures and status codes
// into the typed error taxonomy so the pipeline can classify retryability
// without knowing about providers.
package modelcall

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/modelguard/modelguard/internal/pipeline"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
)

// completionRequest is the wire shape sent to the endpoint.
type completionRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// completionResponse is the settled shape every provider response is
// normalized into by the endpoint.
type completionResponse struct {
	Output string `json:"output"`
	Usage  struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPCaller implements pipeline.ModelCaller against a single endpoint URL.
type HTTPCaller struct {
	client *resty.Client
	url    string
}

// NewHTTPCaller creates a caller for the configured model endpoint.
func NewHTTPCaller(cfg *config.ModelConfig) *HTTPCaller {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPCaller{
		client: client,
		url:    cfg.EndpointURL,
	}
}

// Invoke performs one call attempt and returns the output with its usage
// metrics, or a classified error.
func (c *HTTPCaller) Invoke(ctx context.Context, modelID, payload string) (string, pipeline.UsageMetrics, error) {
	start := time.Now()

	var result completionResponse
	var apiErr errorResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(completionRequest{Model: modelID, Input: payload}).
		SetResult(&result).
		SetError(&apiErr).
		Post(c.url)

	if err != nil {
		return "", pipeline.UsageMetrics{}, classifyTransportError(ctx, modelID, err)
	}

	if resp.IsError() {
		return "", pipeline.UsageMetrics{}, classifyStatus(modelID, resp.StatusCode(), apiErr.Error.Message)
	}

	usage := pipeline.UsageMetrics{
		InputTokens:      result.Usage.InputTokens,
		OutputTokens:     result.Usage.OutputTokens,
		TimeToFirstToken: time.Since(start),
	}

	return result.Output, usage, nil
}

func classifyTransportError(ctx context.Context, modelID string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewModelCallError(errors.ErrorTypeTimeout, modelID, "model call deadline exceeded").WithCause(err)
	}
	if ctx.Err() == context.Canceled {
		return errors.NewModelCallError(errors.ErrorTypeTimeout, modelID, "model call canceled").WithCause(err)
	}
	return errors.NewModelCallError(errors.ErrorTypeExternal, modelID,
		fmt.Sprintf("model call transport failure: %v", err)).WithCause(err)
}

// classifyStatus maps HTTP status codes onto the error taxonomy the retry
// policy understands.
func classifyStatus(modelID string, status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	detail := fmt.Sprintf("model endpoint returned %d: %s", status, message)

	switch {
	case status == http.StatusTooManyRequests:
		return errors.NewModelCallError(errors.ErrorTypeRateLimit, modelID, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errors.NewModelCallError(errors.ErrorTypeTimeout, modelID, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.NewModelCallError(errors.ErrorTypeAuthentication, modelID, detail)
	case status >= 500:
		return errors.NewModelCallError(errors.ErrorTypeExternal, modelID, detail)
	default:
		return errors.NewModelCallError(errors.ErrorTypeValidation, modelID, detail)
	}
}
