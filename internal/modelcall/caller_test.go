package modelcall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/errors"
)

func newTestCaller(handler http.HandlerFunc) (*HTTPCaller, *httptest.Server) {
	srv := httptest.NewServer(handler)
	caller := NewHTTPCaller(&config.ModelConfig{
		EndpointURL: srv.URL,
		APIKey:      "test-key",
		Timeout:     5 * time.Second,
	})
	return caller, srv
}

func TestInvokeSuccess(t *testing.T) {
	caller, srv := newTestCaller(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, "summarize this", req.Input)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"output": "a summary",
			"usage":  map[string]int64{"input_tokens": 120, "output_tokens": 40},
		})
	})
	defer srv.Close()

	output, usage, err := caller.Invoke(context.Background(), "gpt-4o", "summarize this")
	require.NoError(t, err)

	assert.Equal(t, "a summary", output)
	assert.Equal(t, int64(120), usage.InputTokens)
	assert.Equal(t, int64(40), usage.OutputTokens)
	assert.Greater(t, usage.TimeToFirstToken, time.Duration(0))
}

func TestInvokeStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errors.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{"request timeout", http.StatusRequestTimeout, errors.ErrorTypeTimeout},
		{"gateway timeout", http.StatusGatewayTimeout, errors.ErrorTypeTimeout},
		{"unauthorized", http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{"forbidden", http.StatusForbidden, errors.ErrorTypeAuthentication},
		{"server error", http.StatusInternalServerError, errors.ErrorTypeExternal},
		{"bad gateway", http.StatusBadGateway, errors.ErrorTypeExternal},
		{"bad request", http.StatusBadRequest, errors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, srv := newTestCaller(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"message": "upstream says no"},
				})
			})
			defer srv.Close()

			_, _, err := caller.Invoke(context.Background(), "gpt-4o", "payload")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.want), "status %d should map to %s, got %s",
				tt.status, tt.want, errors.GetType(err))
		})
	}
}

func TestInvokeErrorMessageSurfaced(t *testing.T) {
	caller, srv := newTestCaller(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "quota exhausted"},
		})
	})
	defer srv.Close()

	_, _, err := caller.Invoke(context.Background(), "gpt-4o", "payload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
	assert.Contains(t, err.Error(), "429")
}

func TestInvokeDeadlineExceeded(t *testing.T) {
	caller, srv := newTestCaller(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := caller.Invoke(ctx, "gpt-4o", "payload")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestInvokeTransportFailure(t *testing.T) {
	caller, srv := newTestCaller(func(w http.ResponseWriter, _ *http.Request) {})
	srv.Close() // connection refused from here on

	_, _, err := caller.Invoke(context.Background(), "gpt-4o", "payload")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}
