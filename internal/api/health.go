package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelguard/modelguard/internal/store"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store store.Store
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(s store.Store) *HealthHandler {
	return &HealthHandler{store: s}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
}

// ServeHTTP handles the health check request
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Checks:    make(map[string]HealthCheck),
	}

	storeStart := time.Now()
	storeErr := h.store.Ping(ctx)
	storeLatency := time.Since(storeStart)

	if storeErr != nil {
		response.Status = "unhealthy"
		response.Checks["store"] = HealthCheck{
			Status:  "unhealthy",
			Message: storeErr.Error(),
			Latency: storeLatency,
		}
	} else {
		response.Checks["store"] = HealthCheck{
			Status:  "healthy",
			Latency: storeLatency,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
