package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/breaker"
	"github.com/modelguard/modelguard/internal/budget"
	"github.com/modelguard/modelguard/internal/pipeline"
	"github.com/modelguard/modelguard/pkg/logging"
)

// InvokeHandler runs model invocations through the pipeline
type InvokeHandler struct {
	executor *pipeline.Executor
	logger   *logging.Logger
}

// NewInvokeHandler creates a new invoke handler
func NewInvokeHandler(executor *pipeline.Executor) *InvokeHandler {
	return &InvokeHandler{
		executor: executor,
		logger:   logging.GetLogger(),
	}
}

// InvokeRequest is the body of POST /api/v1/invoke
type InvokeRequest struct {
	AgentType string `json:"agent_type" binding:"required"`
	Model     string `json:"model" binding:"required"`
	Payload   string `json:"payload" binding:"required"`
}

// InvokeResponse is the successful invocation result
type InvokeResponse struct {
	Status       string  `json:"status"`
	Output       string  `json:"output,omitempty"`
	ModelUsed    string  `json:"model_used,omitempty"`
	Attempts     int     `json:"attempts"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
	CacheHit     bool    `json:"cache_hit"`
	DurationMs   int64   `json:"duration_ms"`
	TenantID     string  `json:"tenant_id,omitempty"`
}

// Invoke handles POST /api/v1/invoke
func (h *InvokeHandler) Invoke(c *gin.Context) {
	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "agent_type, model and payload are required")
		return
	}

	pc := pipeline.NewContext(req.AgentType, req.Model, req.Payload)
	pc = h.executor.Run(c.Request.Context(), pc)

	if pc.Status != pipeline.StatusSuccess {
		ErrorResponseFromError(c, pc.Err)
		return
	}

	SuccessResponse(c, InvokeResponse{
		Status:       string(pc.Status),
		Output:       pc.Output,
		ModelUsed:    pc.ModelUsed,
		Attempts:     pc.AttemptsMade,
		InputTokens:  pc.InputTokens,
		OutputTokens: pc.OutputTokens,
		TotalCost:    pc.TotalCost,
		CacheHit:     pc.CacheHit,
		DurationMs:   pc.Duration().Milliseconds(),
		TenantID:     pc.TenantID,
	})
}

// StatusHandler serves budget and breaker status reports
type StatusHandler struct {
	budget  *budget.Tracker
	breaker *breaker.Breaker
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(tracker *budget.Tracker, brk *breaker.Breaker) *StatusHandler {
	return &StatusHandler{budget: tracker, breaker: brk}
}

// GetBudgetStatus handles GET /api/v1/status/budget
func (h *StatusHandler) GetBudgetStatus(c *gin.Context) {
	tenantID := c.Query("tenant")
	var agents []string
	if raw := c.Query("agents"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				agents = append(agents, a)
			}
		}
	}

	report, err := h.budget.StatusReport(c.Request.Context(), tenantID, agents...)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, report)
}

// GetBudgetForecast handles GET /api/v1/status/forecast
func (h *StatusHandler) GetBudgetForecast(c *gin.Context) {
	forecast, err := h.budget.Forecast(c.Request.Context(), c.Query("tenant"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, forecast)
}

// GetBreakerStatus handles GET /api/v1/status/breakers
func (h *StatusHandler) GetBreakerStatus(c *gin.Context) {
	states, err := h.breaker.StatusReport(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, states)
}

// AlertsHandler serves recent alert history
type AlertsHandler struct {
	dispatcher *alerting.Dispatcher
}

// NewAlertsHandler creates a new alerts handler
func NewAlertsHandler(d *alerting.Dispatcher) *AlertsHandler {
	return &AlertsHandler{dispatcher: d}
}

// GetRecentAlerts handles GET /api/v1/alerts/recent
func (h *AlertsHandler) GetRecentAlerts(c *gin.Context) {
	SuccessResponse(c, h.dispatcher.Recent())
}

// AdminHandler serves operational reset endpoints
type AdminHandler struct {
	budget  *budget.Tracker
	breaker *breaker.Breaker
	logger  *logging.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(tracker *budget.Tracker, brk *breaker.Breaker) *AdminHandler {
	return &AdminHandler{
		budget:  tracker,
		breaker: brk,
		logger:  logging.GetLogger(),
	}
}

// ResetBudget handles POST /api/v1/admin/budget/reset
func (h *AdminHandler) ResetBudget(c *gin.Context) {
	tenantID := c.Query("tenant")
	if err := h.budget.Reset(c.Request.Context(), tenantID); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"tenant_id": tenantID,
	}).Warn("budget counters reset")
	SuccessResponse(c, gin.H{"reset": true})
}

// ResetBreakerRequest identifies the breaker to reset
type ResetBreakerRequest struct {
	AgentType string `json:"agent_type" binding:"required"`
	Model     string `json:"model" binding:"required"`
	TenantID  string `json:"tenant_id"`
}

// ResetBreaker handles POST /api/v1/admin/breakers/reset
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	var req ResetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationErrorResponse(c, "agent_type and model are required")
		return
	}

	key := breaker.Key{AgentType: req.AgentType, ModelID: req.Model, TenantID: req.TenantID}
	if err := h.breaker.Reset(c.Request.Context(), key); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	h.logger.WithContext(c.Request.Context()).WithFields(logging.Fields{
		"agent_type": req.AgentType,
		"model_id":   req.Model,
	}).Warn("circuit breaker reset")
	SuccessResponse(c, gin.H{"reset": true})
}
