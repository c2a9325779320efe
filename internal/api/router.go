package api

import (
	"github.com/gin-gonic/gin"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/breaker"
	"github.com/modelguard/modelguard/internal/budget"
	"github.com/modelguard/modelguard/internal/pipeline"
	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/metrics"
)

// Dependencies carries the wired components the router serves.
type Dependencies struct {
	Store      store.Store
	Executor   *pipeline.Executor
	Budget     *budget.Tracker
	Breaker    *breaker.Breaker
	Dispatcher *alerting.Dispatcher
	Metrics    *metrics.Metrics
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(RequestIDMiddleware())
	router.Use(TenantMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())
	router.Use(CORSMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	// Health check endpoint (no auth required)
	healthHandler := NewHealthHandler(deps.Store)
	router.GET("/health", gin.WrapH(healthHandler))

	// Prometheus metrics
	if deps.Metrics != nil {
		router.GET("/metrics", deps.Metrics.Handler())
	}

	// API version info
	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "ModelGuard API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	// Create handlers
	invokeHandler := NewInvokeHandler(deps.Executor)
	statusHandler := NewStatusHandler(deps.Budget, deps.Breaker)
	alertsHandler := NewAlertsHandler(deps.Dispatcher)
	adminHandler := NewAdminHandler(deps.Budget, deps.Breaker)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/invoke", invokeHandler.Invoke)

		status := v1.Group("/status")
		{
			status.GET("/budget", statusHandler.GetBudgetStatus)
			status.GET("/forecast", statusHandler.GetBudgetForecast)
			status.GET("/breakers", statusHandler.GetBreakerStatus)
		}

		v1.GET("/alerts/recent", alertsHandler.GetRecentAlerts)

		admin := v1.Group("/admin")
		{
			admin.POST("/budget/reset", adminHandler.ResetBudget)
			admin.POST("/breakers/reset", adminHandler.ResetBreaker)
		}
	}

	return router
}
