package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics and doubles as the instrumentation
// bus the pipeline emits structured events to.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	AttemptsTotal      *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec

	// Budget metrics
	SpendRecordedTotal  *prometheus.CounterVec
	TokensRecordedTotal *prometheus.CounterVec
	BudgetRejections    *prometheus.CounterVec

	// Breaker metrics
	BreakerOpensTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Event bus metrics
	EventsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "modelguard",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "invocations_total",
				Help:      "Total number of pipeline invocations",
			},
			[]string{"agent_type", "model", "status"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Pipeline invocation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent_type", "model", "status"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "model_attempts_total",
				Help:      "Total number of model call attempts",
			},
			[]string{"model", "outcome"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "model_fallbacks_total",
				Help:      "Total number of fallback transitions between models",
			},
			[]string{"from_model", "to_model"},
		),
		SpendRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "spend_recorded_usd_total",
				Help:      "Total spend recorded in USD",
			},
			[]string{"agent_type"},
		),
		TokensRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "tokens_recorded_total",
				Help:      "Total tokens recorded",
			},
			[]string{"agent_type"},
		),
		BudgetRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "budget_rejections_total",
				Help:      "Total invocations rejected by budget enforcement",
			},
			[]string{"scope"},
		),
		BreakerOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "breaker_opens_total",
				Help:      "Total circuit breaker open transitions",
			},
			[]string{"agent_type", "model"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_hits_total",
				Help:      "Total response cache hits",
			},
			[]string{"agent_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_misses_total",
				Help:      "Total response cache misses",
			},
			[]string{"agent_type"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "events_total",
				Help:      "Total structured events emitted on the instrumentation bus",
			},
			[]string{"event"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvocationsTotal,
		m.InvocationDuration,
		m.AttemptsTotal,
		m.FallbacksTotal,
		m.SpendRecordedTotal,
		m.TokensRecordedTotal,
		m.BudgetRejections,
		m.BreakerOpensTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsTotal,
	)

	return m
}

// Emit records a structured named event. It implements the instrumentation
// bus consumed by the alert dispatcher and the pipeline. Every event counts
// on EventsTotal; known events additionally update their dedicated vectors.
func (m *Metrics) Emit(ctx context.Context, event string, payload map[string]interface{}) {
	if m.EventsTotal == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()

	label := func(key string) string {
		if v, ok := payload[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return "unknown"
	}

	switch event {
	case "invocation_completed":
		m.InvocationsTotal.WithLabelValues(label("agent_type"), label("model_used"), "success").Inc()
		if d, ok := payload["duration_seconds"].(float64); ok {
			m.InvocationDuration.WithLabelValues(label("agent_type"), label("model_used"), "success").Observe(d)
		}
		if cost, ok := payload["total_cost"].(float64); ok {
			m.SpendRecordedTotal.WithLabelValues(label("agent_type")).Add(cost)
		}
		if tokens, ok := payload["tokens"].(int64); ok {
			m.TokensRecordedTotal.WithLabelValues(label("agent_type")).Add(float64(tokens))
		}
	case "invocation_failed":
		m.InvocationsTotal.WithLabelValues(label("agent_type"), label("model"), "error").Inc()
	case "invocation_rejected":
		switch label("reason") {
		case "budget":
			m.BudgetRejections.WithLabelValues(label("scope")).Inc()
			m.InvocationsTotal.WithLabelValues(label("agent_type"), "-", "budget_rejected").Inc()
		case "breaker_open":
			m.InvocationsTotal.WithLabelValues(label("agent_type"), label("model"), "breaker_open").Inc()
		}
	case "model_attempt":
		m.AttemptsTotal.WithLabelValues(label("model"), label("outcome")).Inc()
	case "model_fallback":
		m.FallbacksTotal.WithLabelValues(label("from_model"), label("to_model")).Inc()
	case "breaker_open":
		m.BreakerOpensTotal.WithLabelValues(label("agent_type"), label("model_id")).Inc()
	case "cache_hit":
		m.CacheHitsTotal.WithLabelValues(label("agent_type")).Inc()
	case "cache_miss":
		m.CacheMissesTotal.WithLabelValues(label("agent_type")).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	if m.registry == nil {
		return func(c *gin.Context) { c.Status(204) }
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// GinMiddleware returns a gin middleware that records HTTP metrics
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsTotal == nil {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}
