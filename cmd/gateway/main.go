package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/api"
	"github.com/modelguard/modelguard/internal/breaker"
	"github.com/modelguard/modelguard/internal/budget"
	"github.com/modelguard/modelguard/internal/cache"
	"github.com/modelguard/modelguard/internal/modelcall"
	"github.com/modelguard/modelguard/internal/pipeline"
	"github.com/modelguard/modelguard/internal/pricing"
	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/internal/tenant"
	"github.com/modelguard/modelguard/pkg/config"
	"github.com/modelguard/modelguard/pkg/logging"
	"github.com/modelguard/modelguard/pkg/metrics"
)

func main() {
	// Load .env if present; real deployments use the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "modelguard-gateway",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize the shared counter store
	redisStore, err := store.NewRedisStore(&cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err.Error())
		os.Exit(1)
	}
	defer redisStore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisStore.Ping(ctx); err != nil {
		cancel()
		logger.Error("Redis health check failed", "error", err.Error())
		os.Exit(1)
	}
	cancel()
	logger.Info("Redis connection established")

	// Metrics double as the instrumentation event bus
	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Alert dispatcher with the configured sinks
	dispatcher := alerting.NewDispatcher(m)
	if cfg.Alerting.WebhookURL != "" {
		dispatcher.AddSink(alerting.NewWebhookSink(cfg.Alerting.WebhookURL, nil))
	}
	if cfg.Alerting.SlackWebhookURL != "" {
		dispatcher.AddSink(alerting.NewSlackSink(cfg.Alerting.SlackWebhookURL, cfg.Alerting.SlackChannel, cfg.Alerting.SlackUsername))
	}

	// Pipeline components
	tracker := budget.NewTracker(redisStore, &cfg.Budget)
	brk := breaker.NewBreaker(redisStore, &cfg.Breaker, dispatcher)
	responseCache := cache.NewResponseCache(redisStore, &cfg.Cache)
	prices := pricing.NewResolver(&cfg.Pricing)
	caller := modelcall.NewHTTPCaller(&cfg.Model)
	tenants := tenant.NewContextResolver(nil)

	executor := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Budget:   tracker,
		Breaker:  brk,
		Caller:   caller,
		Pricing:  prices,
		Cache:    responseCache,
		Tenants:  tenants,
		Alerts:   dispatcher,
		Bus:      m,
		Policy:   pipeline.PolicyFromConfig(&cfg.Retry),
		CacheTTL: cfg.Cache.TTL,
	})

	// Create API router with all dependencies
	router := api.NewRouter(cfg, api.Dependencies{
		Store:      redisStore,
		Executor:   executor,
		Budget:     tracker,
		Breaker:    brk,
		Dispatcher: dispatcher,
		Metrics:    m,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting gateway server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("Server exited")
}
