package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Budget   BudgetConfig   `json:"budget"`
	Breaker  BreakerConfig  `json:"breaker"`
	Retry    RetryConfig    `json:"retry"`
	Alerting AlertingConfig `json:"alerting"`
	Cache    CacheConfig    `json:"cache"`
	Model    ModelConfig    `json:"model"`
	Pricing  PricingConfig  `json:"pricing"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// BudgetConfig contains spend and token budget configuration.
// A zero limit means the corresponding budget is not configured.
type BudgetConfig struct {
	Enforcement        string  `json:"enforcement"` // none, soft, hard
	GlobalDailyLimit   float64 `json:"global_daily_limit"`
	GlobalMonthlyLimit float64 `json:"global_monthly_limit"`
	AgentDailyLimit    float64 `json:"agent_daily_limit"`
	AgentMonthlyLimit  float64 `json:"agent_monthly_limit"`
	DailyTokenLimit    int64   `json:"daily_token_limit"`
	MonthlyTokenLimit  int64   `json:"monthly_token_limit"`
	MultiTenant        bool    `json:"multi_tenant"`
}

// BreakerConfig contains circuit breaker configuration
type BreakerConfig struct {
	ErrorsThreshold int           `json:"errors_threshold"`
	Window          time.Duration `json:"window"`
	Cooldown        time.Duration `json:"cooldown"`
}

// RetryConfig contains retry and fallback configuration
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	BackoffKind     string        `json:"backoff_kind"` // constant, exponential
	BackoffBase     time.Duration `json:"backoff_base"`
	BackoffMaxDelay time.Duration `json:"backoff_max_delay"`
	TotalTimeout    time.Duration `json:"total_timeout"`
	AttemptTimeout  time.Duration `json:"attempt_timeout"`
	FallbackModels  []string      `json:"fallback_models"`
}

// AlertingConfig contains alert sink configuration
type AlertingConfig struct {
	WebhookURL      string `json:"webhook_url"`
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
	SlackUsername   string `json:"slack_username"`
}

// CacheConfig contains response cache configuration
type CacheConfig struct {
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"ttl"`
}

// ModelConfig contains the model endpoint configuration
type ModelConfig struct {
	EndpointURL string        `json:"endpoint_url"`
	APIKey      string        `json:"api_key"`
	Timeout     time.Duration `json:"timeout"`
}

// PricingConfig contains per-model price overrides.
// Overrides parse from MODEL_PRICING as "model=input:output" pairs
// (USD per million tokens) separated by commas.
type PricingConfig struct {
	Overrides map[string][2]float64 `json:"overrides"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Budget: BudgetConfig{
			Enforcement:        getEnvString("BUDGET_ENFORCEMENT", "hard"),
			GlobalDailyLimit:   getEnvFloat("BUDGET_GLOBAL_DAILY_LIMIT", 0),
			GlobalMonthlyLimit: getEnvFloat("BUDGET_GLOBAL_MONTHLY_LIMIT", 0),
			AgentDailyLimit:    getEnvFloat("BUDGET_AGENT_DAILY_LIMIT", 0),
			AgentMonthlyLimit:  getEnvFloat("BUDGET_AGENT_MONTHLY_LIMIT", 0),
			DailyTokenLimit:    getEnvInt64("BUDGET_DAILY_TOKEN_LIMIT", 0),
			MonthlyTokenLimit:  getEnvInt64("BUDGET_MONTHLY_TOKEN_LIMIT", 0),
			MultiTenant:        getEnvBool("BUDGET_MULTI_TENANT", false),
		},
		Breaker: BreakerConfig{
			ErrorsThreshold: getEnvInt("BREAKER_ERRORS_THRESHOLD", 10),
			Window:          getEnvDuration("BREAKER_WINDOW", 60*time.Second),
			Cooldown:        getEnvDuration("BREAKER_COOLDOWN", 300*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:      getEnvInt("RETRY_MAX_RETRIES", 3),
			BackoffKind:     getEnvString("RETRY_BACKOFF_KIND", "exponential"),
			BackoffBase:     getEnvDuration("RETRY_BACKOFF_BASE", 400*time.Millisecond),
			BackoffMaxDelay: getEnvDuration("RETRY_BACKOFF_MAX_DELAY", 3*time.Second),
			TotalTimeout:    getEnvDuration("RETRY_TOTAL_TIMEOUT", 0),
			AttemptTimeout:  getEnvDuration("RETRY_ATTEMPT_TIMEOUT", 60*time.Second),
			FallbackModels:  getEnvStringSlice("RETRY_FALLBACK_MODELS", nil),
		},
		Alerting: AlertingConfig{
			WebhookURL:      getEnvString("ALERT_WEBHOOK_URL", ""),
			SlackWebhookURL: getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("ALERT_SLACK_CHANNEL", "#alerts"),
			SlackUsername:   getEnvString("ALERT_SLACK_USERNAME", "modelguard"),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			TTL:     getEnvDuration("CACHE_TTL", 1*time.Hour),
		},
		Model: ModelConfig{
			EndpointURL: getEnvString("MODEL_ENDPOINT_URL", ""),
			APIKey:      getEnvString("MODEL_API_KEY", ""),
			Timeout:     getEnvDuration("MODEL_TIMEOUT", 60*time.Second),
		},
		Pricing: PricingConfig{
			Overrides: parsePricing(os.Getenv("MODEL_PRICING")),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Budget.Enforcement {
	case "none", "soft", "hard":
	default:
		return fmt.Errorf("invalid budget enforcement level: %s", c.Budget.Enforcement)
	}

	switch c.Retry.BackoffKind {
	case "constant", "exponential":
	default:
		return fmt.Errorf("invalid backoff kind: %s", c.Retry.BackoffKind)
	}

	if c.Breaker.ErrorsThreshold <= 0 {
		return fmt.Errorf("breaker errors threshold must be positive")
	}

	return nil
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// parsePricing parses "model=input:output" comma-separated pairs.
func parsePricing(raw string) map[string][2]float64 {
	overrides := make(map[string][2]float64)
	if raw == "" {
		return overrides
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		prices := strings.SplitN(parts[1], ":", 2)
		if len(prices) != 2 {
			continue
		}
		in, err1 := strconv.ParseFloat(prices[0], 64)
		out, err2 := strconv.ParseFloat(prices[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		overrides[parts[0]] = [2]float64{in, out}
	}

	return overrides
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
