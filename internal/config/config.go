package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	DatabaseURL        string
	ServerPort         string
	BaseURL            string
	FrontendURL        string
	TelegramBotToken   string
	TelegramSecret     string
	SMSRelayURL        string
	SMSRelayToken      string
	VoiceRelayURL      string
	VoiceRelayToken    string
	AuthSecret         string
	OpenAIKey          string
	AIModel            string
	AIBaseURL          string
	EnableHSTS         bool
	RedisURL           string
	RabbitMQURL        string
	RabbitMQPrefetch   int
	TickInterval       time.Duration
	GeozoneGate        string
	EscalationPlanFile string
	WorkerDebugMode    bool
	ServerDebugMode    bool
	LogFormat          string
	RateLimit          string
	OTELEnabled        bool
	OTELEndpoint       string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramSecret:     getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		SMSRelayURL:        getEnv("SMS_RELAY_URL", ""),
		SMSRelayToken:      getEnv("SMS_RELAY_TOKEN", ""),
		VoiceRelayURL:      getEnv("VOICE_RELAY_URL", ""),
		VoiceRelayToken:    getEnv("VOICE_RELAY_TOKEN", ""),
		AuthSecret:         getEnv("AUTH_SECRET", ""),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		AIModel:            getEnv("AI_MODEL", ""),
		AIBaseURL:          getEnv("AI_BASE_URL", ""),
		EnableHSTS:         getEnvBool("ENABLE_HSTS", false),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch:   getEnvInt("RABBITMQ_PREFETCH", 1),
		TickInterval:       getEnvDuration("TICK_INTERVAL", 5*time.Second),
		GeozoneGate:        getEnv("GEOZONE_GATE", "and"),
		EscalationPlanFile: getEnv("ESCALATION_PLAN_FILE", ""),
		WorkerDebugMode:    getEnvBool("WORKER_DEBUG_MODE", false),
		ServerDebugMode:    getEnvBool("SERVER_DEBUG_MODE", false),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		RateLimit:          getEnv("RATE_LIMIT", "5-S"),
		OTELEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for dispatch queueing")
	}

	if cfg.GeozoneGate != "and" && cfg.GeozoneGate != "or" {
		return nil, fmt.Errorf("GEOZONE_GATE must be 'and' or 'or', got %q", cfg.GeozoneGate)
	}

	if cfg.TickInterval < time.Second {
		return nil, fmt.Errorf("TICK_INTERVAL must be at least 1s, got %v", cfg.TickInterval)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
