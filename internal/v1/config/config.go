package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the whole process.
type Config struct {
	// Required variables
	JWTSecret   string
	DatabaseURL string
	Port        string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// ICE servers
	TurnServerURL  string
	TurnUsername   string
	TurnCredential string
	StunServerURL  string

	// Outbound email (reminders, minutes delivery)
	EmailHost string
	EmailPort string
	EmailUser string
	EmailPass string
	EmailFrom string

	// Minutes pipeline (LLM summarization)
	GeminiAPIKey string
	GeminiModel  string

	// Distributed tracing (OTLP/gRPC collector). Empty disables tracing.
	OTelCollectorAddr string
	OTelServiceName   string

	// Job queue worker pool sizes, per queue name
	QueueWorkersEmail     int
	QueueWorkersMinutes   int
	QueueWorkersRecording int
	QueueWorkersReminder  int

	// Rate Limits
	RateLimitApiGlobal string
	RateLimitApiPublic string
	RateLimitApiRooms  string
	RateLimitWsIp      string
	RateLimitWsUser    string
	RateLimitLogin     string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters, HS256 shared secret)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Optional: PORT (valid port number, defaults to 8080)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Required: DATABASE_URL (postgres DSN backing the meeting/user repositories)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required")
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true, default true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") != "false"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = getEnvOrDefault("CLIENT_URL", "http://localhost:3000")

	cfg.TurnServerURL = os.Getenv("TURN_SERVER_URL")
	cfg.TurnUsername = os.Getenv("TURN_USERNAME")
	cfg.TurnCredential = os.Getenv("TURN_CREDENTIAL")
	cfg.StunServerURL = getEnvOrDefault("STUN_SERVER_URL", "stun:stun.l.google.com:19302")

	cfg.EmailHost = os.Getenv("EMAIL_HOST")
	cfg.EmailPort = getEnvOrDefault("EMAIL_PORT", "587")
	cfg.EmailUser = os.Getenv("EMAIL_USER")
	cfg.EmailPass = os.Getenv("EMAIL_PASS")
	cfg.EmailFrom = getEnvOrDefault("EMAIL_FROM", cfg.EmailUser)

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash")

	cfg.OTelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.OTelServiceName = getEnvOrDefault("OTEL_SERVICE_NAME", "meetgrid-backend")

	cfg.QueueWorkersEmail = getEnvIntOrDefault("QUEUE_WORKERS_EMAIL", 5)
	cfg.QueueWorkersMinutes = getEnvIntOrDefault("QUEUE_WORKERS_MINUTES", 2)
	cfg.QueueWorkersRecording = getEnvIntOrDefault("QUEUE_WORKERS_RECORDING", 2)
	cfg.QueueWorkersReminder = getEnvIntOrDefault("QUEUE_WORKERS_REMINDER", 2)

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.RateLimitLogin = getEnvOrDefault("RATE_LIMIT_LOGIN", "5-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"database_configured", cfg.DatabaseURL != "",
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"gemini_configured", cfg.GeminiAPIKey != "",
		"email_configured", cfg.EmailHost != "",
		"rate_limit_api_global", cfg.RateLimitApiGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of the environment variable or a default if unset/invalid
func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return defaultValue
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
