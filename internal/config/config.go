// Package config loads and validates the orchestration core's process
// configuration from the environment, following the teacher's
// accumulate-all-errors-then-report pattern (internal/v1/config).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated process configuration.
type Config struct {
	// server{host, port, workers}
	ServerHost    string
	ServerPort    string
	ServerWorkers int

	// rtc{server_url, api_key, api_secret}
	RTCServerURL  string
	RTCAPIKey     string
	RTCAPISecret  string
	RTCPublicURL  string // rtc_url surfaced to callers; defaults to RTCServerURL

	// microservices{registration_timeout, join_timeout}
	RegistrationTimeout time.Duration
	JoinTimeout         time.Duration
	ClientTimeout       time.Duration
	JoinRetryInterval   time.Duration

	// logging{level, format}
	LogLevel  string
	LogFormat string

	// log_shipper{enabled, endpoint, source_name}
	LogShipperEnabled    bool
	LogShipperEndpoint   string
	LogShipperSourceName string

	// redis{enabled, addr, password} — backs the rate limiter store only;
	// cross-instance coordination is out of scope for everything else.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	GoEnv string

	AllowedOrigins string

	RateLimitRegister string
	RateLimitCreate   string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error joining every problem found, not just
// the first.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.ServerHost = getEnvOrDefault("SERVER_HOST", "0.0.0.0")
	cfg.ServerPort = os.Getenv("PORT")
	if cfg.ServerPort == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.ServerPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.ServerPort))
	}
	cfg.ServerWorkers = getEnvIntOrDefault("SERVER_WORKERS", 0) // 0: no explicit worker pool, goroutine-per-task

	cfg.RTCServerURL = os.Getenv("RTC_SERVER_URL")
	if cfg.RTCServerURL == "" {
		errs = append(errs, "RTC_SERVER_URL is required")
	}
	cfg.RTCAPIKey = os.Getenv("RTC_API_KEY")
	if cfg.RTCAPIKey == "" {
		errs = append(errs, "RTC_API_KEY is required")
	}
	cfg.RTCAPISecret = os.Getenv("RTC_API_SECRET")
	if cfg.RTCAPISecret == "" {
		errs = append(errs, "RTC_API_SECRET is required")
	} else if len(cfg.RTCAPISecret) < 32 {
		errs = append(errs, fmt.Sprintf("RTC_API_SECRET must be at least 32 characters (got %d)", len(cfg.RTCAPISecret)))
	}
	cfg.RTCPublicURL = getEnvOrDefault("RTC_PUBLIC_URL", cfg.RTCServerURL)

	cfg.RegistrationTimeout = getEnvDurationOrDefault("MICROSERVICES_REGISTRATION_TIMEOUT", 30*time.Second)
	cfg.JoinTimeout = getEnvDurationOrDefault("MICROSERVICES_JOIN_TIMEOUT", 60*time.Second)
	cfg.ClientTimeout = getEnvDurationOrDefault("MICROSERVICES_CLIENT_TIMEOUT", 300*time.Second)
	cfg.JoinRetryInterval = getEnvDurationOrDefault("MICROSERVICES_JOIN_RETRY_INTERVAL", 30*time.Second)

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")

	cfg.LogShipperEnabled = os.Getenv("LOG_SHIPPER_ENABLED") == "true"
	cfg.LogShipperEndpoint = os.Getenv("LOG_SHIPPER_ENDPOINT")
	cfg.LogShipperSourceName = getEnvOrDefault("LOG_SHIPPER_SOURCE_NAME", "session-orchestration-core")
	if cfg.LogShipperEnabled && cfg.LogShipperEndpoint == "" {
		errs = append(errs, "LOG_SHIPPER_ENDPOINT is required when LOG_SHIPPER_ENABLED=true")
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitRegister = getEnvOrDefault("RATE_LIMIT_REGISTER", "60-M")
	cfg.RateLimitCreate = getEnvOrDefault("RATE_LIMIT_CREATE_SESSION", "120-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"rtc_server_url", cfg.RTCServerURL,
		"rtc_api_key", redactSecret(cfg.RTCAPIKey),
		"rtc_api_secret", redactSecret(cfg.RTCAPISecret),
		"port", cfg.ServerPort,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"join_timeout", cfg.JoinTimeout,
		"client_timeout", cfg.ClientTimeout,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// redactSecret redacts a secret, showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
