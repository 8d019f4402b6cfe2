package config

import (
	"os"
	"strings"
	"testing"
)

var managedEnvVars = []string{
	"SERVER_HOST", "PORT", "SERVER_WORKERS",
	"RTC_SERVER_URL", "RTC_API_KEY", "RTC_API_SECRET", "RTC_PUBLIC_URL",
	"MICROSERVICES_REGISTRATION_TIMEOUT", "MICROSERVICES_JOIN_TIMEOUT",
	"MICROSERVICES_CLIENT_TIMEOUT", "MICROSERVICES_JOIN_RETRY_INTERVAL",
	"LOG_LEVEL", "LOG_FORMAT",
	"LOG_SHIPPER_ENABLED", "LOG_SHIPPER_ENDPOINT", "LOG_SHIPPER_SOURCE_NAME",
	"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
	"GO_ENV", "ALLOWED_ORIGINS",
	"RATE_LIMIT_REGISTER", "RATE_LIMIT_CREATE_SESSION",
}

// setupTestEnv clears every env var ValidateEnv reads, then restores the
// pre-test environment on cleanup, mirroring the teacher's isolation pattern.
func setupTestEnv(t *testing.T) {
	t.Helper()
	saved := make(map[string]string)
	for _, k := range managedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			saved[k] = v
		}
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range managedEnvVars {
			os.Unsetenv(k)
		}
		for k, v := range saved {
			os.Setenv(k, v)
		}
	})
}

func validBaseEnv(t *testing.T) {
	t.Helper()
	os.Setenv("PORT", "8080")
	os.Setenv("RTC_SERVER_URL", "https://rtc.example.com")
	os.Setenv("RTC_API_KEY", "key-1")
	os.Setenv("RTC_API_SECRET", strings.Repeat("s", 32))
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.ServerPort)
	}
	if cfg.RTCServerURL != "https://rtc.example.com" {
		t.Errorf("unexpected rtc server url: %s", cfg.RTCServerURL)
	}
	if cfg.RTCPublicURL != cfg.RTCServerURL {
		t.Errorf("expected RTCPublicURL to default to RTCServerURL, got %s", cfg.RTCPublicURL)
	}
}

func TestValidateEnv_MissingRTCServerURL(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("RTC_API_KEY", "key-1")
	os.Setenv("RTC_API_SECRET", strings.Repeat("s", 32))

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "RTC_SERVER_URL is required") {
		t.Errorf("expected RTC_SERVER_URL error, got: %v", err)
	}
}

func TestValidateEnv_MissingRTCAPIKey(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("RTC_SERVER_URL", "https://rtc.example.com")
	os.Setenv("RTC_API_SECRET", strings.Repeat("s", 32))

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "RTC_API_KEY is required") {
		t.Errorf("expected RTC_API_KEY error, got: %v", err)
	}
}

func TestValidateEnv_ShortRTCAPISecret(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("PORT", "8080")
	os.Setenv("RTC_SERVER_URL", "https://rtc.example.com")
	os.Setenv("RTC_API_KEY", "key-1")
	os.Setenv("RTC_API_SECRET", "too-short")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "RTC_API_SECRET must be at least 32 characters") {
		t.Errorf("expected RTC_API_SECRET length error, got: %v", err)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	setupTestEnv(t)
	os.Setenv("RTC_SERVER_URL", "https://rtc.example.com")
	os.Setenv("RTC_API_KEY", "key-1")
	os.Setenv("RTC_API_SECRET", strings.Repeat("s", 32))

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("expected PORT error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)
	os.Setenv("PORT", "not-a-number")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected PORT format error, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "not-a-host-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format") {
		t.Errorf("expected REDIS_ADDR error, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected default redis addr localhost:6379, got %s", cfg.RedisAddr)
	}
}

func TestValidateEnv_LogShipperRequiresEndpoint(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)
	os.Setenv("LOG_SHIPPER_ENABLED", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "LOG_SHIPPER_ENDPOINT is required") {
		t.Errorf("expected LOG_SHIPPER_ENDPOINT error, got: %v", err)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	setupTestEnv(t)
	validBaseEnv(t)

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerHost != "0.0.0.0" {
		t.Errorf("expected default server host, got %s", cfg.ServerHost)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected default log format json, got %s", cfg.LogFormat)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected default go env production, got %s", cfg.GoEnv)
	}
	if cfg.RateLimitRegister != "60-M" {
		t.Errorf("expected default register rate limit, got %s", cfg.RateLimitRegister)
	}
	if cfg.RateLimitCreate != "120-M" {
		t.Errorf("expected default create-session rate limit, got %s", cfg.RateLimitCreate)
	}
	if cfg.LogShipperSourceName != "session-orchestration-core" {
		t.Errorf("expected default log shipper source name, got %s", cfg.LogShipperSourceName)
	}
}

func TestRedactSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"exactly8", "***"},
		{"averylongapisecretvalue", "averylon***"},
	}
	for _, c := range cases {
		if got := redactSecret(c.in); got != c.want {
			t.Errorf("redactSecret(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsValidHostPort(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"localhost:6379", true},
		{"redis.internal:6379", true},
		{"localhost", false},
		{"localhost:notaport", false},
		{"localhost:99999", false},
		{":6379", false},
	}
	for _, c := range cases {
		if got := isValidHostPort(c.in); got != c.want {
			t.Errorf("isValidHostPort(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
