package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robotsession/core/internal/config"
)

func TestNewRateLimiter_InvalidRate(t *testing.T) {
	cfg := &config.Config{RateLimitRegister: "not-a-rate", RateLimitCreate: "10-M"}
	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestMiddleware_UnknownEndpointFallsBackToCreateSessionLimiter(t *testing.T) {
	cfg := &config.Config{RateLimitRegister: "5-M", RateLimitCreate: "1-M"}
	rl, err := NewRateLimiter(cfg, nil)
	assert.NoError(t, err)
	mw := rl.Middleware("something-else")
	assert.NotNil(t, mw)
}
