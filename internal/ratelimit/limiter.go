// Package ratelimit enforces per-caller-IP request limits on the core's
// two mutating HTTP endpoints, backed by Redis when configured and
// falling back to an in-process memory store otherwise — the same
// fallback shape and log lines as the teacher's rate limiter, minus the
// user/IP dual-key logic that depended on an authenticated identity.
// Authentication of the core's own HTTP surface is a named Non-goal, so
// every caller here is identified by IP alone.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/robotsession/core/internal/config"
	"github.com/robotsession/core/internal/logging"
	"github.com/robotsession/core/internal/metrics"
)

// RateLimiter holds the per-endpoint limiter instances sharing one store.
type RateLimiter struct {
	register      *limiter.Limiter
	createSession *limiter.Limiter
	store         limiter.Store
	redisClient   *redis.Client
}

// NewRateLimiter builds a RateLimiter from the two rate strings in
// Config.RateLimitRegister/RateLimitCreate (ulule/limiter formatted rates,
// e.g. "60-M"). redisClient may be nil, in which case the limiter falls
// back to an in-process memory store — single-instance behavior only,
// consistent with the Non-goal against cross-instance coordination.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	registerRate, err := limiter.NewRateFromFormatted(cfg.RateLimitRegister)
	if err != nil {
		return nil, fmt.Errorf("invalid register rate limit: %w", err)
	}
	createRate, err := limiter.NewRateFromFormatted(cfg.RateLimitCreate)
	if err != nil {
		return nil, fmt.Errorf("invalid create-session rate limit: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "session-core:ratelimit:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		register:      limiter.New(store, registerRate),
		createSession: limiter.New(store, createRate),
		store:         store,
		redisClient:   redisClient,
	}, nil
}

// Middleware returns gin middleware enforcing the named endpoint's rate
// limit, keyed by caller IP. endpoint is one of "register"|"create_session",
// used for the X-RateLimit-* headers and the rate_limit_* metrics.
func (rl *RateLimiter) Middleware(endpoint string) gin.HandlerFunc {
	var inst *limiter.Limiter
	switch endpoint {
	case "register":
		inst = rl.register
	case "create_session":
		inst = rl.createSession
	default:
		inst = rl.createSession
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		// All limiters share one store, so the key carries the endpoint
		// name to give each endpoint its own counter per caller IP.
		key := endpoint + ":" + c.ClientIP()

		lctx, err := inst.Get(ctx, key)
		if err != nil {
			// Fail open: availability over strictness when the store
			// (typically Redis) is unreachable.
			logging.Error(ctx, "rate limiter store failed", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		metrics.RateLimitRequests.WithLabelValues(endpoint).Inc()
		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(endpoint, "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// Healthy reports whether the backing store is reachable, for the
// readiness probe. A memory-backed limiter is always healthy.
func (rl *RateLimiter) Healthy(ctx context.Context) bool {
	if rl.redisClient == nil {
		return true
	}
	return rl.redisClient.Ping(ctx).Err() == nil
}
