// Package health implements the core's liveness/readiness surface,
// adapted from the teacher's split between an unconditional liveness
// probe and a dependency-checking readiness probe. The dependencies here
// are this repo's own: the Session Store and Microservice Registry (both
// in-process, so "healthy" as long as the handler can reach them), the
// rate limiter's backing store (Redis, if configured), and the RTC
// Gateway's circuit breaker (an open breaker means degraded, not failing
// — there is no gRPC health RPC for a twirp control plane the way the
// teacher's Rust SFU exposed one).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
)

// version is overridable at build time via -ldflags.
var version = "dev"

// StoreCounter reports how many records a Store/Registry currently holds;
// satisfied by *store.Store and *registry.Registry without importing
// either (both already expose Count()).
type StoreCounter interface {
	Count() int
}

// RateLimiterChecker reports whether the rate limiter's backing store is
// reachable.
type RateLimiterChecker interface {
	Healthy(ctx context.Context) bool
}

// CircuitBreakerChecker reports the RTC Gateway's breaker state.
type CircuitBreakerChecker interface {
	State() gobreaker.State
}

// Handler serves /health (liveness, unconditional per §6) and
// /health/ready (readiness, checking the core's own collaborators).
type Handler struct {
	store       StoreCounter
	registry    StoreCounter
	rateLimiter RateLimiterChecker
	gateway     CircuitBreakerChecker
}

// NewHandler builds a Handler over the core's own collaborators. Any
// argument may be nil, in which case its readiness check is skipped
// (treated as healthy) — useful for tests and for single-instance
// deployments with no rate-limiter store configured.
func NewHandler(store, registry StoreCounter, rateLimiter RateLimiterChecker, gateway CircuitBreakerChecker) *Handler {
	return &Handler{store: store, registry: registry, rateLimiter: rateLimiter, gateway: gateway}
}

// LivenessResponse is the §6 `GET /health` success body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ReadinessResponse reports the health of each collaborator the core
// depends on.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health: unconditional 200, per §6's interface
// table — the process being able to answer HTTP at all is the only thing
// it asserts.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
	})
}

// Readiness handles GET /health/ready: checks every collaborator the
// core was constructed with and reports 503 if any is unhealthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	checks["session_store"] = h.checkCounter(h.store)
	checks["microservice_registry"] = h.checkCounter(h.registry)

	if h.rateLimiter != nil {
		status := "healthy"
		if !h.rateLimiter.Healthy(ctx) {
			status = "unhealthy"
			allHealthy = false
		}
		checks["rate_limiter_store"] = status
	}

	if h.gateway != nil {
		status := "healthy"
		if h.gateway.State() == gobreaker.StateOpen {
			status = "degraded"
		}
		checks["rtc_gateway"] = status
	}

	for _, v := range checks {
		if v == "unhealthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkCounter(c StoreCounter) string {
	if c == nil {
		return "healthy"
	}
	// Count() never errors; reachability of an in-process map is not in
	// question. This check exists so a future non-memory-backed Store
	// implementation has somewhere to report from.
	_ = c.Count()
	return "healthy"
}
