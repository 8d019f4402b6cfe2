package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/robotsession/core/internal/health"
	"github.com/robotsession/core/internal/middleware"
	"github.com/robotsession/core/internal/ratelimit"
)

// NewRouter assembles the gin engine in the teacher's middleware order:
// gin.Recovery() -> cors.New(...) -> middleware.CorrelationID() ->
// otelgin.Middleware(...) -> per-route rate limiting -> routes.
func NewRouter(api *API, events *EventsAPI, healthHandler *health.Handler, limiter *ratelimit.RateLimiter, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsCfg.AllowOrigins = allowedOrigins
	} else {
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, middleware.HeaderXCorrelationID)
	r.Use(cors.New(corsCfg))

	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware("session-orchestration-core"))

	r.GET("/health", healthHandler.Liveness)
	r.GET("/health/ready", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/microservices/register", limiter.Middleware("register"), api.RegisterMicroservice)
		v1.POST("/create-session", limiter.Middleware("create_session"), api.CreateSession)
		v1.GET("/sessions/:id", api.GetSession)
		v1.DELETE("/sessions/:id", api.TerminateSession)
		v1.GET("/sessions/:id/events", events.SessionEvents)
		v1.GET("/events", events.GlobalEvents)
	}

	return r
}
