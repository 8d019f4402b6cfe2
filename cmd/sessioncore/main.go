// Command sessioncore runs the Session Orchestration Core's HTTP server:
// it wires the Session Store, Microservice Registry, Event Bus, RTC
// Gateway, and Session Orchestrator together behind the §6 HTTP surface,
// following the teacher's cmd/v1/session/main.go shape — godotenv
// multi-path .env load, gin.Default()-style middleware assembly,
// Prometheus /metrics, graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/robotsession/core/internal/bus"
	"github.com/robotsession/core/internal/config"
	"github.com/robotsession/core/internal/health"
	"github.com/robotsession/core/internal/httpapi"
	"github.com/robotsession/core/internal/logging"
	"github.com/robotsession/core/internal/orchestrator"
	"github.com/robotsession/core/internal/ratelimit"
	"github.com/robotsession/core/internal/registry"
	"github.com/robotsession/core/internal/rtc"
	"github.com/robotsession/core/internal/store"
	"github.com/robotsession/core/internal/tracing"
)

func main() {
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	log := logging.GetLogger()
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	if cfg.LogShipperEnabled {
		tp, err := tracing.InitTracer(ctx, cfg.LogShipperSourceName, cfg.LogShipperEndpoint)
		if err != nil {
			log.Warn("tracing init failed, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	sessionStore := store.New()
	microserviceRegistry := registry.New()
	eventBus := bus.New()

	gateway := rtc.New(rtc.Config{
		ServerURL: cfg.RTCServerURL,
		APIKey:    cfg.RTCAPIKey,
		APISecret: cfg.RTCAPISecret,
	})

	orch := orchestrator.New(sessionStore, microserviceRegistry, eventBus, gateway, orchestrator.Config{
		RTCUrl:              cfg.RTCPublicURL,
		RegistrationTimeout: cfg.RegistrationTimeout,
		JoinRetryInterval:   cfg.JoinRetryInterval,
		JoinTimeout:         cfg.JoinTimeout,
		ClientTimeout:       cfg.ClientTimeout,
	}, log)

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		log.Fatal("failed to build rate limiter", zap.Error(err))
	}

	healthHandler := health.NewHandler(sessionStore, microserviceRegistry, limiter, gateway)
	api := httpapi.New(microserviceRegistry, orch, log)
	eventsAPI := httpapi.NewEventsAPI(eventBus)

	var allowedOrigins []string
	if cfg.AllowedOrigins != "" {
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	router := httpapi.NewRouter(api, eventsAPI, healthHandler, limiter, allowedOrigins)
	router.POST("/webhooks/rtc", gin.WrapF(gateway.WebhookHandler()))

	addr := cfg.ServerHost + ":" + cfg.ServerPort
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("session orchestration core listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}
