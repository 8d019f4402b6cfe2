package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the session orchestration core.
// Declared in their own package to keep metrics close to business logic
// and avoid coupling between packages.
//
// Naming convention: namespace_subsystem_name
// - namespace: session_core (application-level grouping)
// - subsystem: session, registry, bus, rtc, join (feature-level grouping)
// - name: specific metric (active_total, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (active sessions, bus subscribers)
// - Counter: Cumulative events (transitions, retries, drops)
// - Histogram: Latency distributions (join duration)

var (
	// SessionsActive tracks the number of sessions currently tracked by the Store.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "session_core",
		Subsystem: "session",
		Name:      "active_total",
		Help:      "Current number of sessions held by the session store",
	})

	// SessionsCreatedTotal counts every create-session request that produced a session row.
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "session",
		Name:      "created_total",
		Help:      "Total number of sessions created",
	})

	// SessionStateTransitions counts transitions by destination status.
	SessionStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "session",
		Name:      "state_transitions_total",
		Help:      "Total session state machine transitions, by destination status",
	}, []string{"status"})

	// RegisteredMicroservices tracks the number of microservice records held by the Registry.
	RegisteredMicroservices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "session_core",
		Subsystem: "registry",
		Name:      "registered_total",
		Help:      "Current number of registered microservice records",
	})

	// EventBusSubscribers tracks live subscriber channels, by scope (global|session).
	EventBusSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "session_core",
		Subsystem: "bus",
		Name:      "subscribers",
		Help:      "Current number of live event bus subscribers",
	}, []string{"scope"})

	// EventBusPublished counts every event enqueued onto the bus, by event kind.
	EventBusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Total events published on the event bus",
	}, []string{"event"})

	// EventBusDropped counts subscribers closed for lagging, by scope.
	EventBusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "bus",
		Name:      "subscribers_dropped_total",
		Help:      "Total subscribers disconnected for lagging behind the publisher",
	}, []string{"scope"})

	// JoinDispatchAttempts counts join-room HTTP calls issued to microservices.
	JoinDispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "join",
		Name:      "dispatch_attempts_total",
		Help:      "Total join-room dispatch attempts, by outcome",
	}, []string{"outcome"})

	// JoinDispatchDuration tracks how long each join rendezvous takes end to end.
	JoinDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "session_core",
		Subsystem: "join",
		Name:      "rendezvous_seconds",
		Help:      "Time from WaitingForServices entry to Ready, or to timeout",
		Buckets:   []float64{.25, .5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	// RTCGatewayCalls counts calls made through the RTC Gateway, by operation and outcome.
	RTCGatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "rtc",
		Name:      "gateway_calls_total",
		Help:      "Total RTC Gateway operations, by operation and outcome",
	}, []string{"operation", "outcome"})

	// CircuitBreakerState tracks the current state of a named circuit breaker (GaugeVec).
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "session_core",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_core",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})
)
