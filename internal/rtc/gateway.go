// Package rtc implements the RTC Gateway: an adapter over the external
// room-control API and RTC client library.
//
// The room-control API is modeled as LiveKit's Room Service, a twirp RPC
// service (github.com/livekit/protocol/livekit, transported over
// github.com/twitchtv/twirp). Every call is wrapped in a sony/gobreaker
// circuit breaker — the direct architectural descendant of the teacher's
// pkg/sfu client and bus/redis.go, both of which wrap their external call
// in exactly this pattern.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/robotsession/core/internal/metrics"
	"github.com/sony/gobreaker"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"
)

// ErrTransport wraps any failure talking to the RTC server, retryable
// after a bounded delay (§7 RtcTransport).
var ErrTransport = errors.New("rtc: transport failure")

// Grants is the capability set attached to a minted access token.
type Grants struct {
	RoomJoin       bool
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
	RoomAdmin      bool
	Hidden         bool
}

// Config configures the Gateway's connection to the RTC server and the
// room defaults applied at create_room time.
type Config struct {
	ServerURL       string
	APIKey          string
	APISecret       string
	EmptyTimeout    time.Duration
	MaxParticipants uint32
	CreateRetries   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.EmptyTimeout <= 0 {
		c.EmptyTimeout = 5 * time.Minute
	}
	if c.CreateRetries <= 0 {
		c.CreateRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 4 * time.Second
	}
	return c
}

// Gateway is the RTC Gateway. Construct with New.
type Gateway struct {
	cfg    Config
	client livekit.RoomService
	cb     *gobreaker.CircuitBreaker
	demux  *webhookDemux
}

// New builds a Gateway talking to the RTC server at cfg.ServerURL.
func New(cfg Config) *Gateway {
	cfg = cfg.withDefaults()

	httpClient := &authRoundTripper{
		base:      http.DefaultClient,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}
	client := livekit.NewRoomServiceJSONClient(cfg.ServerURL, httpClient)

	st := gobreaker.Settings{
		Name:        "rtc-gateway",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("rtc-gateway").Set(v)
		},
	}

	return &Gateway{
		cfg:    cfg,
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		demux:  newWebhookDemux(),
	}
}

// authRoundTripper mints a short-lived server-admin access token and
// attaches it as a bearer credential on every twirp call, the way the
// LiveKit room-service client authenticates its own API calls.
type authRoundTripper struct {
	base      *http.Client
	apiKey    string
	apiSecret string
}

func (a *authRoundTripper) Do(req *http.Request) (*http.Response, error) {
	token := auth.NewAccessToken(a.apiKey, a.apiSecret).
		SetValidFor(time.Minute).
		AddGrant(&auth.VideoGrant{RoomCreate: true, RoomList: true, RoomAdmin: true, RoomRecord: true})
	jwt, err := token.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("mint rtc gateway service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	return a.base.Do(req)
}

func (g *Gateway) execute(ctx context.Context, op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("rtc-gateway").Inc()
			metrics.RTCGatewayCalls.WithLabelValues(op, "breaker_open").Inc()
			return fmt.Errorf("%w: circuit breaker open", ErrTransport)
		}
		metrics.RTCGatewayCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	metrics.RTCGatewayCalls.WithLabelValues(op, "ok").Inc()
	return nil
}

// CreateRoom allocates a room, retrying transport failures up to
// cfg.CreateRetries times with exponential backoff capped at
// cfg.RetryMaxDelay. CreateRoom is idempotent at the RTC server: calling
// it for an existing room returns the existing room's descriptor.
func (g *Gateway) CreateRoom(ctx context.Context, name string) error {
	var lastErr error
	delay := g.cfg.RetryBaseDelay
	for attempt := 0; attempt <= g.cfg.CreateRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > g.cfg.RetryMaxDelay {
				delay = g.cfg.RetryMaxDelay
			}
		}
		lastErr = g.execute(ctx, "create_room", func() error {
			_, err := g.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
				Name:            name,
				EmptyTimeout:    uint32(g.cfg.EmptyTimeout.Seconds()),
				MaxParticipants: g.cfg.MaxParticipants,
			})
			return err
		})
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("create_room %q exhausted %d retries: %w", name, g.cfg.CreateRetries, lastErr)
}

// DeleteRoom tears down a room. Not-found is treated as success, matching
// the idempotent semantics the termination protocol relies on.
func (g *Gateway) DeleteRoom(ctx context.Context, name string) error {
	return g.execute(ctx, "delete_room", func() error {
		_, err := g.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
		if err != nil {
			var twErr twirp.Error
			if errors.As(err, &twErr) && twErr.Code() == twirp.NotFound {
				return nil
			}
			return err
		}
		return nil
	})
}

// MintToken issues a signed access credential scoped to room with the
// requested grants.
func (g *Gateway) MintToken(identity, room string, grants Grants, ttl time.Duration) (string, error) {
	token := auth.NewAccessToken(g.cfg.APIKey, g.cfg.APISecret).
		SetIdentity(identity).
		SetValidFor(ttl).
		AddGrant(&auth.VideoGrant{
			Room:           room,
			RoomJoin:       grants.RoomJoin,
			CanPublish:     &grants.CanPublish,
			CanSubscribe:   &grants.CanSubscribe,
			CanPublishData: grants.CanPublishData,
			RoomAdmin:      grants.RoomAdmin,
			Hidden:         grants.Hidden,
		})
	jwt, err := token.ToJWT()
	if err != nil {
		metrics.RTCGatewayCalls.WithLabelValues("mint_token", "error").Inc()
		return "", fmt.Errorf("mint_token %s: %w", identity, err)
	}
	metrics.RTCGatewayCalls.WithLabelValues("mint_token", "ok").Inc()
	return jwt, nil
}

// Log returns a child logger tagged with the gateway's component name, for
// callers that want to attribute a log line to the Gateway specifically.
func Log(base *zap.Logger) *zap.Logger {
	return base.Named("rtc_gateway")
}

// State reports the rtc-gateway circuit breaker's current state, for the
// readiness probe.
func (g *Gateway) State() gobreaker.State {
	return g.cb.State()
}
