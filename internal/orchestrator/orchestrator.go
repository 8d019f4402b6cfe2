// Package orchestrator owns the session state machine and composes the
// Store, Registry, Event Bus, and RTC Gateway to drive a create-session
// request through to a terminated session.
//
// Per-session background work — the monitor-drain task, the service-join
// and client-join deadline timers, and one join-dispatch task per
// required service — is organised under a session-scoped
// context.Context/CancelFunc pair, exactly the "cyclic reference" and
// "cancellation" design notes call for: tasks are handed the session id,
// never a pointer to the Session itself, and access it only through
// Store.Update.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robotsession/core/internal/bus"
	"github.com/robotsession/core/internal/logging"
	"github.com/robotsession/core/internal/metrics"
	"github.com/robotsession/core/internal/rtc"
	"github.com/robotsession/core/internal/session"
	"go.uber.org/zap"
)

// Store is the subset of the Session Store the orchestrator depends on.
// Modeled as a capability interface per §9 so tests can inject a fake.
type Store interface {
	Put(session.Session)
	Get(id string) (session.Session, bool)
	Update(id string, mutator func(*session.Session) error) error
	Delete(id string) error
}

// Registry is the subset of the Microservice Registry the orchestrator
// depends on.
type Registry interface {
	GetByIDs(ids []string) (map[string]session.MicroserviceRecord, []string)
	ListAvailable() []session.MicroserviceRecord
	MarkStatus(serviceID string, status session.MicroserviceStatus) error
}

// RTCGateway is the subset of the RTC Gateway the orchestrator depends on.
type RTCGateway interface {
	CreateRoom(ctx context.Context, name string) error
	DeleteRoom(ctx context.Context, name string) error
	MintToken(identity, room string, grants rtc.Grants, ttl time.Duration) (string, error)
	OpenMonitor(roomName, orchestratorIdentity string, serviceIDs map[string]struct{}) *rtc.MonitorHandle
}

// Config carries every timeout and retry knob named in §5/§6.
type Config struct {
	RTCUrl               string
	RegistrationTimeout  time.Duration // per join-room HTTP call
	JoinRetryInterval    time.Duration
	JoinTimeout          time.Duration // service-join deadline
	ClientTimeout        time.Duration // client-join deadline
	ClientTokenTTL       time.Duration
	MicroserviceTokenTTL time.Duration
	MonitorTokenTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = 30 * time.Second
	}
	if c.JoinRetryInterval <= 0 {
		c.JoinRetryInterval = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 60 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 300 * time.Second
	}
	if c.ClientTokenTTL <= 0 {
		c.ClientTokenTTL = 6 * time.Hour
	}
	if c.MicroserviceTokenTTL <= 0 {
		c.MicroserviceTokenTTL = 6 * time.Hour
	}
	if c.MonitorTokenTTL <= 0 {
		c.MonitorTokenTTL = 24 * time.Hour
	}
	return c
}

// sessionTasks groups everything owned by one session's background work
// so termination can cancel and release it as a single unit. ctx is the
// session-scoped cancellation token every per-session goroutine selects
// on; serviceTokens holds the per-identity tokens minted at setup time,
// needed by the join-dispatch loop.
type sessionTasks struct {
	ctx           context.Context
	cancel        context.CancelFunc
	monitor       *rtc.MonitorHandle
	serviceTokens map[string]string
	wg            sync.WaitGroup
}

// Orchestrator is the Session Orchestrator.
type Orchestrator struct {
	store    Store
	registry Registry
	bus      *bus.Bus
	gateway  RTCGateway
	cfg      Config
	log      *zap.Logger
	http     *http.Client

	mu    sync.Mutex
	tasks map[string]*sessionTasks
}

// New builds an Orchestrator over the given collaborators.
func New(store Store, registry Registry, eventBus *bus.Bus, gateway RTCGateway, cfg Config, log *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:    store,
		registry: registry,
		bus:      eventBus,
		gateway:  gateway,
		cfg:      cfg,
		log:      log,
		http:     &http.Client{Timeout: cfg.RegistrationTimeout},
		tasks:    make(map[string]*sessionTasks),
	}
}

// CreateSessionRequest is the decoded inbound create-session body.
type CreateSessionRequest struct {
	UserIdentity     string
	UserName         string
	RoomName         string
	Metadata         map[string]string
	RequiredServices []string
}

// CreateSessionResult is returned to the HTTP caller.
type CreateSessionResult struct {
	SessionID   string
	RoomName    string
	ClientToken string
	RTCUrl      string
	Status      session.Status
}

// CreateSession runs the eleven-step create-session protocol (§4.5). It
// returns once room creation, token minting, and monitor setup (steps
// 4-7) have completed, so the returned status is always WaitingForServices
// on success — step 9's join-dispatch fan-out runs detached in the
// background, observable only through the event bus.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	if req.UserIdentity == "" {
		return CreateSessionResult{}, newError(KindInvalidRequest, "user_identity is required", nil)
	}

	// Step 2: snapshot required services from the Registry.
	required, err := o.resolveRequiredServices(req.RequiredServices)
	if err != nil {
		return CreateSessionResult{}, err
	}

	// Step 1: generate ids.
	sessionID := uuid.NewString()
	roomName := req.RoomName
	if roomName == "" {
		roomName = "room-" + sessionID
	}

	now := time.Now().UTC()
	sess := session.Session{
		ID:               sessionID,
		RoomName:         roomName,
		Status:           session.StatusCreating,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         req.Metadata,
		RequiredServices: required,
		ReadyServices:    map[string]struct{}{},
		UserIdentity:     req.UserIdentity,
	}
	// Step 3: insert into the Store in Creating.
	o.store.Put(sess)

	st, err := o.setupSession(ctx, sessionID, roomName, req.UserIdentity, required)
	if err != nil {
		o.terminate(context.Background(), sessionID, err.Error())
		return CreateSessionResult{}, err
	}

	final, ok := o.store.Get(sessionID)
	if !ok {
		return CreateSessionResult{}, newError(KindInternal, "session vanished during setup", nil)
	}

	metrics.SessionsCreatedTotal.Inc()

	// Step 9: dispatch join loops, detached.
	for _, rec := range required {
		st.wg.Add(1)
		go o.runJoinDispatch(st, sessionID, rec, roomName)
	}

	// Step 10: arm the service-join deadline.
	st.wg.Add(1)
	go o.runServiceJoinDeadline(st, sessionID)

	return CreateSessionResult{
		SessionID:   sessionID,
		RoomName:    roomName,
		ClientToken: final.ClientToken,
		RTCUrl:      o.cfg.RTCUrl,
		Status:      final.Status,
	}, nil
}

func (o *Orchestrator) resolveRequiredServices(ids []string) ([]session.MicroserviceRecord, error) {
	if len(ids) == 0 {
		return o.registry.ListAvailable(), nil
	}
	found, missing := o.registry.GetByIDs(ids)
	if len(missing) > 0 {
		return nil, newError(KindInvalidRequest, fmt.Sprintf("required services not registered: %v", missing), nil)
	}
	out := make([]session.MicroserviceRecord, len(ids))
	for i, id := range ids {
		out[i] = found[id]
	}
	return out, nil
}

// setupSession runs steps 4-7: create the room, mint tokens, open the
// monitor, and transition to WaitingForServices. It registers the
// session's sessionTasks before returning so CreateSession can spawn the
// join-dispatch and deadline goroutines against it.
func (o *Orchestrator) setupSession(ctx context.Context, sessionID, roomName, userIdentity string, required []session.MicroserviceRecord) (*sessionTasks, error) {
	// Step 4.
	if err := o.gateway.CreateRoom(ctx, roomName); err != nil {
		return nil, newError(KindRtcTransport, "create_room failed", err)
	}

	// Step 5: client token.
	clientToken, err := o.gateway.MintToken(userIdentity, roomName, rtc.Grants{
		RoomJoin: true, CanPublish: true, CanSubscribe: true, CanPublishData: true,
	}, o.cfg.ClientTokenTTL)
	if err != nil {
		return nil, newError(KindRtcTransport, "mint_token(client) failed", err)
	}

	// Step 6: one token per required service.
	serviceTokens := make(map[string]string, len(required))
	for _, rec := range required {
		tok, err := o.gateway.MintToken(rec.ServiceID, roomName, rtc.Grants{
			RoomJoin: true, CanPublish: true, CanSubscribe: true, CanPublishData: true,
		}, o.cfg.MicroserviceTokenTTL)
		if err != nil {
			return nil, newError(KindRtcTransport, fmt.Sprintf("mint_token(%s) failed", rec.ServiceID), err)
		}
		serviceTokens[rec.ServiceID] = tok
	}

	// Step 7: open the monitor.
	serviceIDSet := make(map[string]struct{}, len(required))
	for _, rec := range required {
		serviceIDSet[rec.ServiceID] = struct{}{}
	}
	monitorIdentity := "session-manager-" + sessionID
	handle := o.gateway.OpenMonitor(roomName, monitorIdentity, serviceIDSet)

	st := &sessionTasks{monitor: handle, serviceTokens: serviceTokens}
	st.ctx, st.cancel = context.WithCancel(context.Background())
	o.mu.Lock()
	o.tasks[sessionID] = st
	o.mu.Unlock()

	st.wg.Add(1)
	go o.drainMonitor(st, sessionID, handle)

	// Step 8: transition to WaitingForServices, publish SessionCreated.
	if err := o.store.Update(sessionID, func(s *session.Session) error {
		s.ClientToken = clientToken
		s.Status = session.StatusWaitingForServices
		return nil
	}); err != nil {
		return nil, newError(KindInternal, "failed to persist WaitingForServices transition", err)
	}
	metrics.SessionStateTransitions.WithLabelValues(string(session.StatusWaitingForServices)).Inc()
	o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionStatusChanged, Status: session.StatusWaitingForServices, Timestamp: time.Now().UTC()})
	o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionCreated, RoomName: roomName, AccessToken: clientToken, RTCUrl: o.cfg.RTCUrl, Timestamp: time.Now().UTC()})

	// Step 11 (client deadline) is armed on entry to Ready; see
	// handleParticipantJoined.
	return st, nil
}

func (o *Orchestrator) sessionTasksFor(sessionID string) *sessionTasks {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tasks[sessionID]
}

// runJoinDispatch is the join-dispatch loop (§4.6) for one required
// service within one session.
func (o *Orchestrator) runJoinDispatch(st *sessionTasks, sessionID string, rec session.MicroserviceRecord, roomName string) {
	defer st.wg.Done()

	token := st.serviceTokens[rec.ServiceID]
	_ = o.registry.MarkStatus(rec.ServiceID, session.MicroserviceJoining)

	dispatch := func() {
		body, _ := json.Marshal(map[string]string{
			"room_name":        roomName,
			"session_id":       sessionID,
			"service_identity": rec.ServiceID,
			"access_token":     token,
			"rtc_url":          o.cfg.RTCUrl,
		})
		reqCtx, cancel := context.WithTimeout(st.ctx, o.cfg.RegistrationTimeout)
		defer cancel()
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rec.Endpoint+"/join-room", bytes.NewReader(body))
		if err != nil {
			metrics.JoinDispatchAttempts.WithLabelValues("build_error").Inc()
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := o.http.Do(httpReq)
		if err != nil {
			metrics.JoinDispatchAttempts.WithLabelValues("transport_error").Inc()
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.JoinDispatchAttempts.WithLabelValues("ack").Inc()
		} else {
			metrics.JoinDispatchAttempts.WithLabelValues("rejected").Inc()
		}
	}

	ticker := time.NewTicker(o.cfg.JoinRetryInterval)
	defer ticker.Stop()

	dispatch()
	for {
		select {
		case <-st.ctx.Done():
			return
		case <-ticker.C:
			if !o.stillWaitingFor(sessionID, rec.ServiceID) {
				return
			}
			dispatch()
		}
	}
}

func (o *Orchestrator) stillWaitingFor(sessionID, serviceID string) bool {
	s, ok := o.store.Get(sessionID)
	if !ok || s.Status != session.StatusWaitingForServices {
		return false
	}
	_, ready := s.ReadyServices[serviceID]
	return !ready
}

// runServiceJoinDeadline arms the 60s (default) service-join deadline
// (§4.5 step 10).
func (o *Orchestrator) runServiceJoinDeadline(st *sessionTasks, sessionID string) {
	defer st.wg.Done()
	timer := time.NewTimer(o.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-st.ctx.Done():
		return
	case <-timer.C:
	}

	s, ok := o.store.Get(sessionID)
	if !ok || s.Status != session.StatusWaitingForServices {
		return
	}
	if s.IsReady() {
		return
	}
	o.terminate(context.Background(), sessionID, "service-join timeout")
}

// runClientJoinDeadline arms the 300s (default) client-join deadline,
// gated on entry to Ready (§4.5 step 11).
func (o *Orchestrator) runClientJoinDeadline(st *sessionTasks, sessionID string) {
	defer st.wg.Done()
	timer := time.NewTimer(o.cfg.ClientTimeout)
	defer timer.Stop()
	select {
	case <-st.ctx.Done():
		return
	case <-timer.C:
	}

	s, ok := o.store.Get(sessionID)
	if !ok || s.Status != session.StatusReady {
		return
	}
	o.terminate(context.Background(), sessionID, "client-join timeout")
}

// drainMonitor runs the RTC event handler (§4.7) for one session's
// monitor connection until it is closed or the session's context is
// cancelled.
func (o *Orchestrator) drainMonitor(st *sessionTasks, sessionID string, handle *rtc.MonitorHandle) {
	defer st.wg.Done()
	for {
		select {
		case <-st.ctx.Done():
			return
		case ev, ok := <-handle.Events():
			if !ok {
				return
			}
			o.handleRTCEvent(st, sessionID, ev)
		}
	}
}

func (o *Orchestrator) handleRTCEvent(st *sessionTasks, sessionID string, ev rtc.MonitorEvent) {
	switch ev.Kind {
	case rtc.ParticipantJoined:
		o.handleParticipantJoined(st, sessionID, ev)
	case rtc.ParticipantLeft:
		o.handleParticipantLeft(sessionID, ev)
	case rtc.RoomClosed, rtc.TransportError:
		o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventError, Message: string(ev.Kind), Timestamp: time.Now().UTC()})
		o.terminate(context.Background(), sessionID, string(ev.Kind))
	}
}

func (o *Orchestrator) handleParticipantJoined(st *sessionTasks, sessionID string, ev rtc.MonitorEvent) {
	if ev.ParticipantKind == rtc.ParticipantService {
		var becameReady bool
		err := o.store.Update(sessionID, func(s *session.Session) error {
			if _, already := s.ReadyServices[ev.Identity]; already {
				return nil
			}
			s.ReadyServices[ev.Identity] = struct{}{}
			if s.Status == session.StatusWaitingForServices && s.IsReady() {
				s.Status = session.StatusReady
				becameReady = true
			}
			return nil
		})
		if err != nil {
			return
		}
		_ = o.registry.MarkStatus(ev.Identity, session.MicroserviceReady)
		o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventMicroserviceJoined, Identity: ev.Identity, Timestamp: time.Now().UTC()})
		if becameReady {
			metrics.SessionStateTransitions.WithLabelValues(string(session.StatusReady)).Inc()
			o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionStatusChanged, Status: session.StatusReady, Timestamp: time.Now().UTC()})
			o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionReady, AllJoined: true, Timestamp: time.Now().UTC()})
			st.wg.Add(1)
			go o.runClientJoinDeadline(st, sessionID)
		}
		return
	}

	// Client.
	var becameActive bool
	err := o.store.Update(sessionID, func(s *session.Session) error {
		if s.Status == session.StatusReady {
			s.Status = session.StatusActive
			becameActive = true
		}
		return nil
	})
	if err != nil {
		return
	}
	o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventClientJoined, Identity: ev.Identity, Timestamp: time.Now().UTC()})
	if becameActive {
		metrics.SessionStateTransitions.WithLabelValues(string(session.StatusActive)).Inc()
		o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionStatusChanged, Status: session.StatusActive, Timestamp: time.Now().UTC()})
	}
}

func (o *Orchestrator) handleParticipantLeft(sessionID string, ev rtc.MonitorEvent) {
	if ev.ParticipantKind == rtc.ParticipantService {
		_ = o.store.Update(sessionID, func(s *session.Session) error {
			delete(s.ReadyServices, ev.Identity)
			return nil
		})
		_ = o.registry.MarkStatus(ev.Identity, session.MicroserviceDisconnected)
		// Open Question resolution: a required service disconnecting while
		// Ready goes straight to Terminating rather than demoting back to
		// WaitingForServices — see DESIGN.md.
		o.terminate(context.Background(), sessionID, "required service disconnected: "+ev.Identity)
		return
	}

	s, ok := o.store.Get(sessionID)
	if ok && s.Status == session.StatusActive {
		o.terminate(context.Background(), sessionID, "client left")
	}
}

// Terminate is the explicit terminate() trigger available to any
// non-terminal state (§4.5).
func (o *Orchestrator) Terminate(ctx context.Context, sessionID string) error {
	if _, ok := o.store.Get(sessionID); !ok {
		return newError(KindSessionNotFound, sessionID, nil)
	}
	o.terminate(ctx, sessionID, "explicit terminate")
	return nil
}

// GetSession returns a snapshot of a session, or SessionNotFound.
func (o *Orchestrator) GetSession(sessionID string) (session.Session, error) {
	s, ok := o.store.Get(sessionID)
	if !ok {
		return session.Session{}, newError(KindSessionNotFound, sessionID, nil)
	}
	return s, nil
}

// terminate runs the seven-step termination protocol (§4.8). It is
// idempotent: a duplicate call for a session already Terminating or gone
// is a no-op.
func (o *Orchestrator) terminate(ctx context.Context, sessionID string, reason string) {
	s, ok := o.store.Get(sessionID)
	if !ok || s.Status == session.StatusTerminating || s.Status == session.StatusTerminated {
		return
	}

	_ = o.store.Update(sessionID, func(sess *session.Session) error {
		sess.Status = session.StatusTerminating
		return nil
	})
	metrics.SessionStateTransitions.WithLabelValues(string(session.StatusTerminating)).Inc()
	o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionStatusChanged, Status: session.StatusTerminating, Timestamp: time.Now().UTC()})
	o.log.Info("session terminating", zap.String("session_id", sessionID), zap.String("reason", reason))

	// Step 2: cancel outstanding tasks.
	st := o.sessionTasksFor(sessionID)
	if st != nil && st.cancel != nil {
		st.cancel()
	}

	// Step 3: drop the monitor handle.
	if st != nil && st.monitor != nil {
		_ = st.monitor.Close()
	}

	// Step 4: best-effort delete_room; swallow and log failures.
	if err := o.gateway.DeleteRoom(ctx, s.RoomName); err != nil {
		logging.Error(ctx, "delete_room failed during termination", zap.String("session_id", sessionID), zap.Error(err))
	}

	// Step 5: remove from the Store.
	_ = o.store.Delete(sessionID)

	// Step 6: publish terminal status.
	metrics.SessionStateTransitions.WithLabelValues(string(session.StatusTerminated)).Inc()
	o.bus.Publish(session.Event{SessionID: sessionID, Kind: session.EventSessionStatusChanged, Status: session.StatusTerminated, Timestamp: time.Now().UTC()})

	// Step 7: tear down the per-session bus channel once subscriberless.
	o.bus.CloseSession(sessionID)

	o.mu.Lock()
	delete(o.tasks, sessionID)
	o.mu.Unlock()
}
