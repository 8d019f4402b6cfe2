package rtc

import (
	"net/http"
	"strings"
	"sync"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
)

// EventKind identifies the variant of a MonitorEvent.
type EventKind string

const (
	ParticipantJoined EventKind = "participant_joined"
	ParticipantLeft   EventKind = "participant_left"
	RoomClosed        EventKind = "room_closed"
	TransportError    EventKind = "transport_error"
)

// ParticipantKind classifies a joining/leaving identity relative to a
// session's required-service snapshot.
type ParticipantKind string

const (
	ParticipantService ParticipantKind = "service"
	ParticipantClient  ParticipantKind = "client"
)

// MonitorEvent is a typed RTC event surfaced by a monitor connection.
type MonitorEvent struct {
	Kind            EventKind
	Identity        string
	ParticipantKind ParticipantKind
	Cause           string
}

// MonitorHandle is the orchestrator's hidden monitoring participant
// attachment for one room. While held, it delivers a lazy sequence of
// typed RTC events on Events(). Dropping the handle (Close) unregisters
// it from the Gateway's webhook demux table; further events for that room
// are no longer delivered to it.
type MonitorHandle struct {
	roomName string
	events   chan MonitorEvent
	demux    *webhookDemux
}

// Events returns the channel of participant-lifecycle events for this
// room. It is closed when the handle is closed.
func (h *MonitorHandle) Events() <-chan MonitorEvent {
	return h.events
}

// Close drops the monitor handle, closing the orchestrator's RTC
// attachment for this room.
func (h *MonitorHandle) Close() error {
	if h.demux == nil {
		// Manual handle (see NewManualHandle) not backed by a demux table.
		close(h.events)
		return nil
	}
	h.demux.unregister(h.roomName, h)
	return nil
}

// NewManualHandle creates a MonitorHandle not backed by the webhook demux
// table, for tests that want to drive the orchestrator's RTC event handler
// directly via Push rather than through a real webhook delivery.
func NewManualHandle(roomName string, bufSize int) *MonitorHandle {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &MonitorHandle{roomName: roomName, events: make(chan MonitorEvent, bufSize)}
}

// Push delivers an event directly to this handle's Events() channel.
// Exported for tests driving a manual handle.
func (h *MonitorHandle) Push(ev MonitorEvent) {
	h.events <- ev
}

// OpenMonitor registers a per-room channel in the Gateway's webhook demux
// table. orchestratorIdentity is the hidden monitoring participant's own
// identity ("session-manager-<id>"), filtered out of delivered events.
// serviceIDs is the session's required-service id snapshot, used to
// classify joining/leaving identities as microservice vs client.
func (g *Gateway) OpenMonitor(roomName, orchestratorIdentity string, serviceIDs map[string]struct{}) *MonitorHandle {
	h := &MonitorHandle{
		roomName: roomName,
		events:   make(chan MonitorEvent, 32),
		demux:    g.demux,
	}
	g.demux.register(roomName, orchestratorIdentity, serviceIDs, h)
	return h
}

type registration struct {
	handle               *MonitorHandle
	orchestratorIdentity string
	serviceIDs           map[string]struct{}
}

// webhookDemux routes inbound LiveKit webhook deliveries to the monitor
// handle registered for the event's room.
type webhookDemux struct {
	mu    sync.RWMutex
	byRoom map[string][]*registration
}

func newWebhookDemux() *webhookDemux {
	return &webhookDemux{byRoom: make(map[string][]*registration)}
}

func (d *webhookDemux) register(roomName, orchestratorIdentity string, serviceIDs map[string]struct{}, h *MonitorHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byRoom[roomName] = append(d.byRoom[roomName], &registration{
		handle:               h,
		orchestratorIdentity: orchestratorIdentity,
		serviceIDs:           serviceIDs,
	})
}

func (d *webhookDemux) unregister(roomName string, h *MonitorHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.byRoom[roomName]
	for i, r := range regs {
		if r.handle == h {
			d.byRoom[roomName] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(d.byRoom[roomName]) == 0 {
		delete(d.byRoom, roomName)
	}
	close(h.events)
}

func (d *webhookDemux) dispatch(roomName string, ev MonitorEvent) {
	d.mu.RLock()
	regs := append([]*registration(nil), d.byRoom[roomName]...)
	d.mu.RUnlock()
	for _, r := range regs {
		if ev.Identity == r.orchestratorIdentity || isOrchestratorIdentity(ev.Identity) {
			continue // self; the monitor never observes its own attachment
		}
		e := ev
		if _, isService := r.serviceIDs[ev.Identity]; isService {
			e.ParticipantKind = ParticipantService
		} else {
			e.ParticipantKind = ParticipantClient
		}
		select {
		case r.handle.events <- e:
		default:
			// Monitor consumer is behind; the orchestrator's event handler
			// loop is expected to keep up (it does no blocking I/O), so
			// this only triggers under deep starvation. Dropping here is
			// consistent with the bus's own never-block-the-source policy.
		}
	}
}

// WebhookHandler returns an http.HandlerFunc for POST /webhooks/rtc,
// verifying deliveries with the configured API key/secret and dispatching
// participant_joined / participant_left / room_finished events to the
// matching room's registered monitor handles.
func (g *Gateway) WebhookHandler() http.HandlerFunc {
	provider := auth.NewSimpleKeyProvider(g.cfg.APIKey, g.cfg.APISecret)
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := webhook.Receive(r, provider)
		if err != nil {
			http.Error(w, "invalid webhook signature", http.StatusUnauthorized)
			return
		}
		g.routeWebhookEvent(event)
		w.WriteHeader(http.StatusOK)
	}
}

func (g *Gateway) routeWebhookEvent(event *livekit.WebhookEvent) {
	if event.Room == nil {
		return
	}
	room := event.Room.Name

	switch event.Event {
	case "participant_joined":
		if event.Participant == nil {
			return
		}
		g.demux.dispatch(room, MonitorEvent{Kind: ParticipantJoined, Identity: event.Participant.Identity})
	case "participant_left":
		if event.Participant == nil {
			return
		}
		g.demux.dispatch(room, MonitorEvent{Kind: ParticipantLeft, Identity: event.Participant.Identity})
	case "room_finished":
		g.demux.dispatch(room, MonitorEvent{Kind: RoomClosed})
	}
}

// isOrchestratorIdentity reports whether identity is a hidden monitoring
// participant's own self-identity, by the "session-manager-" convention.
func isOrchestratorIdentity(identity string) bool {
	return strings.HasPrefix(identity, "session-manager-")
}
