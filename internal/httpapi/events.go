package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robotsession/core/internal/bus"
	"github.com/robotsession/core/internal/session"
)

// EventsAPI streams the Event Bus's two subscription kinds (§4.3) to
// external HTTP clients over Server-Sent Events, matching "a stream of
// lifecycle events … feeding … external server-sent-events subscribers"
// (§2). Kept separate from API so a caller that only wants the bus
// surface doesn't need an Orchestrator/Registry.
type EventsAPI struct {
	bus *bus.Bus
}

// NewEventsAPI builds an EventsAPI over the given bus.
func NewEventsAPI(b *bus.Bus) *EventsAPI {
	return &EventsAPI{bus: b}
}

// GlobalEvents handles GET /api/v1/events: every event published on the
// bus from subscription time forward.
func (e *EventsAPI) GlobalEvents(c *gin.Context) {
	ch, unsubscribe := e.bus.SubscribeGlobal(bus.DefaultBufferSize)
	e.stream(c, ch, unsubscribe)
}

// SessionEvents handles GET /api/v1/sessions/:id/events: events scoped to
// one session id.
func (e *EventsAPI) SessionEvents(c *gin.Context) {
	id := c.Param("id")
	ch, unsubscribe := e.bus.SubscribeSession(id, bus.DefaultBufferSize)
	e.stream(c, ch, unsubscribe)
}

// stream drains ch onto the response as text/event-stream frames until
// the client disconnects or the channel closes because the subscriber
// lagged and was dropped. Session termination does not close a session
// subscriber's channel, so the stream stays open after the terminal
// SessionStatusChanged event until the client disconnects. Dropping the subscription
// handle on return releases every resource SubscribeGlobal/SubscribeSession
// allocated, per §4.3's cancellation contract.
func (e *EventsAPI) stream(c *gin.Context, ch <-chan session.Event, unsubscribe bus.Unsubscribe) {
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-time.After(30 * time.Second):
			// Idle keep-alive: gin's Stream loop would otherwise block
			// forever on a quiet channel with no way to notice the peer
			// going away until the next real event.
			c.SSEvent("ping", gin.H{"ts": time.Now().UTC()})
			return true
		}
	})
}
