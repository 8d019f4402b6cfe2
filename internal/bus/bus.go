// Package bus implements the Event Bus: a two-layer fan-out multiplexer
// with one global channel and a dynamic per-session channel registry.
//
// Grounded on the teacher's bus/redis.go non-blocking publish contract
// (select/default send, never block the publisher) fused with the
// retrieval pack's lighter pure-Go events.Bus shape (non-blocking
// broadcast over a map[chan Event]struct{} registry with an explicit,
// channel-closing Unsubscribe). Unlike the teacher's bus, this one never
// talks to Redis — cross-instance coordination is out of scope, so the
// bus is purely in-process fan-out.
package bus

import (
	"sync"

	"github.com/robotsession/core/internal/metrics"
	"github.com/robotsession/core/internal/session"
)

// DefaultBufferSize is the channel capacity used when callers don't pick
// one explicitly.
const DefaultBufferSize = 64

// Unsubscribe releases a subscription and closes its channel. Safe to call
// more than once.
type Unsubscribe func()

type topic struct {
	mu     sync.Mutex
	subs   map[chan session.Event]struct{}
	closed bool // the owning session has terminated (§4.8 step 7)
}

// Bus is the Event Bus. The zero value is not usable; call New.
type Bus struct {
	mu       sync.RWMutex
	global   *topic
	sessions map[string]*topic
}

// New creates an empty Bus ready for use.
func New() *Bus {
	return &Bus{
		global:   &topic{subs: make(map[chan session.Event]struct{})},
		sessions: make(map[string]*topic),
	}
}

func (b *Bus) sessionTopic(id string) *topic {
	b.mu.RLock()
	t, ok := b.sessions[id]
	b.mu.RUnlock()
	if ok {
		return t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.sessions[id]; ok {
		return t
	}
	t = &topic{subs: make(map[chan session.Event]struct{})}
	b.sessions[id] = t
	return t
}

// Publish enqueues an event on the global channel and, if it carries a
// session id, on that session's channel. Publish returns once the event
// has been enqueued on every subscriber's buffer (or the subscriber has
// been dropped for lagging) — it never blocks on a single slow
// subscriber's consumption.
func (b *Bus) Publish(e session.Event) {
	metrics.EventBusPublished.WithLabelValues(string(e.Kind)).Inc()
	b.global.publish(e, "global")
	if e.SessionID != "" {
		b.sessionTopic(e.SessionID).publish(e, "session")
	}
}

func (t *topic) publish(e session.Event, scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Lagging: drop this subscriber rather than block the publisher.
			delete(t.subs, ch)
			select {
			case ch <- session.Event{SessionID: e.SessionID, Kind: session.EventLagged}:
			default:
			}
			close(ch)
			metrics.EventBusDropped.WithLabelValues(scope).Inc()
			metrics.EventBusSubscribers.WithLabelValues(scope).Dec()
		}
	}
}

// SubscribeGlobal returns a channel receiving every published event from
// this point forward, and a cancel function that releases it.
func (b *Bus) SubscribeGlobal(bufSize int) (<-chan session.Event, Unsubscribe) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan session.Event, bufSize)
	t := b.global
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	metrics.EventBusSubscribers.WithLabelValues("global").Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
				metrics.EventBusSubscribers.WithLabelValues("global").Dec()
			}
			t.mu.Unlock()
		})
	}
}

// SubscribeSession returns a channel receiving events published for a
// single session id, and a cancel function that releases it. The
// per-session channel is created lazily on first subscription or first
// publish, whichever happens first.
func (b *Bus) SubscribeSession(id string, bufSize int) (<-chan session.Event, Unsubscribe) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan session.Event, bufSize)
	t := b.sessionTopic(id)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	metrics.EventBusSubscribers.WithLabelValues("session").Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			_, wasSub := t.subs[ch]
			if wasSub {
				delete(t.subs, ch)
				close(ch)
			}
			shouldRemove := t.closed && len(t.subs) == 0
			t.mu.Unlock()
			if wasSub {
				metrics.EventBusSubscribers.WithLabelValues("session").Dec()
			}
			if shouldRemove {
				b.removeSessionTopic(id, t)
			}
		})
	}
}

// CloseSession marks a session's channel as eligible for teardown (its
// session has left the Store, §4.8 step 7). If no subscribers remain it is
// removed immediately; otherwise removal happens when the last subscriber
// unsubscribes.
func (b *Bus) CloseSession(id string) {
	b.mu.RLock()
	t, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.closed = true
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		b.removeSessionTopic(id, t)
	}
}

func (b *Bus) removeSessionTopic(id string, expect *topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.sessions[id]; ok && cur == expect {
		delete(b.sessions, id)
	}
}

// SessionSubscriberCount reports the live subscriber count for a session
// channel, for tests and diagnostics.
func (b *Bus) SessionSubscriberCount(id string) int {
	b.mu.RLock()
	t, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
