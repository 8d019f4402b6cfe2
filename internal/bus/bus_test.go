package bus

import (
	"testing"
	"time"

	"github.com/robotsession/core/internal/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishGlobalOrdering(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeGlobal(8)
	defer cancel()

	b.Publish(session.Event{SessionID: "s1", Kind: session.EventSessionCreated})
	b.Publish(session.Event{SessionID: "s1", Kind: session.EventSessionStatusChanged, Status: session.StatusWaitingForServices})

	first := <-ch
	second := <-ch
	if first.Kind != session.EventSessionCreated || second.Kind != session.EventSessionStatusChanged {
		t.Fatalf("events arrived out of order: %v, %v", first.Kind, second.Kind)
	}
}

func TestSubscribeSessionScoped(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeSession("s1", 8)
	defer cancel()

	b.Publish(session.Event{SessionID: "s2", Kind: session.EventSessionCreated})
	b.Publish(session.Event{SessionID: "s1", Kind: session.EventMicroserviceJoined, Identity: "asr-1"})

	select {
	case e := <-ch:
		if e.SessionID != "s1" || e.Kind != session.EventMicroserviceJoined {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session-scoped event")
	}

	select {
	case e := <-ch:
		t.Fatalf("did not expect a second event (for another session): %+v", e)
	default:
	}
}

func TestLaggingSubscriberIsDroppedNotBlocked(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeGlobal(2)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(session.Event{SessionID: "s1", Kind: session.EventSessionStatusChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a lagging subscriber")
	}

	// Drain whatever made it in (the two buffered events), then expect the
	// channel to have been closed by the third publish.
	closedSeen := false
	for i := 0; i < 10; i++ {
		select {
		case _, ok := <-ch:
			if !ok {
				closedSeen = true
			}
		default:
		}
	}
	if !closedSeen {
		t.Fatal("expected the lagging subscriber's channel to be closed")
	}
}

func TestSessionTopicTornDownAfterCloseAndLastUnsubscribe(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeSession("s1", 8)

	b.CloseSession("s1")
	if b.SessionSubscriberCount("s1") != 1 {
		t.Fatal("topic should still exist while a subscriber remains")
	}

	cancel()
	if b.SessionSubscriberCount("s1") != 0 {
		t.Fatal("topic should be gone once the last subscriber leaves a closed session")
	}

	// Channel must be closed for the subscriber to observe cancellation.
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed or drained to zero value")
	}
}

func TestCloseSessionWithNoSubscribersRemovesImmediately(t *testing.T) {
	b := New()
	b.Publish(session.Event{SessionID: "s1", Kind: session.EventSessionCreated})
	b.CloseSession("s1")
	if b.SessionSubscriberCount("s1") != 0 {
		t.Fatal("expected topic to be removed immediately")
	}
}
