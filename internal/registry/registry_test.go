package registry

import (
	"testing"

	"github.com/robotsession/core/internal/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegisterThenGetByIDs(t *testing.T) {
	reg := New()
	reg.Register(session.MicroserviceRecord{ServiceID: "asr-1", Endpoint: "http://svc:8001"})

	found, missing := reg.GetByIDs([]string{"asr-1"})
	if len(missing) != 0 {
		t.Fatalf("expected no missing ids, got %v", missing)
	}
	rec, ok := found["asr-1"]
	if !ok {
		t.Fatal("expected asr-1 to be found")
	}
	if rec.Endpoint != "http://svc:8001" {
		t.Fatalf("unexpected endpoint: %s", rec.Endpoint)
	}
	if rec.RegisteredAt.IsZero() {
		t.Fatal("expected RegisteredAt to be set")
	}
}

func TestGetByIDsReportsAllMissing(t *testing.T) {
	reg := New()
	reg.Register(session.MicroserviceRecord{ServiceID: "asr-1", Endpoint: "http://svc:8001"})

	_, missing := reg.GetByIDs([]string{"asr-1", "ghost-1", "ghost-2"})
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing ids, got %v", missing)
	}
}

func TestReregisterReplacesEndpointNotSnapshot(t *testing.T) {
	reg := New()
	reg.Register(session.MicroserviceRecord{ServiceID: "asr-1", Endpoint: ":8001"})

	found, _ := reg.GetByIDs([]string{"asr-1"})
	snapshot := found["asr-1"] // simulates a session's captured required_services entry

	reg.Register(session.MicroserviceRecord{ServiceID: "asr-1", Endpoint: ":8002"})

	if snapshot.Endpoint != ":8001" {
		t.Fatal("snapshot taken before re-register must be unaffected")
	}

	found, _ = reg.GetByIDs([]string{"asr-1"})
	if found["asr-1"].Endpoint != ":8002" {
		t.Fatal("fresh lookup after re-register must see the new endpoint")
	}
}

func TestListAvailableExcludesDisconnected(t *testing.T) {
	reg := New()
	reg.Register(session.MicroserviceRecord{ServiceID: "asr-1", Endpoint: ":8001"})
	reg.Register(session.MicroserviceRecord{ServiceID: "tts-1", Endpoint: ":8002"})
	if err := reg.MarkStatus("tts-1", session.MicroserviceDisconnected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	avail := reg.ListAvailable()
	if len(avail) != 1 || avail[0].ServiceID != "asr-1" {
		t.Fatalf("expected only asr-1 available, got %+v", avail)
	}
}

func TestMarkStatusMissing(t *testing.T) {
	reg := New()
	if err := reg.MarkStatus("ghost", session.MicroserviceReady); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
