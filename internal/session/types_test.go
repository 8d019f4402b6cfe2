package session

import "testing"

func TestIsReadyRequiresEveryRequiredService(t *testing.T) {
	s := Session{
		RequiredServices: []MicroserviceRecord{{ServiceID: "asr-1"}, {ServiceID: "tts-1"}},
		ReadyServices:    map[string]struct{}{"asr-1": {}},
	}
	if s.IsReady() {
		t.Fatal("expected IsReady to be false with one of two services ready")
	}
	s.ReadyServices["tts-1"] = struct{}{}
	if !s.IsReady() {
		t.Fatal("expected IsReady to be true once every required service is ready")
	}
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	s := Session{
		ID:               "s1",
		RequiredServices: []MicroserviceRecord{{ServiceID: "asr-1", Metadata: map[string]string{"k": "v"}}},
		ReadyServices:    map[string]struct{}{"asr-1": {}},
		Metadata:         map[string]string{"a": "b"},
	}
	clone := s.Clone()

	clone.ReadyServices["tts-1"] = struct{}{}
	clone.Metadata["a"] = "changed"
	clone.RequiredServices[0].Metadata["k"] = "changed"

	if _, ok := s.ReadyServices["tts-1"]; ok {
		t.Fatal("mutating the clone's ReadyServices leaked back to the source")
	}
	if s.Metadata["a"] != "b" {
		t.Fatal("mutating the clone's Metadata leaked back to the source")
	}
	if s.RequiredServices[0].Metadata["k"] != "v" {
		t.Fatal("mutating the clone's nested record metadata leaked back to the source")
	}
}

func TestRequiredServiceIDs(t *testing.T) {
	s := Session{RequiredServices: []MicroserviceRecord{{ServiceID: "asr-1"}, {ServiceID: "tts-1"}}}
	ids := s.RequiredServiceIDs()
	if len(ids) != 2 || ids[0] != "asr-1" || ids[1] != "tts-1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
