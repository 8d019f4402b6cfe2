package rtc

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ServerURL: "http://localhost:7880", APIKey: "k", APISecret: "s"}.withDefaults()
	if cfg.CreateRetries != 3 {
		t.Fatalf("expected default CreateRetries of 3, got %d", cfg.CreateRetries)
	}
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay <= 0 {
		t.Fatal("expected non-zero backoff defaults")
	}
	if cfg.EmptyTimeout != 5*time.Minute {
		t.Fatalf("expected default EmptyTimeout of 5m, got %v", cfg.EmptyTimeout)
	}
}

func TestMintTokenProducesDistinctTokensPerIdentity(t *testing.T) {
	gw := New(Config{ServerURL: "http://localhost:7880", APIKey: "test-key", APISecret: "test-secret-that-is-long-enough"})

	clientToken, err := gw.MintToken("u1", "room-1", Grants{RoomJoin: true, CanPublish: true, CanSubscribe: true, CanPublishData: true}, 6*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error minting client token: %v", err)
	}
	if clientToken == "" {
		t.Fatal("expected a non-empty token")
	}

	serviceToken, err := gw.MintToken("asr-1", "room-1", Grants{RoomJoin: true, CanPublish: true, CanSubscribe: true, CanPublishData: true}, 6*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error minting service token: %v", err)
	}
	if serviceToken == clientToken {
		t.Fatal("expected distinct tokens for distinct identities")
	}
}

func TestMintTokenHiddenMonitorGrant(t *testing.T) {
	gw := New(Config{ServerURL: "http://localhost:7880", APIKey: "test-key", APISecret: "test-secret-that-is-long-enough"})
	token, err := gw.MintToken("session-manager-s1", "room-1", Grants{RoomAdmin: true, Hidden: true}, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error minting monitor token: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty monitor token")
	}
}
