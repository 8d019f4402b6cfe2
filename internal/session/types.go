// Package session defines the data model shared by the Store, Registry,
// Event Bus, and Orchestrator: sessions, microservice records, and the
// event variants published on the bus.
package session

import "time"

// Status is the session state machine's current state.
type Status string

const (
	StatusCreating           Status = "Creating"
	StatusWaitingForServices Status = "WaitingForServices"
	StatusReady              Status = "Ready"
	StatusActive             Status = "Active"
	StatusTerminating        Status = "Terminating"
	StatusTerminated         Status = "Terminated"
)

// MicroserviceStatus is the registry-side lifecycle of a registered service.
type MicroserviceStatus string

const (
	MicroserviceRegistered  MicroserviceStatus = "Registered"
	MicroserviceJoining     MicroserviceStatus = "Joining"
	MicroserviceReady       MicroserviceStatus = "Ready"
	MicroserviceDisconnected MicroserviceStatus = "Disconnected"
)

// MicroserviceRecord is a single entry in the Microservice Registry.
type MicroserviceRecord struct {
	ServiceID    string
	Endpoint     string
	Status       MicroserviceStatus
	RegisteredAt time.Time
	Metadata     map[string]string
	// Capabilities is a free-form tag list (e.g. "asr", "tts", "llm")
	// carried on the record. Nothing in the core filters on it: a
	// create-session request that omits required_services gets every
	// record list_available() returns, whatever its capabilities.
	Capabilities []string
}

// Clone returns a deep-enough copy for safe hand-off across goroutine
// boundaries (metadata/capabilities are copied, not shared).
func (r MicroserviceRecord) Clone() MicroserviceRecord {
	c := r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.Capabilities != nil {
		c.Capabilities = append([]string(nil), r.Capabilities...)
	}
	return c
}

// RoomConnection is the handle to the orchestrator's own hidden monitoring
// participant attachment. It is owned exclusively by the session while it
// exists, and must be released on termination.
type RoomConnection interface {
	// Close drops the monitor handle, closing the underlying attachment.
	Close() error
}

// Session is the central entity owned by the Orchestrator.
type Session struct {
	ID               string
	RoomName         string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClientToken      string
	RequiredServices []MicroserviceRecord
	ReadyServices    map[string]struct{}
	Metadata         map[string]string
	RoomConnection   RoomConnection

	// UserIdentity is the client participant identity expected to join the
	// room once the session reaches Ready.
	UserIdentity string
}

// Clone returns a deep-enough snapshot safe to hand back to callers outside
// the Store's lock (the slices/maps are copied, RoomConnection is shared —
// it is an opaque handle, not session-owned data).
func (s Session) Clone() Session {
	c := s
	if s.RequiredServices != nil {
		c.RequiredServices = make([]MicroserviceRecord, len(s.RequiredServices))
		for i, r := range s.RequiredServices {
			c.RequiredServices[i] = r.Clone()
		}
	}
	if s.ReadyServices != nil {
		c.ReadyServices = make(map[string]struct{}, len(s.ReadyServices))
		for k := range s.ReadyServices {
			c.ReadyServices[k] = struct{}{}
		}
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// RequiredServiceIDs returns the id set captured at creation time.
func (s Session) RequiredServiceIDs() []string {
	ids := make([]string, len(s.RequiredServices))
	for i, r := range s.RequiredServices {
		ids[i] = r.ServiceID
	}
	return ids
}

// IsReady reports whether ready_services covers required_services.
func (s Session) IsReady() bool {
	for _, r := range s.RequiredServices {
		if _, ok := s.ReadyServices[r.ServiceID]; !ok {
			return false
		}
	}
	return true
}

// EventKind identifies the variant of a published Event.
type EventKind string

const (
	EventSessionCreated       EventKind = "SessionCreated"
	EventMicroserviceJoined   EventKind = "MicroserviceJoined"
	EventClientJoined         EventKind = "ClientJoined"
	EventSessionReady         EventKind = "SessionReady"
	EventSessionStatusChanged EventKind = "SessionStatusChanged"
	EventError                EventKind = "Error"
	// EventLagged is a sentinel enqueued best-effort on a subscriber's
	// channel immediately before it is closed for lagging behind.
	EventLagged EventKind = "Lagged"
)

// Event is a tagged variant carrying the session id and kind-specific
// fields. Only the fields relevant to Kind are populated.
type Event struct {
	SessionID string    `json:"session_id,omitempty"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"ts"`

	// SessionCreated
	RoomName    string `json:"room_name,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	RTCUrl      string `json:"rtc_url,omitempty"`

	// MicroserviceJoined, ClientJoined
	Identity string `json:"identity,omitempty"`

	// SessionReady
	AllJoined bool `json:"all_joined,omitempty"`

	// SessionStatusChanged
	Status Status `json:"status,omitempty"`

	// Error
	Message string `json:"message,omitempty"`
}
