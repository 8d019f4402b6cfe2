// Package registry implements the Microservice Registry: a thread-safe,
// sharded, in-memory mapping from service id to microservice record.
//
// Same two-level locking shape as internal/store (shard lock for entry
// existence, entry lock for field updates) — the Registry and the Store
// are siblings in the teacher's Hub/Room idiom, not a single shared type,
// because their key spaces and lifecycles diverge (services are long-
// lived and re-registered in place; sessions are created once and torn
// down).
package registry

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/robotsession/core/internal/session"
)

// ErrNotFound is returned when a lookup finds no record for an id.
var ErrNotFound = errors.New("registry: service not found")

const shardCount = 16

type entry struct {
	mu sync.Mutex
	r  session.MicroserviceRecord
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Registry is the Microservice Registry. The zero value is not usable;
// call New.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty Registry.
func New() *Registry {
	reg := &Registry{}
	for i := range reg.shards {
		reg.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return reg
}

func (reg *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return reg.shards[h.Sum32()%shardCount]
}

// Register inserts or replaces a microservice record. On replace, the new
// endpoint, metadata, and capabilities supersede the old ones and
// registered_at is reset. Sessions that already captured an older snapshot
// of this record (in Session.RequiredServices) are unaffected — Register
// only ever touches the Registry's own map.
func (reg *Registry) Register(rec session.MicroserviceRecord) {
	rec.RegisteredAt = now()
	if rec.Status == "" {
		rec.Status = session.MicroserviceRegistered
	}
	sh := reg.shardFor(rec.ServiceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[rec.ServiceID] = &entry{r: rec}
}

// GetByIDs returns a snapshot record for every id that has one, and the
// subset of ids that have no record — the caller (create-session) treats
// a non-empty missing list as InvalidRequest, naming every absent id at
// once rather than failing on the first.
func (reg *Registry) GetByIDs(ids []string) (map[string]session.MicroserviceRecord, []string) {
	found := make(map[string]session.MicroserviceRecord, len(ids))
	var missing []string
	for _, id := range ids {
		sh := reg.shardFor(id)
		sh.mu.RLock()
		e, ok := sh.entries[id]
		sh.mu.RUnlock()
		if !ok {
			missing = append(missing, id)
			continue
		}
		e.mu.Lock()
		found[id] = e.r.Clone()
		e.mu.Unlock()
	}
	return found, missing
}

// ListAvailable returns every record whose status is not Disconnected.
func (reg *Registry) ListAvailable() []session.MicroserviceRecord {
	var out []session.MicroserviceRecord
	for _, sh := range reg.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			if e.r.Status != session.MicroserviceDisconnected {
				out = append(out, e.r.Clone())
			}
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return out
}

// MarkStatus updates a record's status. Private to the orchestrator: the
// registry itself performs no health checks, it only records what the
// orchestrator observed from join-command outcomes and RTC participant
// events.
func (reg *Registry) MarkStatus(serviceID string, status session.MicroserviceStatus) error {
	sh := reg.shardFor(serviceID)
	sh.mu.RLock()
	e, ok := sh.entries[serviceID]
	sh.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.r.Status = status
	e.mu.Unlock()
	return nil
}

// Count returns the number of registered records, for metrics.
func (reg *Registry) Count() int {
	n := 0
	for _, sh := range reg.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

var now = func() time.Time { return time.Now().UTC() }
