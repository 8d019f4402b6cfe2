// Package store implements the Session Store: a thread-safe, sharded,
// in-memory mapping from session id to session record.
//
// Locking mirrors the teacher's Hub/Room two-level scheme: a shard lock
// guards the existence of an entry (creation, deletion, lookup), and a
// per-entry lock guards the entry's own fields during update. Readers
// never observe a partially updated session because update() holds the
// entry lock for the full duration of the caller's mutator.
package store

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/robotsession/core/internal/session"
)

// ErrNotFound is returned by Get, Update, and Delete for an unknown id.
var ErrNotFound = errors.New("store: session not found")

const shardCount = 32

type entry struct {
	mu sync.Mutex
	s  session.Session
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is the Session Store. The zero value is not usable; call New.
type Store struct {
	shards [shardCount]*shard
}

// New creates an empty Store.
func New() *Store {
	st := &Store{}
	for i := range st.shards {
		st.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return st
}

func (st *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return st.shards[h.Sum32()%shardCount]
}

// Put inserts a new session, or replaces an existing one with the same id.
func (st *Store) Put(s session.Session) {
	sh := st.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[s.ID] = &entry{s: s}
}

// Get returns a deep-enough snapshot of the session. ok is false if the id
// is unknown.
func (st *Store) Get(id string) (session.Session, bool) {
	sh := st.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return session.Session{}, false
	}
	e.mu.Lock()
	snap := e.s.Clone()
	e.mu.Unlock()
	return snap, true
}

// Update looks up the session by id and runs mutator against it under the
// entry's lock, then stamps UpdatedAt. The mutator receives a pointer to
// the live record — it must not retain it past the call. Returns
// ErrNotFound if the id is unknown, or whatever error the mutator returns
// (in which case the mutation is still applied — mutators should mutate
// only after deciding to succeed).
func (st *Store) Update(id string, mutator func(s *session.Session) error) error {
	sh := st.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := mutator(&e.s); err != nil {
		return err
	}
	e.s.UpdatedAt = now()
	return nil
}

// Delete removes the session. Returns ErrNotFound if the id is unknown.
func (st *Store) Delete(id string) error {
	sh := st.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; !ok {
		return ErrNotFound
	}
	delete(sh.entries, id)
	return nil
}

// List returns a snapshot of every session currently held.
func (st *Store) List() []session.Session {
	var out []session.Session
	for _, sh := range st.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			out = append(out, e.s.Clone())
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return out
}

// Count returns the number of sessions currently held, for metrics.
func (st *Store) Count() int {
	n := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

var now = func() time.Time { return time.Now().UTC() }
