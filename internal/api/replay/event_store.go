// Package replay is an append-only audit log of the events C7/C1 publish to
// the event bus (ChunkEdited, RealmPlayerCount, ...), kept for operator
// debugging rather than gameplay. Grounded on the teacher's
// internal/protocol/replay/replay.go and internal/api/replay/*, which query
// a MariaDB-backed store through a generated gRPC service; that wire layer
// doesn't exist in this module, so the query surface here is a plain Go
// method instead of an RPC, backed by a bounded in-memory ring rather than a
// SQL table — the audit trail is operational, not a durability guarantee.
package replay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tilerealm/server/internal/eventbus"
)

// Record is one audit entry, copied out of an eventbus.Envelope.
type Record struct {
	ID        string
	Timestamp time.Time
	Source    string
	EventType string
	Payload   []byte
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	EventTypes []string
	Since      time.Time
	Limit      int
}

// Store is a bounded, thread-safe ring buffer of audit records, filled by
// subscribing to an EventBus.
type Store struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
	head     int
	filled   bool
	sub      eventbus.Subscription
}

// NewStore builds a Store with room for capacity records and starts
// recording matching events from bus. Pass an empty Filter to record every
// event type.
func NewStore(bus eventbus.EventBus, capacity int, f eventbus.Filter) (*Store, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	s := &Store{records: make([]Record, capacity), capacity: capacity}

	sub, err := bus.Subscribe(context.Background(), f, func(_ context.Context, ev *eventbus.Envelope) {
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		s.append(Record{
			ID:        id,
			Timestamp: ts,
			Source:    ev.Source,
			EventType: ev.EventType,
			Payload:   ev.Payload,
		})
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *Store) append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.head] = r
	s.head = (s.head + 1) % s.capacity
	if s.head == 0 {
		s.filled = true
	}
}

// Query returns records matching f, newest first.
func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []Record
	n := s.head
	if s.filled {
		n = s.capacity
	}
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		r := s.records[idx]
		if len(f.EventTypes) > 0 && !contains(f.EventTypes, r.EventType) {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		all = append(all, r)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Close unsubscribes the store from its event bus.
func (s *Store) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}
