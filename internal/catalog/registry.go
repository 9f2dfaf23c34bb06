// Package catalog is the realm registry (C7): world metadata CRUD backed by
// internal/storage's persistent worlds collection, fronted by a
// internal/cache read-through Redis cache, with live player counts derived
// from internal/session and broadcast over internal/eventbus so subscribers
// outside the session manager (an ops dashboard) can observe them too.
// Grounded on the teacher's internal/cache/redis_cache.go +
// internal/cache/nats_invalidator.go read-through/invalidate pattern.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tilerealm/server/internal/cache"
	"github.com/tilerealm/server/internal/eventbus"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/storage"
)

const worldCacheTTL = 30 * time.Second

// Registry is the single entry point for world lifecycle operations.
type Registry struct {
	store  *storage.Store
	cached cache.CacheRepo // nil disables the hot-cache path; store is still authoritative
	bus    eventbus.EventBus
	source string
}

// NewRegistry builds a Registry. cached may be nil to run store-only (tests,
// single-node deployments without Redis).
func NewRegistry(store *storage.Store, cached cache.CacheRepo, bus eventbus.EventBus, source string) *Registry {
	return &Registry{store: store, cached: cached, bus: bus, source: source}
}

func worldKey(id string) string { return "world:" + id }

// CreateWorld registers a new world and returns its record.
func (r *Registry) CreateWorld(ctx context.Context, name, worldType string, seed int64) (storage.WorldRecord, error) {
	now := time.Now().UTC()
	rec := storage.WorldRecord{
		ID:           uuid.NewString(),
		Name:         name,
		Seed:         seed,
		WorldType:    worldType,
		CreatedAt:    now,
		LastPlayedAt: now,
	}
	if err := r.store.PutWorld(rec); err != nil {
		return storage.WorldRecord{}, fmt.Errorf("catalog: create world: %w", err)
	}
	r.invalidate(ctx, rec.ID)
	return rec, nil
}

// GetWorld fetches a world record, reading through the hot cache when one is
// configured.
func (r *Registry) GetWorld(ctx context.Context, id string) (storage.WorldRecord, bool, error) {
	if r.cached != nil {
		if raw, err := r.cached.Get(ctx, worldKey(id)); err == nil {
			var rec storage.WorldRecord
			if jerr := json.Unmarshal(raw, &rec); jerr == nil {
				return rec, true, nil
			}
		}
	}

	rec, found, err := r.store.GetWorld(id)
	if err != nil || !found {
		return rec, found, err
	}

	if r.cached != nil {
		if raw, jerr := json.Marshal(rec); jerr == nil {
			_ = r.cached.Set(ctx, worldKey(id), raw, worldCacheTTL)
		}
	}
	return rec, true, nil
}

// ListWorlds returns every registered world, most recently played first.
// The list itself bypasses the hot cache: it would require a secondary
// index to invalidate correctly, and the lobby reads it infrequently.
func (r *Registry) ListWorlds() ([]storage.WorldRecord, error) {
	worlds, err := r.store.ListWorlds()
	if err != nil {
		return nil, fmt.Errorf("catalog: list worlds: %w", err)
	}
	sort.Slice(worlds, func(i, j int) bool {
		return worlds[i].LastPlayedAt.After(worlds[j].LastPlayedAt)
	})
	return worlds, nil
}

// RenameWorld changes a world's display name.
func (r *Registry) RenameWorld(ctx context.Context, id, newName string) error {
	rec, found, err := r.store.GetWorld(id)
	if err != nil {
		return fmt.Errorf("catalog: rename world: %w", err)
	}
	if !found {
		return ErrUnknownWorld
	}
	rec.Name = newName
	if err := r.store.PutWorld(rec); err != nil {
		return fmt.Errorf("catalog: rename world: %w", err)
	}
	r.invalidate(ctx, id)
	return nil
}

// UpdateLastPlayed stamps a world's LastPlayedAt, used when a realm is
// (re)loaded so the lobby's "recently played" ordering stays accurate.
func (r *Registry) UpdateLastPlayed(ctx context.Context, id string, when time.Time) error {
	rec, found, err := r.store.GetWorld(id)
	if err != nil {
		return fmt.Errorf("catalog: update last played: %w", err)
	}
	if !found {
		return ErrUnknownWorld
	}
	rec.LastPlayedAt = when
	if err := r.store.PutWorld(rec); err != nil {
		return fmt.Errorf("catalog: update last played: %w", err)
	}
	r.invalidate(ctx, id)
	return nil
}

// DeleteWorld removes a world's registry entry and its persisted chunk
// collection. It does not evict an in-memory realm still running against it;
// callers must unload the realm first.
func (r *Registry) DeleteWorld(ctx context.Context, id string) error {
	if err := r.store.DeleteWorld(id); err != nil {
		return fmt.Errorf("catalog: delete world: %w", err)
	}
	r.store.CloseWorld(id)
	r.invalidate(ctx, id)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, id string) {
	if r.cached == nil {
		return
	}
	if err := r.cached.Invalidate(ctx, worldKey(id)); err != nil {
		logging.Warn("catalog: cache invalidate failed for %s: %v", id, err)
	}
}

// PlayerCountEvent is the payload of a RealmPlayerCount eventbus envelope.
type PlayerCountEvent struct {
	RealmID string `json:"realm_id"`
	Count   int    `json:"count"`
}

// BroadcastPlayerCount publishes realmID's current player count to the event
// bus, for subscribers beyond the session manager's own direct broadcast
// (e.g. an ops dashboard, or another process's lobby view).
func (r *Registry) BroadcastPlayerCount(ctx context.Context, realmID string, count int) error {
	if r.bus == nil {
		return nil
	}
	payload, err := json.Marshal(PlayerCountEvent{RealmID: realmID, Count: count})
	if err != nil {
		return err
	}
	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    r.source,
		EventType: "RealmPlayerCount",
		Version:   1,
		Priority:  3,
		Payload:   payload,
	}
	return r.bus.Publish(ctx, env)
}

// ErrUnknownWorld is returned when an operation names a world id that has no
// registry entry.
var ErrUnknownWorld = fmt.Errorf("catalog: unknown world")
