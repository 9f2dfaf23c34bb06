package catalog

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tilerealm/server/internal/storage"
)

// WorldColdStorage adapts storage.Store's world collection to
// cache.ColdStorage so RedisCache can read/write through to the
// Badger-backed registry.
type WorldColdStorage struct {
	store *storage.Store
}

// NewColdStorage wraps store as a cache.ColdStorage for the world
// collection, for wiring a RedisCache with read-through/write-behind.
func NewColdStorage(store *storage.Store) *WorldColdStorage {
	return &WorldColdStorage{store: store}
}

func (c *WorldColdStorage) Load(ctx context.Context, key string) ([]byte, error) {
	rec, found, err := c.store.GetWorld(strings.TrimPrefix(key, "world:"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errColdMiss
	}
	return json.Marshal(rec)
}

func (c *WorldColdStorage) Store(ctx context.Context, key string, value []byte) error {
	var rec storage.WorldRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return err
	}
	return c.store.PutWorld(rec)
}

func (c *WorldColdStorage) BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := c.Load(ctx, k)
		if err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (c *WorldColdStorage) BatchStore(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := c.Store(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *WorldColdStorage) Close() error { return nil }

type coldMissError struct{}

func (coldMissError) Error() string { return "catalog: world not found in cold storage" }

var errColdMiss = coldMissError{}
