// Package storage is the persistence store (C10): three BadgerDB
// collections — chunks, worlds, profiles — under <data-dir>, matching the
// teacher's internal/storage/world_storage.go BadgerDB usage generalized
// from one combined database to the spec's three named collections, plus a
// background flusher with retry backoff for dirty chunks.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// Store owns worlds.db and profiles.db plus one chunks.db per world, opened
// lazily on first access and kept open until CloseWorld (called by
// catalog.Registry.DeleteWorld) or Close — matching
// the persisted layout in SPEC_FULL.md's External Interfaces section.
type Store struct {
	dataDir string

	worlds   *badger.DB
	profiles *badger.DB

	mu         sync.Mutex
	chunksByID map[string]*badger.DB
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return badger.Open(opts)
}

// Open opens worlds.db and profiles.db under dataDir. Per-world chunk
// databases are opened on demand via Store.chunksDB.
func Open(dataDir string) (*Store, error) {
	worldsDB, err := openDB(filepath.Join(dataDir, "worlds.db"))
	if err != nil {
		return nil, fmt.Errorf("open worlds.db: %w", err)
	}
	profilesDB, err := openDB(filepath.Join(dataDir, "profiles.db"))
	if err != nil {
		worldsDB.Close()
		return nil, fmt.Errorf("open profiles.db: %w", err)
	}

	return &Store{
		dataDir:    dataDir,
		worlds:     worldsDB,
		profiles:   profilesDB,
		chunksByID: make(map[string]*badger.DB),
	}, nil
}

// chunksDB returns the open chunk database for worldID, opening it if this
// is the first access since the process started.
func (s *Store) chunksDB(worldID string) (*badger.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.chunksByID[worldID]; ok {
		return db, nil
	}
	path := filepath.Join(s.dataDir, "worlds", worldID, "chunks.db")
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks.db for %s: %w", worldID, err)
	}
	s.chunksByID[worldID] = db
	return db, nil
}

// CloseWorld releases worldID's chunk database, e.g. after the realm
// unloads for the idle window (see SimConfig.RealmIdleWindow).
func (s *Store) CloseWorld(worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.chunksByID[worldID]
	if !ok {
		return nil
	}
	delete(s.chunksByID, worldID)
	return db.Close()
}

func (s *Store) Close() error {
	s.mu.Lock()
	dbs := make([]*badger.DB, 0, len(s.chunksByID))
	for _, db := range s.chunksByID {
		dbs = append(dbs, db)
	}
	s.mu.Unlock()

	var firstErr error
	for _, db := range append(dbs, s.worlds, s.profiles) {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func putJSON(db *badger.DB, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func getJSON(db *badger.DB, key string, out interface{}) (bool, error) {
	var data []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

func deleteKey(db *badger.DB, key string) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
