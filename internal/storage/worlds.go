package storage

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// WorldRecord is one row of the world registry (C7's persisted backing).
type WorldRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Seed         int64     `json:"seed"`
	WorldType    string    `json:"world_type"`
	CreatedAt    time.Time `json:"created_at"`
	LastPlayedAt time.Time `json:"last_played_at"`
}

func (s *Store) PutWorld(rec WorldRecord) error {
	return putJSON(s.worlds, rec.ID, rec)
}

func (s *Store) GetWorld(id string) (WorldRecord, bool, error) {
	var rec WorldRecord
	found, err := getJSON(s.worlds, id, &rec)
	return rec, found, err
}

func (s *Store) DeleteWorld(id string) error {
	return deleteKey(s.worlds, id)
}

// ListWorlds returns every registered world record. Order is unspecified;
// callers needing a stable order (the lobby list) sort by LastPlayedAt.
func (s *Store) ListWorlds() ([]WorldRecord, error) {
	var out []WorldRecord
	err := s.worlds.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec WorldRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
