package storage

import (
	"fmt"

	"github.com/tilerealm/server/internal/tile"
)

// ChunkSnapshot is a chunk's on-disk form, matching Chunk's in-memory layout
// field for field (including Revision) so a flush is a pure re-serialize.
type ChunkSnapshot struct {
	CX, CY   int32
	Tiles    [tile.Size * tile.Size]tile.TileData
	Subgrid  [tile.SubgridSide * tile.SubgridSide]uint8
	Revision uint64
}

func snapshotOf(c *tile.Chunk) ChunkSnapshot {
	return ChunkSnapshot{CX: c.CX, CY: c.CY, Tiles: c.Tiles, Subgrid: c.Subgrid, Revision: c.Revision}
}

func chunkKey(cx, cy int32) string {
	return fmt.Sprintf("%d,%d", cx, cy)
}

// PutChunk persists c's current state under worldID, keyed "cx,cy".
func (s *Store) PutChunk(worldID string, c *tile.Chunk) error {
	db, err := s.chunksDB(worldID)
	if err != nil {
		return err
	}
	return putJSON(db, chunkKey(c.CX, c.CY), snapshotOf(c))
}

// GetChunk loads a persisted snapshot for (cx, cy), or (false, nil) on a
// cache miss — the caller falls back to the generator, per C10's failure
// semantics.
func (s *Store) GetChunk(worldID string, cx, cy int32) (ChunkSnapshot, bool, error) {
	db, err := s.chunksDB(worldID)
	if err != nil {
		return ChunkSnapshot{}, false, err
	}
	var snap ChunkSnapshot
	found, err := getJSON(db, chunkKey(cx, cy), &snap)
	if err != nil {
		return ChunkSnapshot{}, false, nil // read failure degrades to cache miss
	}
	return snap, found, nil
}

// RestoreInto copies a persisted snapshot's fields onto an already-generated
// chunk, used when an overlay exists for (cx, cy) and should take priority
// over the generator's output.
func RestoreInto(c *tile.Chunk, snap ChunkSnapshot) {
	c.Tiles = snap.Tiles
	c.Subgrid = snap.Subgrid
	c.Revision = snap.Revision
}
