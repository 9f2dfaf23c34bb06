// Package client is the predictor (C11): an input ring buffer, a locally
// predicted entity body stepped by the shared internal/movement kernel, and
// reconciliation-by-replay against each server frame. Grounded on the
// teacher's internal/network/prediction_service.go and
// prediction_visualizer.go, which name this concept and stub its residual-
// correction diagnostics; this package is the complete, runnable version
// over movement.Body instead of the teacher's placeholder state struct.
package client

import (
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/vec"
)

// ChunkCache holds every chunk body the client has received, keyed by chunk
// coordinate, and implements movement.Context against that local copy so
// the predictor steps the same kernel the server does.
type ChunkCache struct {
	chunks map[vec.Vec2]*protocol.ChunkSnapshot
	noclip bool
}

// NewChunkCache builds an empty cache.
func NewChunkCache() *ChunkCache {
	return &ChunkCache{chunks: make(map[vec.Vec2]*protocol.ChunkSnapshot)}
}

// Put stores or replaces a chunk body received over the sync channel.
func (c *ChunkCache) Put(snap protocol.ChunkSnapshot) {
	c.chunks[vec.Vec2{X: snap.CX, Y: snap.CY}] = &snap
}

// SetNoclip toggles the debug noclip mode the editor/spectator flow uses.
func (c *ChunkCache) SetNoclip(v bool) { c.noclip = v }

func (c *ChunkCache) tileAt(tx, ty int32) (protocol.ChunkTileWire, bool) {
	ck := (vec.Vec2{X: tx, Y: ty}).ToChunkCoords()
	snap, ok := c.chunks[ck]
	if !ok {
		return protocol.ChunkTileWire{}, false
	}
	local := (vec.Vec2{X: tx, Y: ty}).LocalInChunk()
	idx := int(local.Y)*vec.ChunkSize + int(local.X)
	if idx < 0 || idx >= len(snap.Tiles) {
		return protocol.ChunkTileWire{}, false
	}
	return snap.Tiles[idx], true
}

// TileCollision implements movement.Context. An unloaded tile reports no
// collision flags, matching an as-yet-unsynced chunk rather than a wall.
func (c *ChunkCache) TileCollision(tx, ty int32) movement.TileFlags {
	t, ok := c.tileAt(tx, ty)
	if !ok {
		return 0
	}
	return movement.TileFlags(t.Collision)
}

// TileHeight implements movement.Context.
func (c *ChunkCache) TileHeight(tx, ty int32) uint8 {
	t, ok := c.tileAt(tx, ty)
	if !ok {
		return 0
	}
	return t.Height
}

// IsEntityBlocked and IsPropBlocked always report unblocked: the client
// doesn't track other entities' colliders precisely enough to predict
// against them, so prediction clips against terrain only and reconciliation
// corrects any entity/prop overlap the server resolved.
func (c *ChunkCache) IsEntityBlocked(box vec.AABB, wz, height float32) bool { return false }
func (c *ChunkCache) IsPropBlocked(box vec.AABB, wz, height float32) bool   { return false }

// Noclip implements movement.Context.
func (c *ChunkCache) Noclip() bool { return c.noclip }
