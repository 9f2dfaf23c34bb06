// Package tile is the chunk store (C1) and world generator (C2). Chunks are
// the unit of streaming, persistence, and mutation locking: every access
// happens inside a single realm's tick, so Chunk itself carries no internal
// mutex (see internal/world for the single-threaded-per-tick guarantee).
// Grounded on the teacher's internal/world/chunk.go parallel-array layout
// and Changes/ChangeCounter revision pattern.
package tile

import "github.com/tilerealm/server/internal/vec"

// Size is the edge length of a chunk, in tiles.
const Size = vec.ChunkSize

// MaxBlendLayers bounds the packed overlay references an art-blended tile
// can carry.
const MaxBlendLayers = 6

// SubgridSide is the edge length of a chunk's elevation subgrid backing
// array: twice the tile grid, per spec.md's (CHUNK_SIZE*2)^2 sizing. Only
// the (Size+1)x(Size+1) corner-sharing subset (indices 0..Size on each
// axis) is ever read or written; the rest is unused padding that keeps the
// array's literal size matching the spec.
const SubgridSide = Size * 2

// TileData is one tile's gameplay-relevant state. Block/terrain IDs are
// small ints so they pack tightly across a 16x16 grid.
type TileData struct {
	Terrain    uint16
	Collision  uint8 // bitmask, see movement.TileFlags
	Height     uint8
	Detail     uint16
	RoadType   uint8
	BlendCount uint8
	Blend      [MaxBlendLayers]uint16
}

// Chunk is a 16x16 grid of tiles plus the corner/subgrid sample plane used
// by the art blending system (one sample per tile corner).
type Chunk struct {
	CX, CY int32

	Tiles [Size * Size]TileData

	// Subgrid is the elevation sample plane. Corner (0,0) of the meaningful
	// (Size+1)x(Size+1) subset is shared with the chunk to the northwest, so
	// writes there must also land in up to three neighbors (see
	// Store.SetCorner).
	Subgrid [SubgridSide * SubgridSide]uint8

	Revision         uint64
	Dirty            bool
	AutotileComputed bool
}

func NewChunk(cx, cy int32) *Chunk {
	return &Chunk{CX: cx, CY: cy}
}

func idx(lx, ly int32) int { return int(ly)*Size + int(lx) }

// Tile returns the tile at local coordinates (lx, ly), each in [0, Size).
func (c *Chunk) Tile(lx, ly int32) *TileData {
	return &c.Tiles[idx(lx, ly)]
}

func cornerIdx(lsx, lsy int32) int { return int(lsy)*(Size+1) + int(lsx) }

// Corner returns the elevation sample at subgrid coordinates, each in [0, Size].
func (c *Chunk) Corner(lsx, lsy int32) uint8 {
	return c.Subgrid[cornerIdx(lsx, lsy)]
}

func (c *Chunk) setCornerLocal(lsx, lsy int32, v uint8) {
	c.Subgrid[cornerIdx(lsx, lsy)] = v
}

// bumpRevision marks the chunk dirty and advances its revision, invalidating
// any previously-computed autotile seam so the art system recomputes it.
func (c *Chunk) bumpRevision() {
	c.Revision++
	c.Dirty = true
	c.AutotileComputed = false
}

// SetTile writes a tile's terrain/collision/height and bumps the revision.
func (c *Chunk) SetTile(lx, ly int32, t TileData) {
	c.Tiles[idx(lx, ly)] = t
	c.bumpRevision()
}
