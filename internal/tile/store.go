package tile

import "github.com/tilerealm/server/internal/vec"

// Generator fills a freshly-allocated chunk deterministically from its seed
// and coordinates; see generator.go for the shipped strategies.
type Generator interface {
	Generate(c *Chunk, cx, cy int32)
}

// Store is the per-realm chunk map (C1). One Store belongs to exactly one
// realm and is only ever touched from that realm's tick goroutine, so it
// holds no lock of its own.
type Store struct {
	chunks map[vec.Vec2]*Chunk
	gen    Generator
}

func NewStore(gen Generator) *Store {
	return &Store{chunks: make(map[vec.Vec2]*Chunk), gen: gen}
}

func key(cx, cy int32) vec.Vec2 { return vec.Vec2{X: cx, Y: cy} }

// Get returns the chunk at (cx, cy) if it is currently loaded.
func (s *Store) Get(cx, cy int32) (*Chunk, bool) {
	c, ok := s.chunks[key(cx, cy)]
	return c, ok
}

// GetOrCreate returns the loaded chunk, generating and storing a new one via
// the Store's Generator if it isn't loaded yet.
func (s *Store) GetOrCreate(cx, cy int32) *Chunk {
	if c, ok := s.chunks[key(cx, cy)]; ok {
		return c
	}
	c := NewChunk(cx, cy)
	s.gen.Generate(c, cx, cy)
	s.chunks[key(cx, cy)] = c
	return c
}

// Put installs c as the chunk at (cx, cy), overwriting any loaded chunk
// (used when restoring a persisted snapshot).
func (s *Store) Put(cx, cy int32, c *Chunk) {
	s.chunks[key(cx, cy)] = c
}

// Remove unloads the chunk at (cx, cy). Callers must have already confirmed
// it is out of every session's visible range and not dirty (see Store.CanEvict).
func (s *Store) Remove(cx, cy int32) {
	delete(s.chunks, key(cx, cy))
}

// CanEvict reports whether the chunk at (cx, cy) may be unloaded: it exists,
// isn't dirty, and isn't inside any of the given visible ranges.
func (s *Store) CanEvict(cx, cy int32, visible []Range) bool {
	c, ok := s.chunks[key(cx, cy)]
	if !ok {
		return true
	}
	if c.Dirty {
		return false
	}
	for _, r := range visible {
		if r.Contains(cx, cy) {
			return false
		}
	}
	return true
}

// Entries returns every currently-loaded chunk. Order is unspecified.
func (s *Store) Entries() []*Chunk {
	out := make([]*Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out
}

// Range is an inclusive chunk-coordinate rectangle, used for visible ranges
// and eviction/streaming queries.
type Range struct {
	MinCX, MinCY, MaxCX, MaxCY int32
}

func (r Range) Contains(cx, cy int32) bool {
	return cx >= r.MinCX && cx <= r.MaxCX && cy >= r.MinCY && cy <= r.MaxCY
}

// SetCorner writes the elevation sample at the tile's northwest subgrid
// point, replicating the write into up to three neighboring chunks when the
// point falls on a chunk boundary (lsx==0 or lsy==0), so any of the sharing
// chunks samples the same value. Bumps the revision of every chunk touched.
func (s *Store) SetCorner(cx, cy, lsx, lsy int32, v uint8) {
	c := s.GetOrCreate(cx, cy)
	c.setCornerLocal(lsx, lsy, v)
	c.bumpRevision()

	if lsx == 0 {
		west := s.GetOrCreate(cx-1, cy)
		west.setCornerLocal(Size, lsy, v)
		west.bumpRevision()
	}
	if lsy == 0 {
		north := s.GetOrCreate(cx, cy-1)
		north.setCornerLocal(lsx, Size, v)
		north.bumpRevision()
	}
	if lsx == 0 && lsy == 0 {
		corner := s.GetOrCreate(cx-1, cy-1)
		corner.setCornerLocal(Size, Size, v)
		corner.bumpRevision()
	}
}

// invalidateNeighborSeam marks the autotile cache stale on every already-
// loaded neighbor chunk that shares a boundary with the edited tile at
// (lx, ly) in (cx, cy) — the 4-directional and diagonal neighbors touched
// when the edit sits on a chunk edge or corner tile. Neighbors that aren't
// currently loaded are left alone: they'll compute their autotile fresh the
// first time they're loaded. Unlike SetCorner, this never bumps the
// neighbor's revision, since the neighbor's own tile content hasn't changed,
// only the seam it shares with the edited chunk.
func (s *Store) invalidateNeighborSeam(cx, cy, lx, ly int32) {
	west, east := lx == 0, lx == Size-1
	north, south := ly == 0, ly == Size-1

	invalidate := func(ncx, ncy int32) {
		if n, ok := s.Get(ncx, ncy); ok {
			n.AutotileComputed = false
		}
	}
	if west {
		invalidate(cx-1, cy)
	}
	if east {
		invalidate(cx+1, cy)
	}
	if north {
		invalidate(cx, cy-1)
	}
	if south {
		invalidate(cx, cy+1)
	}
	if west && north {
		invalidate(cx-1, cy-1)
	}
	if east && north {
		invalidate(cx+1, cy-1)
	}
	if west && south {
		invalidate(cx-1, cy+1)
	}
	if east && south {
		invalidate(cx+1, cy+1)
	}
}

// SetTerrain writes a tile's terrain/detail/collision and invalidates the
// autotile cache of any already-loaded neighbor sharing the edited tile's
// boundary.
func (s *Store) SetTerrain(cx, cy, lx, ly int32, terrain, detail uint16, collision uint8) {
	c := s.GetOrCreate(cx, cy)
	t := c.Tile(lx, ly)
	t.Terrain = terrain
	t.Detail = detail
	t.Collision = collision
	c.bumpRevision()
	s.invalidateNeighborSeam(cx, cy, lx, ly)
}

// SetHeight writes a tile's height level and invalidates neighboring seams.
func (s *Store) SetHeight(cx, cy, lx, ly int32, height uint8) {
	c := s.GetOrCreate(cx, cy)
	c.Tile(lx, ly).Height = height
	c.bumpRevision()
	s.invalidateNeighborSeam(cx, cy, lx, ly)
}

// SetRoad writes a tile's road-type code and invalidates neighboring seams.
func (s *Store) SetRoad(cx, cy, lx, ly int32, roadType uint8) {
	c := s.GetOrCreate(cx, cy)
	c.Tile(lx, ly).RoadType = roadType
	c.bumpRevision()
	s.invalidateNeighborSeam(cx, cy, lx, ly)
}

// SetBlend overwrites a tile's blend-layer overlays, truncating or
// zero-padding to MaxBlendLayers, and invalidates neighboring seams.
func (s *Store) SetBlend(cx, cy, lx, ly int32, layers []uint16) {
	c := s.GetOrCreate(cx, cy)
	t := c.Tile(lx, ly)
	t.Blend = [MaxBlendLayers]uint16{}
	n := len(layers)
	if n > MaxBlendLayers {
		n = MaxBlendLayers
	}
	copy(t.Blend[:n], layers[:n])
	t.BlendCount = uint8(n)
	c.bumpRevision()
	s.invalidateNeighborSeam(cx, cy, lx, ly)
}

// ClearTerrain resets every tile in the chunk at (cx, cy) to bare ground:
// no terrain decoration, collision, detail, or blend overlays.
func (s *Store) ClearTerrain(cx, cy int32) {
	c := s.GetOrCreate(cx, cy)
	for i := range c.Tiles {
		c.Tiles[i].Terrain = 0
		c.Tiles[i].Collision = 0
		c.Tiles[i].Detail = 0
		c.Tiles[i].BlendCount = 0
		c.Tiles[i].Blend = [MaxBlendLayers]uint16{}
	}
	c.bumpRevision()
}

// ClearRoads resets every tile's road-type code in the chunk at (cx, cy).
func (s *Store) ClearRoads(cx, cy int32) {
	c := s.GetOrCreate(cx, cy)
	for i := range c.Tiles {
		c.Tiles[i].RoadType = 0
	}
	c.bumpRevision()
}

// InvalidateAll marks every currently loaded chunk's autotile cache stale,
// used after a bulk editor operation whose seam effects are impractical to
// enumerate precisely.
func (s *Store) InvalidateAll() {
	for _, c := range s.chunks {
		c.AutotileComputed = false
	}
}
