// Package spatial is the chunk-bucketed entity index (C3): a map from
// chunk coordinate to the set of entity ids whose AABB overlaps that chunk.
// Grounded on the teacher's internal/world/spatial_index.go bucketing
// approach, generalized to the spec's float32 AABB and explicit Move API.
package spatial

import "github.com/tilerealm/server/internal/vec"

// Index tracks which chunks each entity's AABB currently overlaps. It holds
// ids only; callers look entities up in their own store. Not safe for
// concurrent use — like the chunk store, it is owned by exactly one realm's
// tick goroutine.
type Index struct {
	buckets map[vec.Vec2]map[uint64]struct{}
	ranges  map[uint64]vec.AABB
}

func NewIndex() *Index {
	return &Index{
		buckets: make(map[vec.Vec2]map[uint64]struct{}),
		ranges:  make(map[uint64]vec.AABB),
	}
}

func chunksOf(box vec.AABB) (minChunk, maxChunk vec.Vec2) {
	return box.ChunkRange()
}

func (ix *Index) forEachChunk(box vec.AABB, fn func(key vec.Vec2)) {
	min, max := chunksOf(box)
	for cy := min.Y; cy <= max.Y; cy++ {
		for cx := min.X; cx <= max.X; cx++ {
			fn(vec.Vec2{X: cx, Y: cy})
		}
	}
}

// Insert adds id, bucketed by every chunk its box overlaps.
func (ix *Index) Insert(id uint64, box vec.AABB) {
	ix.ranges[id] = box
	ix.forEachChunk(box, func(key vec.Vec2) {
		b, ok := ix.buckets[key]
		if !ok {
			b = make(map[uint64]struct{})
			ix.buckets[key] = b
		}
		b[id] = struct{}{}
	})
}

// Remove drops id from every chunk it was bucketed under.
func (ix *Index) Remove(id uint64) {
	box, ok := ix.ranges[id]
	if !ok {
		return
	}
	ix.forEachChunk(box, func(key vec.Vec2) {
		if b, ok := ix.buckets[key]; ok {
			delete(b, id)
			if len(b) == 0 {
				delete(ix.buckets, key)
			}
		}
	})
	delete(ix.ranges, id)
}

// Move updates id's box, re-bucketing only if the chunk range actually
// changed — the common case of sub-tile movement within one chunk is a
// no-op here.
func (ix *Index) Move(id uint64, newBox vec.AABB) {
	oldBox, ok := ix.ranges[id]
	if !ok {
		ix.Insert(id, newBox)
		return
	}
	oldMin, oldMax := chunksOf(oldBox)
	newMin, newMax := chunksOf(newBox)
	if oldMin == newMin && oldMax == newMax {
		ix.ranges[id] = newBox
		return
	}
	ix.Remove(id)
	ix.Insert(id, newBox)
}

// QueryRange returns the union of ids bucketed in the inclusive chunk
// rectangle [minCx,maxCx] x [minCy,maxCy].
func (ix *Index) QueryRange(minCx, minCy, maxCx, maxCy int32) []uint64 {
	seen := make(map[uint64]struct{})
	for cy := minCy; cy <= maxCy; cy++ {
		for cx := minCx; cx <= maxCx; cx++ {
			for id := range ix.buckets[vec.Vec2{X: cx, Y: cy}] {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]uint64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// QueryAABB returns ids whose chunk range overlaps box. Candidates still
// need a precise AABB.Overlaps check by the caller, since chunk bucketing is
// a broad phase only.
func (ix *Index) QueryAABB(box vec.AABB) []uint64 {
	min, max := chunksOf(box)
	return ix.QueryRange(min.X, min.Y, max.X, max.Y)
}

// BoxOf returns the last box Insert/Move recorded for id.
func (ix *Index) BoxOf(id uint64) (vec.AABB, bool) {
	b, ok := ix.ranges[id]
	return b, ok
}
