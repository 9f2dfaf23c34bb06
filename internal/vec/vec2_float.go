package vec

import "math"

// TileSize is the edge length of one tile, in world pixels.
const TileSize float32 = 16

// Vec2F is a 2D vector in world pixels, float32 throughout so that the
// movement kernel (internal/movement) produces bit-identical results on the
// server and in the client predictor — mixing float32/float64 would make the
// two diverge by rounding alone.
type Vec2F struct {
	X, Y float32
}

// FromVec2 builds a Vec2F from a tile coordinate, placing it at the tile's origin corner.
func FromVec2(v Vec2) Vec2F {
	return Vec2F{X: float32(v.X) * TileSize, Y: float32(v.Y) * TileSize}
}

// ToTile converts a world-pixel position to the tile coordinate it falls in.
func (v Vec2F) ToTile() Vec2 {
	return Vec2{X: int32(math.Floor(float64(v.X / TileSize))), Y: int32(math.Floor(float64(v.Y / TileSize)))}
}

func (v Vec2F) Add(other Vec2F) Vec2F { return Vec2F{X: v.X + other.X, Y: v.Y + other.Y} }
func (v Vec2F) Sub(other Vec2F) Vec2F { return Vec2F{X: v.X - other.X, Y: v.Y - other.Y} }
func (v Vec2F) Mul(scalar float32) Vec2F {
	return Vec2F{X: v.X * scalar, Y: v.Y * scalar}
}

// Normalized returns a unit vector in the same direction, or the zero vector if v is zero.
func (v Vec2F) Normalized() Vec2F {
	length := v.Length()
	if length == 0 {
		return Vec2F{}
	}
	return Vec2F{X: v.X / length, Y: v.Y / length}
}

func (v Vec2F) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y)))
}

func (v Vec2F) DistanceTo(other Vec2F) float32 {
	return v.Sub(other).Length()
}

// AABB is an axis-aligned bounding box in world pixels, given by its min
// corner and full width/height (not half-extents, matching the collider
// fields in the data model).
type AABB struct {
	MinX, MinY float32
	Width      float32
	Height     float32
}

func NewAABB(pos Vec2F, width, height float32) AABB {
	return AABB{MinX: pos.X, MinY: pos.Y, Width: width, Height: height}
}

func (b AABB) MaxX() float32 { return b.MinX + b.Width }
func (b AABB) MaxY() float32 { return b.MinY + b.Height }

// Translated returns the box moved by delta.
func (b AABB) Translated(delta Vec2F) AABB {
	return AABB{MinX: b.MinX + delta.X, MinY: b.MinY + delta.Y, Width: b.Width, Height: b.Height}
}

// Overlaps reports whether two boxes intersect (open intervals at the max edge,
// so boxes that merely touch at an edge are not considered overlapping).
func (b AABB) Overlaps(other AABB) bool {
	return b.MinX < other.MaxX() && b.MaxX() > other.MinX &&
		b.MinY < other.MaxY() && b.MaxY() > other.MinY
}

// TileRange returns the inclusive range of tile coordinates the box overlaps.
func (b AABB) TileRange() (minTile, maxTile Vec2) {
	min := Vec2F{X: b.MinX, Y: b.MinY}.ToTile()
	max := Vec2F{X: b.MaxX() - 0.0001, Y: b.MaxY() - 0.0001}.ToTile()
	return min, max
}

// ChunkRange returns the inclusive range of chunk coordinates the box overlaps.
func (b AABB) ChunkRange() (minChunk, maxChunk Vec2) {
	minTile, maxTile := b.TileRange()
	return minTile.ToChunkCoords(), maxTile.ToChunkCoords()
}
