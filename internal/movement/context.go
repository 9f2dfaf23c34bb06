package movement

import "github.com/tilerealm/server/internal/vec"

// TileFlags reports per-tile collision properties.
type TileFlags uint8

const (
	TileSolid TileFlags = 1 << iota
	TileWater
)

// Context is the read-only query surface the kernel needs. internal/world
// implements it against the live realm state; internal/client implements it
// against the predictor's locally-cached chunk copy.
type Context interface {
	TileCollision(tx, ty int32) TileFlags
	TileHeight(tx, ty int32) uint8
	IsEntityBlocked(box vec.AABB, wz, height float32) bool
	IsPropBlocked(box vec.AABB, wz, height float32) bool
	Noclip() bool
}
