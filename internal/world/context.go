package world

import (
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/vec"
)

// realmContext adapts one realm, for one entity's step, to movement.Context.
// A fresh value is built per entity per tick rather than kept around, since
// selfID/noclip are the only state that varies between entities.
type realmContext struct {
	realm  *Realm
	selfID uint64
	noclip bool
}

func (c *realmContext) TileCollision(tx, ty int32) movement.TileFlags {
	return c.realm.tileFlagsAt(tx, ty)
}

func (c *realmContext) TileHeight(tx, ty int32) uint8 {
	return c.realm.tileHeightAt(tx, ty)
}

func (c *realmContext) IsEntityBlocked(box vec.AABB, wz, height float32) bool {
	return c.realm.blockingEntity(box, wz, height, c.selfID, false)
}

func (c *realmContext) IsPropBlocked(box vec.AABB, wz, height float32) bool {
	return c.realm.blockingEntity(box, wz, height, c.selfID, true)
}

func (c *realmContext) Noclip() bool { return c.noclip }
