package world

import (
	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/vec"
)

// editSpawnWidth/editSpawnHeight are the collider dims an editor-spawned
// entity gets until per-type colliders exist; matches the player default in
// internal/gateway.
const (
	editSpawnWidth  = 14
	editSpawnHeight = 14
)

// applyEditOps drains and applies every editor operation queued since the
// last tick, in arrival order.
func (r *Realm) applyEditOps() {
	for _, op := range r.drainEditOps() {
		r.applyEditOp(op)
	}
}

func (r *Realm) applyEditOp(op protocol.EditOpMsg) {
	switch op.Kind {
	case protocol.EditTerrainTile:
		r.Tiles.SetTerrain(op.CX, op.CY, op.LX, op.LY, op.Terrain, op.Detail, op.Collision)
	case protocol.EditTerrainSubgrid:
		r.Tiles.SetBlend(op.CX, op.CY, op.LX, op.LY, op.Blend)
	case protocol.EditTerrainCorner:
		r.Tiles.SetCorner(op.CX, op.CY, op.SX, op.SY, op.Height)
	case protocol.EditTerrainRoad:
		r.Tiles.SetRoad(op.CX, op.CY, op.LX, op.LY, op.RoadType)
	case protocol.EditTerrainElevation:
		r.Tiles.SetHeight(op.CX, op.CY, op.LX, op.LY, op.Height)
	case protocol.EditSpawn:
		e := entity.NewEntity(0, op.EntityType, entity.KindNPC, vec.Vec2F{X: op.WX, Y: op.WY}, editSpawnWidth, editSpawnHeight)
		r.SpawnEntity(e)
	case protocol.EditDeleteEntity, protocol.EditDeleteProp:
		r.Despawn(op.EntityID)
	case protocol.EditClearTerrain:
		r.Tiles.ClearTerrain(op.CX, op.CY)
	case protocol.EditClearRoads:
		r.Tiles.ClearRoads(op.CX, op.CY)
	case protocol.EditInvalidateAll:
		r.Tiles.InvalidateAll()
	default:
		logging.Warn("world: realm %s dropped unknown edit op %q", r.ID, op.Kind)
	}
}
