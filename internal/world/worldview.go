package world

import (
	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/vec"
)

// realmWorldView adapts a Realm to entity.WorldView, the query surface AI
// behaviors steer by.
type realmWorldView struct {
	realm *Realm
}

// NearestEntity scans the broad-phase spatial index around from and returns
// the closest active entity of kind within radius.
func (w *realmWorldView) NearestEntity(from vec.Vec2F, kind entity.Kind, radius float32) (*entity.Entity, bool) {
	box := vec.AABB{MinX: from.X - radius, MinY: from.Y - radius, Width: 2 * radius, Height: 2 * radius}
	var best *entity.Entity
	bestDist := radius
	for _, id := range w.realm.Spatial.QueryAABB(box) {
		e, ok := w.realm.entities[id]
		if !ok || !e.Active || e.Kind != kind {
			continue
		}
		d := from.DistanceTo(e.Position)
		if d <= bestDist {
			best = e
			bestDist = d
		}
	}
	return best, best != nil
}

// IsPassable reports whether a tile is free of the solid collision flag.
func (w *realmWorldView) IsPassable(t vec.Vec2) bool {
	return w.realm.tileFlagsAt(t.X, t.Y)&movement.TileSolid == 0
}
