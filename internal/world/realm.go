// Package world is the simulation tick (C5): one Realm owns a tile.Store, a
// spatial.Index, and every entity loaded into it, advancing them on a
// fixed-rate ticker in its own goroutine (region_manager.go's per-region
// goroutine pattern). A single goroutine owns all mutable realm state
// between tick boundaries, so none of internal/tile, internal/spatial, or
// the entity map needs its own locking.
package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/eventbus"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/session"
	"github.com/tilerealm/server/internal/spatial"
	"github.com/tilerealm/server/internal/storage"
	syncview "github.com/tilerealm/server/internal/sync"
	"github.com/tilerealm/server/internal/tile"
	"github.com/tilerealm/server/internal/vec"
)

// Outbound is how a Realm hands an encoded message to the transport layer
// (C9). internal/network's multiplexer implements this against real peers;
// tests use a recording fake.
type Outbound interface {
	Send(clientID string, ch protocol.Channel, payload []byte) error
}

// heightUnit converts a tile's 0..3 HeightGrid level into world-pixel Z.
const heightUnit float32 = 8

// peer is a realm's view of one joined session: its encoder/chunk-view
// state plus the entity it controls.
type peer struct {
	session               *session.Session
	entityID              uint64
	sync                  *syncview.SessionView
	chunks                *syncview.ChunkView
	visRange              tile.Range
	lastProcessedInputSeq uint32
}

// Realm is one simulated world instance: a loaded World plus every session
// currently Active in it.
type Realm struct {
	ID     string
	WorldID string
	Params movement.Params

	tickInterval time.Duration

	Tiles   *tile.Store
	Spatial *spatial.Index

	entities     map[uint64]*entity.Entity
	nextEntityID uint64

	// pendingSteps holds this tick's per-input movement sub-steps, keyed by
	// controlled entity id, populated by drainInputs and consumed (then
	// cleared) by stepMovement.
	pendingSteps map[uint64][]inputStep

	// pendingEdits queues decoded editor operations for application on the
	// realm's own goroutine at the next tick, guarded by mu since they arrive
	// from the transport's receive goroutine.
	pendingEdits []protocol.EditOpMsg
	pendingDebug []debugUpdate

	peers map[string]*peer // clientID -> peer

	outbound Outbound
	store    *storage.Store
	flusher  *storage.Flusher
	bus      eventbus.EventBus

	tickCount uint32

	mu       sync.Mutex // guards peers (joins/leaves/input pushes from outside the tick goroutine)
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	playerCountCh chan int // read by internal/gateway's relay; Join and Leave do not send on it, Stop closes it
}

// NewRealm constructs a Realm. store/flusher/bus may be nil (used by tests
// that don't exercise persistence or cross-realm broadcast).
func NewRealm(id, worldID string, gen tile.Generator, tickRate int, params movement.Params, outbound Outbound, store *storage.Store, flusher *storage.Flusher, bus eventbus.EventBus) *Realm {
	rate := tickRate
	if rate <= 0 {
		rate = 20
	}
	return &Realm{
		ID:            id,
		WorldID:       worldID,
		Params:        params,
		tickInterval:  time.Second / time.Duration(rate),
		Tiles:         tile.NewStore(gen),
		Spatial:       spatial.NewIndex(),
		entities:      make(map[uint64]*entity.Entity),
		pendingSteps:  make(map[uint64][]inputStep),
		peers:         make(map[string]*peer),
		outbound:      outbound,
		store:         store,
		flusher:       flusher,
		bus:           bus,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		playerCountCh: make(chan int, 8),
	}
}

// PlayerCountUpdates exposes the channel internal/gateway relays to
// internal/catalog's broadcast. Join and Leave do not send counts on it, so
// it delivers no values; Stop closes it.
func (r *Realm) PlayerCountUpdates() <-chan int { return r.playerCountCh }

// SpawnEntity allocates an id and inserts e into the realm's entity map and
// spatial index.
func (r *Realm) SpawnEntity(e *entity.Entity) uint64 {
	r.nextEntityID++
	e.ID = r.nextEntityID
	r.entities[e.ID] = e
	r.Spatial.Insert(e.ID, e.AABB())
	return e.ID
}

// Despawn removes id from the realm entirely.
func (r *Realm) Despawn(id uint64) {
	delete(r.entities, id)
	r.Spatial.Remove(id)
}

// Entity returns the live entity for id, if any.
func (r *Realm) Entity(id uint64) (*entity.Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Join attaches sess to the realm, controlling entityID, and returns the
// realm's player count after the join.
func (r *Realm) Join(sess *session.Session, entityID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[sess.ClientID] = &peer{
		session:  sess,
		entityID: entityID,
		sync:     syncview.NewSessionView(),
		chunks:   syncview.NewChunkView(),
	}
	return len(r.peers)
}

// Leave detaches clientID's session from the realm and returns the player
// count after the leave.
func (r *Realm) Leave(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, clientID)
	return len(r.peers)
}

// PlayerCount returns the number of sessions currently Active in this realm.
func (r *Realm) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// SetVisibleRange updates clientID's advertised chunk-streaming rectangle.
func (r *Realm) SetVisibleRange(clientID string, rng tile.Range) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[clientID]; ok {
		p.visRange = rng
	}
}

// Run drives the fixed-rate tick loop until ctx is cancelled or Stop is
// called. A panicking tick is recovered and reported through logging.Fatal,
// which writes the panic and a full stack trace to the log and exits the
// process non-zero.
func (r *Realm) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	dt := float32(r.tickInterval.Seconds())

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.runTickSafely(dt)
		}
	}
}

func (r *Realm) runTickSafely(dt float32) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Fatal("world: realm %s tick panicked: %v", r.ID, rec)
		}
	}()
	r.tick(dt)
}

// Stop halts the realm's tick loop and waits for Run to return.
func (r *Realm) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		close(r.playerCountCh)
	})
	<-r.done
}

// PushInput enqueues a decoded player input for delivery on the next tick's
// drain step. Safe to call from the transport's receive goroutine.
func (r *Realm) PushInput(clientID string, in protocol.PlayerInput) error {
	r.mu.Lock()
	p, ok := r.peers[clientID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("world: %s is not active in realm %s", clientID, r.ID)
	}
	if dropped := p.session.Mailbox().Push(in); dropped {
		logging.Warn("world: realm %s dropped an input for %s, mailbox full", r.ID, clientID)
	}
	return nil
}

// PushEditOp enqueues a decoded editor operation for application on the
// realm's own goroutine at the next tick's edit-op phase. Safe to call from
// the transport's receive goroutine.
func (r *Realm) PushEditOp(op protocol.EditOpMsg) {
	r.mu.Lock()
	r.pendingEdits = append(r.pendingEdits, op)
	r.mu.Unlock()
}

func (r *Realm) drainEditOps() []protocol.EditOpMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pendingEdits
	r.pendingEdits = nil
	return out
}

// debugUpdate is a queued SetDebug call, applied on the tick goroutine so it
// never races the entity map it touches.
type debugUpdate struct {
	entityID      uint64
	paused, noclip bool
}

// SetDebug queues a session's debug flags (noclip bypasses collision in the
// movement kernel; paused freezes the entity's movement and AI steps
// entirely) for application at the start of the next tick. Safe to call
// from the transport's receive goroutine.
func (r *Realm) SetDebug(entityID uint64, paused, noclip bool) {
	r.mu.Lock()
	r.pendingDebug = append(r.pendingDebug, debugUpdate{entityID: entityID, paused: paused, noclip: noclip})
	r.mu.Unlock()
}

func (r *Realm) drainDebugUpdates() []debugUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pendingDebug
	r.pendingDebug = nil
	return out
}

// BroadcastEditorCursor relays an editor cursor update to every other peer
// currently joined to the realm.
func (r *Realm) BroadcastEditorCursor(fromClientID string, payload []byte) {
	for _, p := range r.snapshotPeers() {
		if p.session.ClientID == fromClientID {
			continue
		}
		r.send(p, protocol.TypeEditorCursor, payload)
	}
}

func (r *Realm) snapshotPeers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Realm) tileAt(tx, ty int32) *tile.TileData {
	tc := vec.Vec2{X: tx, Y: ty}.ToChunkCoords()
	local := vec.Vec2{X: tx, Y: ty}.LocalInChunk()
	c := r.Tiles.GetOrCreate(tc.X, tc.Y)
	return c.Tile(local.X, local.Y)
}

func (r *Realm) tileFlagsAt(tx, ty int32) movement.TileFlags {
	return movement.TileFlags(r.tileAt(tx, ty).Collision)
}

func (r *Realm) tileHeightAt(tx, ty int32) uint8 {
	return r.tileAt(tx, ty).Height
}

// groundEpsilon tolerates float rounding when a surface sits exactly at the
// ceiling, e.g. the tick right after landing on it.
const groundEpsilon float32 = 0.01

// groundHeightAt resolves the landing/tracking surface for a footprint box:
// the highest of the terrain under it, any walkable prop top, and any
// walkable entity top, restricted to surfaces at or below ceiling. This is
// the "descended-through" query: an entity never teleports upward onto a
// platform whose top it hasn't actually climbed past yet. Cross-entity
// checks read the other entity's PrevWz/PrevPosition rather than its
// current Wz/Position, so the result doesn't depend on map iteration order
// within the tick.
func (r *Realm) groundHeightAt(box vec.AABB, ceiling float32, excludeID uint64) float32 {
	best := r.terrainMaxUnder(box)
	for _, id := range r.Spatial.QueryAABB(box) {
		if id == excludeID {
			continue
		}
		e, ok := r.entities[id]
		if !ok || !e.Active {
			continue
		}
		if e.Kind == entity.KindProp {
			for _, w := range e.Walls {
				if !w.WalkableTop || !box.Overlaps(e.WallAABB(w)) {
					continue
				}
				if top := w.ZBase + w.ZHeight; top <= ceiling+groundEpsilon && top > best {
					best = top
				}
			}
			continue
		}
		if !e.Solid || !box.Overlaps(e.PrevAABB()) {
			continue
		}
		if top := e.PrevWz + e.PhysHeight; top <= ceiling+groundEpsilon && top > best {
			best = top
		}
	}
	return best
}

func (r *Realm) terrainMaxUnder(box vec.AABB) float32 {
	minTile, maxTile := box.TileRange()
	var maxH uint8
	for ty := minTile.Y; ty <= maxTile.Y; ty++ {
		for tx := minTile.X; tx <= maxTile.X; tx++ {
			if h := r.tileHeightAt(tx, ty); h > maxH {
				maxH = h
			}
		}
	}
	return float32(maxH) * heightUnit
}

// blockingEntity reports whether any solid entity (excluding excludeID) of
// the requested prop-ness overlaps box with a Z-overlap against
// [wz, wz+height]. Props with configured Walls are checked wall-by-wall
// (a passable wall never blocks); props without any fall back to whole-box
// blocking, and non-props always use whole-box blocking.
func (r *Realm) blockingEntity(box vec.AABB, wz, height float32, excludeID uint64, wantProp bool) bool {
	for _, id := range r.Spatial.QueryAABB(box) {
		if id == excludeID {
			continue
		}
		e, ok := r.entities[id]
		if !ok || !e.Active || !e.Solid {
			continue
		}
		isProp := e.Kind == entity.KindProp
		if isProp != wantProp {
			continue
		}
		if isProp && len(e.Walls) > 0 {
			if wallBlocks(e, box, wz, height) {
				return true
			}
			continue
		}
		if !box.Overlaps(e.AABB()) {
			continue
		}
		if e.ZOverlaps(wz, height) {
			return true
		}
	}
	return false
}

// wallBlocks reports whether any of e's non-passable wall sub-colliders
// overlaps box in XY and [wz, wz+height] in Z.
func wallBlocks(e *entity.Entity, box vec.AABB, wz, height float32) bool {
	for _, w := range e.Walls {
		if w.Passable {
			continue
		}
		if !box.Overlaps(e.WallAABB(w)) {
			continue
		}
		if wz < w.ZBase+w.ZHeight && wz+height > w.ZBase {
			return true
		}
	}
	return false
}
