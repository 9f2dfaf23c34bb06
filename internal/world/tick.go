package world

import (
	"context"
	"encoding/json"

	"github.com/tilerealm/server/internal/eventbus"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/sync"
	"github.com/tilerealm/server/internal/tile"
	"github.com/tilerealm/server/internal/vec"
)

// tick runs one fixed-rate simulation step: drain queued input, apply queued
// editor/debug operations, advance physics, run AI, resolve gameplay timers,
// then broadcast the result to every joined session. Each stage completes
// for every entity/peer before the next starts, matching the spec's single
// ordered pipeline per tick.
func (r *Realm) tick(dt float32) {
	r.drainInputs(dt)
	r.applyDebugUpdates()
	r.applyEditOps()
	r.stepMovement(dt)
	r.stepAI(dt)
	r.stepGameplay()
	r.tickCount++
	r.broadcast()
	r.flushDirtyChunks()
}

// inputStep is one sub-slice of a tick's movement: the wish velocity and
// jump latch an input carried, and the duration it covers. A tick with k
// queued inputs runs k sub-steps instead of one, so a burst of inputs in a
// single tick integrates the same total motion as the same inputs spread
// one per tick (the input-queue equivalence invariant).
type inputStep struct {
	velocity vec.Vec2F
	jump     bool
	dt       float32
}

// drainInputs applies every queued player input to the entity it controls,
// recording one inputStep per input so stepMovement sub-steps the kernel
// instead of stepping once at the tick's fixed dt regardless of how many
// inputs arrived. An input carrying DtMs uses that as its slice; one that
// doesn't gets an even share of the tick's dt.
func (r *Realm) drainInputs(dt float32) {
	for _, p := range r.snapshotPeers() {
		e, ok := r.entities[p.entityID]
		if !ok {
			continue
		}
		var inputs []protocol.PlayerInput
		for _, raw := range p.session.Mailbox().DrainAll() {
			if in, ok := raw.(protocol.PlayerInput); ok {
				inputs = append(inputs, in)
			}
		}
		if len(inputs) == 0 {
			continue
		}

		even := dt / float32(len(inputs))
		steps := make([]inputStep, 0, len(inputs))
		for _, in := range inputs {
			speed := movement.MoveSpeed
			if in.Sprinting {
				speed *= movement.SprintMultiplier
			}
			velocity := vec.Vec2F{X: in.DX, Y: in.DY}.Mul(speed)
			stepDt := even
			if in.HasDtMs {
				stepDt = float32(in.DtMs) / 1000
			}
			steps = append(steps, inputStep{velocity: velocity, jump: in.Jump, dt: stepDt})

			e.Velocity = velocity
			if in.Jump {
				e.JumpRequest = true
			}
			p.lastProcessedInputSeq = in.Seq
		}
		r.pendingSteps[p.entityID] = steps
	}
}

// applyDebugUpdates applies every SetDebug call queued since the last tick.
func (r *Realm) applyDebugUpdates() {
	for _, u := range r.drainDebugUpdates() {
		if e, ok := r.entities[u.entityID]; ok {
			e.Noclip = u.noclip
			e.Paused = u.paused
		}
	}
}

// stepMovement runs the shared movement kernel against every active entity,
// mirroring the result back into entity.Entity and the spatial index. An
// entity with queued input sub-steps through each one in order; an entity
// with none this tick (idle peer, AI-driven) falls back to a single step at
// the tick's full dt using its resting velocity.
//
// A mounted/parented entity (ParentID != 0) skips the kernel entirely: its
// absolute height is derived from its mount instead of its own physics.
func (r *Realm) stepMovement(dt float32) {
	// Snapshot every entity's pre-tick state before any of them is stepped,
	// so any other entity's ground query this tick (regardless of map
	// iteration order) sees this entity exactly as it stood at the start of
	// the tick, never a value already advanced by this tick.
	for _, e := range r.entities {
		if e.Active && !e.Paused {
			e.PrevPosition = e.Position
			e.PrevWz = e.Wz
		}
	}

	for id, e := range r.entities {
		if !e.Active || e.Paused {
			continue
		}

		if e.ParentID != 0 {
			if mount, ok := r.entities[e.ParentID]; ok {
				e.Wz = mount.Wz + e.LocalOffsetZ
			}
			r.Spatial.Move(id, e.AABB())
			continue
		}

		steps, queued := r.pendingSteps[id]
		if !queued {
			steps = []inputStep{{velocity: e.Velocity, jump: e.JumpRequest, dt: dt}}
		}

		body := movement.Body{
			Position:   e.Position,
			Velocity:   e.Velocity,
			Width:      e.Width,
			Height:     e.Height,
			Wz:         e.Wz,
			JumpVZ:     e.JumpVZ,
			Grounded:   e.Grounded,
			PhysHeight: e.PhysHeight,
			CanFall:    e.CanFall,
		}
		ctx := &realmContext{realm: r, selfID: id, noclip: e.Noclip}
		ceiling := e.PrevWz

		for _, st := range steps {
			body.Velocity = st.velocity
			body.JumpRequest = st.jump
			movement.Step(&body, ctx, r.Params, st.dt)
			box := vec.NewAABB(body.Position, body.Width, body.Height)
			ground := r.groundHeightAt(box, ceiling, id)
			movement.ApplyJumpAndGravity(&body, r.Params, st.dt, ground)
		}

		e.Position = body.Position
		e.Velocity = body.Velocity
		e.Wz = body.Wz
		e.JumpVZ = body.JumpVZ
		e.Grounded = body.Grounded
		e.JumpRequest = false

		r.Spatial.Move(id, e.AABB())
	}
	r.pendingSteps = make(map[uint64][]inputStep)
}

// stepAI advances every entity's AI behavior; AIState.Step self-throttles to
// its own accumulator period, so this runs every tick unconditionally.
func (r *Realm) stepAI(dt float32) {
	view := &realmWorldView{realm: r}
	for _, e := range r.entities {
		if e.AI == nil || !e.Active || e.Paused {
			continue
		}
		e.AI.Step(e, view, dt)
	}
}

// stepGameplay resolves per-tick timers outside the movement/AI pipeline:
// currently just death-timer expiry, which despawns the entity once it
// reaches zero.
func (r *Realm) stepGameplay() {
	var expired []uint64
	for id, e := range r.entities {
		if e.DeathTimer == 0 {
			continue
		}
		e.DeathTimer--
		if e.DeathTimer == 0 {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.Despawn(id)
	}
}

// broadcast sends each joined session its per-tick entity frame and any
// chunk bodies whose revision advanced since it last saw them.
func (r *Realm) broadcast() {
	for _, p := range r.snapshotPeers() {
		frame := p.sync.BuildFrame(r.visibleViews(p), r.tickCount, p.lastProcessedInputSeq, uint32(p.entityID))
		r.send(p, protocol.TypeFrame, protocol.EncodeFrame(frame))

		for _, c := range p.chunks.Due(r.chunksIn(p.visRange)) {
			r.send(p, protocol.TypeSyncChunks, protocol.EncodeChunkSnapshot(snapshotChunk(c)))
		}
	}
}

func (r *Realm) send(p *peer, t protocol.Type, payload []byte) {
	if r.outbound == nil {
		return
	}
	if err := r.outbound.Send(p.session.ClientID, protocol.ChannelFor(t), payload); err != nil {
		logging.Warn("world: realm %s failed to send to %s: %v", r.ID, p.session.ClientID, err)
	}
}

// visibleViews projects every active entity bucketed in p's visible chunk
// range into the encoder's input shape.
func (r *Realm) visibleViews(p *peer) []sync.EntityView {
	ids := r.Spatial.QueryRange(p.visRange.MinCX, p.visRange.MinCY, p.visRange.MaxCX, p.visRange.MaxCY)
	out := make([]sync.EntityView, 0, len(ids))
	for _, id := range ids {
		e, ok := r.entities[id]
		if !ok || !e.Active {
			continue
		}
		out = append(out, sync.ViewOf(e))
	}
	return out
}

// chunksIn loads (generating if necessary) every chunk in rng so the
// per-session ChunkView can check its revision.
func (r *Realm) chunksIn(rng tile.Range) []*tile.Chunk {
	out := make([]*tile.Chunk, 0, (rng.MaxCX-rng.MinCX+1)*(rng.MaxCY-rng.MinCY+1))
	for cy := rng.MinCY; cy <= rng.MaxCY; cy++ {
		for cx := rng.MinCX; cx <= rng.MaxCX; cx++ {
			out = append(out, r.Tiles.GetOrCreate(cx, cy))
		}
	}
	return out
}

// flushDirtyChunks marks every currently-dirty loaded chunk for persistence.
// Re-marking a chunk the flusher hasn't written yet is harmless: Mark is a
// non-blocking enqueue and the chunk stays Dirty until a write succeeds.
func (r *Realm) flushDirtyChunks() {
	if r.flusher == nil {
		return
	}
	for _, c := range r.Tiles.Entries() {
		if c.Dirty {
			r.flusher.Mark(r.WorldID, c)
			r.publishChunkEdited(c)
		}
	}
}

// publishChunkEdited emits an audit envelope for a flushed chunk. Best
// effort: a nil bus or a full bus buffer never blocks the tick.
func (r *Realm) publishChunkEdited(c *tile.Chunk) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		WorldID  string `json:"worldId"`
		CX       int32  `json:"cx"`
		CY       int32  `json:"cy"`
		Revision uint64 `json:"revision"`
	}{WorldID: r.WorldID, CX: c.CX, CY: c.CY, Revision: c.Revision})
	if err != nil {
		return
	}
	_ = r.bus.Publish(context.Background(), &eventbus.Envelope{
		Source:    "realm:" + r.WorldID,
		EventType: "ChunkEdited",
		Payload:   payload,
	})
}

// subgridWire is the meaningful (Size+1)x(Size+1) corner subset of a
// chunk's padded Subgrid backing array; the padding never needs to cross
// the wire.
func subgridWire(c *tile.Chunk) []uint8 {
	const side = tile.Size + 1
	out := make([]uint8, 0, side*side)
	for sy := int32(0); sy < side; sy++ {
		for sx := int32(0); sx < side; sx++ {
			out = append(out, c.Corner(sx, sy))
		}
	}
	return out
}

func snapshotChunk(c *tile.Chunk) protocol.ChunkSnapshot {
	snap := protocol.ChunkSnapshot{
		CX:       c.CX,
		CY:       c.CY,
		Revision: c.Revision,
		Tiles:    make([]protocol.ChunkTileWire, len(c.Tiles)),
		Corners:  subgridWire(c),
	}
	for i, t := range c.Tiles {
		var wire protocol.ChunkTileWire
		wire.Terrain = t.Terrain
		wire.Collision = t.Collision
		wire.Height = t.Height
		wire.Detail = t.Detail
		wire.RoadType = t.RoadType
		wire.BlendCount = t.BlendCount
		copy(wire.Blend[:], t.Blend[:])
		snap.Tiles[i] = wire
	}
	return snap
}
