package sync

import (
	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/protocol"
)

// SessionView is C8's per-session encoder state: which entities the client
// already holds a baseline for, and the last value sent for each of their
// delta-able fields, so later ticks emit only what changed. Grounded on the
// teacher's internal/world/block_delta_manager.go per-subscriber tracking,
// generalized from block edits to entity fields.
type SessionView struct {
	sentBaselines map[uint64]lastSent
}

// lastSent mirrors the delta-able field set so the encoder can diff the
// current entity against what the client was last told.
type lastSent struct {
	pos           [2]float32
	vel           [2]float32
	hasVel        bool
	spriteState   uint16
	wanderAI      uint16
	hasWanderAI   bool
	flashHidden   bool
	noShadow      bool
	deathTimer    uint16
	jumpZ, jumpVZ float32
	wz            float32
	parentID      uint32
	hasParent     bool
	localOffset   [2]float32
}

func NewSessionView() *SessionView {
	return &SessionView{sentBaselines: make(map[uint64]lastSent)}
}

// EntityView is the subset of entity.Entity state the encoder reads,
// decoupled from the full struct so tests can build fixtures cheaply.
type EntityView struct {
	ID            uint64
	TypeIndex     uint16
	PosX, PosY    float32
	VelX, VelY    float32
	HasVelocity   bool
	SpriteState   uint16
	WanderAI      uint16
	HasWanderAI   bool
	FlashHidden   bool
	NoShadow      bool
	DeathTimer    uint16
	JumpZ, JumpVZ float32
	Wz            float32
	ParentID      uint32
	HasParent     bool
	LocalOffsetX  float32
	LocalOffsetY  float32
}

// ViewOf projects a live entity into the encoder's input shape. Props
// are sent without a tracked velocity field; everything else (players,
// NPCs) always carries one.
func ViewOf(e *entity.Entity) EntityView {
	v := EntityView{
		ID:           e.ID,
		PosX:         e.Position.X,
		PosY:         e.Position.Y,
		VelX:         e.Velocity.X,
		VelY:         e.Velocity.Y,
		HasVelocity:  e.Kind != entity.KindProp,
		SpriteState:  e.SpriteState,
		FlashHidden:  e.FlashHidden,
		NoShadow:     e.NoShadow,
		DeathTimer:   e.DeathTimer,
		// JumpZ carries the same absolute height as Wz. For a mounted entity
		// that height is already mount.Wz + LocalOffsetZ by the time tick
		// processing reaches here (see world.stepMovement), so the client
		// doesn't need to resolve the mount chain itself.
		JumpZ:        e.Wz,
		JumpVZ:       e.JumpVZ,
		Wz:           e.Wz,
		HasParent:    e.ParentID != 0,
		ParentID:     uint32(e.ParentID),
		LocalOffsetX: e.LocalOffset.X,
		LocalOffsetY: e.LocalOffset.Y,
	}
	if idx, ok := entity.TypeIndex(e.Type); ok {
		v.TypeIndex = uint16(idx)
	}
	if e.AI != nil {
		v.HasWanderAI = true
		v.WanderAI = encodeWanderState(e.AI)
	}
	return v
}

// encodeWanderState packs the AI behavior's name into the small wander-state
// code the wire carries; the client only needs it to pick an animation.
func encodeWanderState(ai *entity.AIState) uint16 {
	switch ai.Current.Name() {
	case "wander":
		return 0
	case "flee":
		return 1
	case "follow":
		return 2
	default:
		return 0
	}
}

// BuildFrame computes the three-set diff (exits, baselines, deltas) between
// sv's prior state and the entities currently visible to this session, and
// returns the protocol.Frame ready for EncodeFrame.
func (sv *SessionView) BuildFrame(visible []EntityView, serverTick, lastProcessedInputSeq, playerEntityID uint32) protocol.Frame {
	f := protocol.Frame{
		ServerTick:            serverTick,
		LastProcessedInputSeq: lastProcessedInputSeq,
		PlayerEntityID:        playerEntityID,
	}

	stillVisible := make(map[uint64]struct{}, len(visible))
	for _, v := range visible {
		stillVisible[v.ID] = struct{}{}

		prior, known := sv.sentBaselines[v.ID]
		if !known {
			f.Baselines = append(f.Baselines, protocol.EntityBaseline{
				ID:            uint32(v.ID),
				TypeIndex:     v.TypeIndex,
				PosX:          v.PosX,
				PosY:          v.PosY,
				HasVelocity:   v.HasVelocity,
				VelX:          v.VelX,
				VelY:          v.VelY,
				HasSprite:     true,
				SpriteState:   v.SpriteState,
				HasWanderAI:   v.HasWanderAI,
				WanderAIState: v.WanderAI,
			})
			sv.sentBaselines[v.ID] = baselineSnapshot(v)
			continue
		}

		if d, changed := diff(v.ID, prior, v); changed {
			f.Deltas = append(f.Deltas, d)
			sv.sentBaselines[v.ID] = snapshotOf(v)
		}
	}

	for id := range sv.sentBaselines {
		if _, ok := stillVisible[id]; !ok {
			f.Exits = append(f.Exits, uint32(id))
			delete(sv.sentBaselines, id)
		}
	}

	return f
}

// baselineSnapshot seeds sentBaselines for an entity the client has just been
// told about via a Baseline message, which carries only pos/vel/sprite/
// wanderAI. Every other field must stay at its zero value here even if v
// already holds a non-default value for it, or a later diff would think the
// client already has it and never send it.
func baselineSnapshot(v EntityView) lastSent {
	return lastSent{
		pos:         [2]float32{v.PosX, v.PosY},
		vel:         [2]float32{v.VelX, v.VelY},
		hasVel:      v.HasVelocity,
		spriteState: v.SpriteState,
		wanderAI:    v.WanderAI,
		hasWanderAI: v.HasWanderAI,
	}
}

func snapshotOf(v EntityView) lastSent {
	return lastSent{
		pos:         [2]float32{v.PosX, v.PosY},
		vel:         [2]float32{v.VelX, v.VelY},
		hasVel:      v.HasVelocity,
		spriteState: v.SpriteState,
		wanderAI:    v.WanderAI,
		hasWanderAI: v.HasWanderAI,
		flashHidden: v.FlashHidden,
		noShadow:    v.NoShadow,
		deathTimer:  v.DeathTimer,
		jumpZ:       v.JumpZ,
		jumpVZ:      v.JumpVZ,
		wz:          v.Wz,
		parentID:    v.ParentID,
		hasParent:   v.HasParent,
		localOffset: [2]float32{v.LocalOffsetX, v.LocalOffsetY},
	}
}

// diff compares v against the last value sent and builds an EntityDelta
// covering every changed field, using NullMask for fields that became unset
// (velocity stopping being tracked, wander AI state clearing, parent
// detaching).
func diff(id uint64, prior lastSent, v EntityView) (protocol.EntityDelta, bool) {
	d := protocol.EntityDelta{ID: uint32(id)}
	changed := false

	if prior.pos[0] != v.PosX || prior.pos[1] != v.PosY {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldPosition)
		d.PosX, d.PosY = v.PosX, v.PosY
		changed = true
	}
	if v.HasVelocity {
		if !prior.hasVel || prior.vel[0] != v.VelX || prior.vel[1] != v.VelY {
			d.ChangeMask = setBit(d.ChangeMask, protocol.FieldVelocity)
			d.VelX, d.VelY = v.VelX, v.VelY
			changed = true
		}
	} else if prior.hasVel {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldVelocity)
		d.NullMask = setBit(d.NullMask, protocol.FieldVelocity)
		changed = true
	}
	if prior.spriteState != v.SpriteState {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldSpriteState)
		d.SpriteState = v.SpriteState
		changed = true
	}
	if v.HasWanderAI {
		if !prior.hasWanderAI || prior.wanderAI != v.WanderAI {
			d.ChangeMask = setBit(d.ChangeMask, protocol.FieldWanderAIState)
			d.WanderAIState = v.WanderAI
			changed = true
		}
	} else if prior.hasWanderAI {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldWanderAIState)
		d.NullMask = setBit(d.NullMask, protocol.FieldWanderAIState)
		changed = true
	}
	if prior.flashHidden != v.FlashHidden {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldFlashHidden)
		d.FlashHidden = v.FlashHidden
		changed = true
	}
	if prior.noShadow != v.NoShadow {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldNoShadow)
		d.NoShadow = v.NoShadow
		changed = true
	}
	if prior.deathTimer != v.DeathTimer {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldDeathTimer)
		d.DeathTimer = v.DeathTimer
		changed = true
	}
	if prior.jumpZ != v.JumpZ {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldJumpZ)
		d.JumpZ = v.JumpZ
		changed = true
	}
	if prior.jumpVZ != v.JumpVZ {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldJumpVZ)
		d.JumpVZ = v.JumpVZ
		changed = true
	}
	if prior.wz != v.Wz {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldWz)
		d.Wz = v.Wz
		changed = true
	}
	if v.HasParent {
		if !prior.hasParent || prior.parentID != v.ParentID {
			d.ChangeMask = setBit(d.ChangeMask, protocol.FieldParentID)
			d.ParentID = v.ParentID
			changed = true
		}
	} else if prior.hasParent {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldParentID)
		d.NullMask = setBit(d.NullMask, protocol.FieldParentID)
		changed = true
	}
	if prior.localOffset[0] != v.LocalOffsetX {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldLocalOffsetX)
		d.LocalOffsetX = v.LocalOffsetX
		changed = true
	}
	if prior.localOffset[1] != v.LocalOffsetY {
		d.ChangeMask = setBit(d.ChangeMask, protocol.FieldLocalOffsetY)
		d.LocalOffsetY = v.LocalOffsetY
		changed = true
	}

	return d, changed
}

func setBit(mask uint16, f protocol.DeltaField) uint16 { return mask | (1 << uint16(f)) }
