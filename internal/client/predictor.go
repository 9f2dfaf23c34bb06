package client

import (
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/vec"
)

// Predictor is the client-side mirror of one controlled entity: it steps
// movement.Body locally ahead of the network round trip and reconciles
// against each authoritative Frame by snapping to the server state then
// replaying every input the server hasn't acknowledged yet.
type Predictor struct {
	body     movement.Body
	params   movement.Params
	chunks   *ChunkCache
	inputs   *InputRing
	entityID uint32
	assigned bool
}

// NewPredictor builds a predictor against chunks, stepped with params (the
// CVars the server sends in WorldLoadedMsg).
func NewPredictor(chunks *ChunkCache, params movement.Params) *Predictor {
	return &Predictor{
		body:   movement.Body{CanFall: true},
		params: params,
		chunks: chunks,
		inputs: NewInputRing(),
	}
}

// SetEntityID records which entity id the local player controls, learned
// from the server's PlayerAssignedMsg.
func (p *Predictor) SetEntityID(id uint32) {
	p.entityID = id
	p.assigned = true
}

// Spawn places the body at pos, used once on realm join before any frame
// has arrived to reconcile against.
func (p *Predictor) Spawn(pos vec.Vec2F, width, height float32) {
	p.body.Position = pos
	p.body.Width = width
	p.body.Height = height
	p.body.Grounded = true
}

// Position returns the predictor's current best-guess entity position.
func (p *Predictor) Position() vec.Vec2F { return p.body.Position }

// ApplyLocalInput assigns in a sequence number, steps the local body
// forward by dt, and records the input for replay. Returns the finalized
// input (with its sequence number set) to send over the wire.
func (p *Predictor) ApplyLocalInput(in protocol.PlayerInput, dt float32) protocol.PlayerInput {
	in.Seq = p.inputs.NextSeq()
	p.stepOnce(in, dt)
	p.inputs.Push(in, dt)
	return in
}

func (p *Predictor) stepOnce(in protocol.PlayerInput, dt float32) {
	speed := movement.MoveSpeed
	if in.Sprinting {
		speed *= movement.SprintMultiplier
	}
	p.body.Velocity = vec.Vec2F{X: in.DX, Y: in.DY}.Mul(speed)
	if in.Jump {
		p.body.JumpRequest = true
	}
	movement.Step(&p.body, p.chunks, p.params, dt)
	ground := float32(p.chunks.TileHeight(p.body.Position.ToTile().X, p.body.Position.ToTile().Y))
	movement.ApplyJumpAndGravity(&p.body, p.params, dt, ground)
}

// Reconcile applies a server frame: if it carries authoritative state for
// our own entity, the body snaps to it and every input the server hasn't
// processed yet (Seq > f.LastProcessedInputSeq) is replayed on top.
func (p *Predictor) Reconcile(f protocol.Frame) {
	if !p.assigned {
		return
	}
	if snapped := p.snapFromFrame(f); snapped {
		pending := p.inputs.Ack(f.LastProcessedInputSeq)
		for _, pi := range pending {
			p.stepOnce(pi.input, pi.dt)
		}
	} else {
		p.inputs.Ack(f.LastProcessedInputSeq)
	}
}

func (p *Predictor) snapFromFrame(f protocol.Frame) bool {
	for _, b := range f.Baselines {
		if b.ID == p.entityID {
			p.body.Position = vec.Vec2F{X: b.PosX, Y: b.PosY}
			if b.HasVelocity {
				p.body.Velocity = vec.Vec2F{X: b.VelX, Y: b.VelY}
			}
			return true
		}
	}
	for _, d := range f.Deltas {
		if d.ID != p.entityID {
			continue
		}
		if hasBit(d.ChangeMask, protocol.FieldPosition) {
			p.body.Position = vec.Vec2F{X: d.PosX, Y: d.PosY}
		}
		if hasBit(d.ChangeMask, protocol.FieldVelocity) && !hasBit(d.NullMask, protocol.FieldVelocity) {
			p.body.Velocity = vec.Vec2F{X: d.VelX, Y: d.VelY}
		}
		if hasBit(d.ChangeMask, protocol.FieldWz) {
			p.body.Wz = d.Wz
		}
		if hasBit(d.ChangeMask, protocol.FieldJumpZ) {
			// Mount-resolved absolute height (mount.wz + localOffsetZ
			// server-side); supersedes Wz when present.
			p.body.Wz = d.JumpZ
		}
		if hasBit(d.ChangeMask, protocol.FieldJumpVZ) {
			p.body.JumpVZ = d.JumpVZ
		}
		return true
	}
	return false
}

func hasBit(mask uint16, f protocol.DeltaField) bool { return mask&(1<<uint16(f)) != 0 }
