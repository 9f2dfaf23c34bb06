package movement

import "github.com/tilerealm/server/internal/vec"

// Body is the subset of entity.Entity state the kernel reads and mutates.
// Kept as its own small struct (rather than importing internal/entity
// directly) so the predictor can step a client-side mirror without pulling
// in the full entity package's AI/payload machinery.
type Body struct {
	Position vec.Vec2F
	Velocity vec.Vec2F
	Width    float32
	Height   float32

	Wz           float32 // height above ground
	JumpVZ       float32 // vertical velocity while airborne, 0 when grounded
	Grounded     bool
	PhysHeight   float32 // Z-extent used for blocker overlap tests
	CanFall      bool
	JumpRequest  bool // edge-triggered: consumed by Step
}

// Step runs one tick of axis-separated AABB sweep against ctx, advancing
// Position by Velocity*dt. Translation is applied one axis at a time so a
// diagonal move that is blocked on one axis still slides along the other.
func Step(b *Body, ctx Context, p Params, dt float32) {
	if ctx.Noclip() {
		b.Position = b.Position.Add(b.Velocity.Mul(dt))
		return
	}

	dx := b.Velocity.X * dt
	dy := b.Velocity.Y * dt

	if dx != 0 {
		trial := vec.Vec2F{X: b.Position.X + dx, Y: b.Position.Y}
		if moveAllowed(b, trial, ctx, p) {
			b.Position = trial
		} else {
			b.Velocity.X = 0
		}
	}
	if dy != 0 {
		trial := vec.Vec2F{X: b.Position.X, Y: b.Position.Y + dy}
		if moveAllowed(b, trial, ctx, p) {
			b.Position = trial
		} else {
			b.Velocity.Y = 0
		}
	}
}

func moveAllowed(b *Body, trial vec.Vec2F, ctx Context, p Params) bool {
	box := vec.NewAABB(trial, b.Width, b.Height)

	minTile, maxTile := box.TileRange()
	maxGround := uint8(0)
	for ty := minTile.Y; ty <= maxTile.Y; ty++ {
		for tx := minTile.X; tx <= maxTile.X; tx++ {
			if ctx.TileCollision(tx, ty)&TileSolid != 0 {
				h := ctx.TileHeight(tx, ty)
				if h > maxGround {
					maxGround = h
				}
				// A solid tile only blocks if its surface is above a
				// step-up from the entity's current height.
				if float32(h) > b.Wz+p.StepUpThreshold {
					return false
				}
			}
		}
	}

	if ctx.IsEntityBlocked(box, b.Wz, b.PhysHeight) {
		return false
	}
	if ctx.IsPropBlocked(box, b.Wz, b.PhysHeight) {
		return false
	}
	return true
}

// ApplyJumpAndGravity runs the vertical sub-step: gravity integration while
// airborne, then ground contact resolution. groundZ is the caller-resolved
// landing surface (internal/world queries terrain/props/entities for it;
// the kernel itself is agnostic to what produces the number).
func ApplyJumpAndGravity(b *Body, p Params, dt float32, groundZ float32) {
	if b.JumpRequest && b.Grounded {
		b.JumpVZ = p.JumpVelocity
		b.Grounded = false
		b.JumpRequest = false
	}

	if !b.Grounded {
		b.JumpVZ -= p.Gravity * p.TimeScale * dt
		b.Wz += b.JumpVZ * dt
		if b.Wz <= groundZ {
			b.Wz = groundZ
			b.JumpVZ = 0
			b.Grounded = true
		}
		return
	}

	// Grounded: track the surface, falling only if CanFall and the drop
	// exceeds the step-up band (otherwise snap down, matching a stair edge).
	drop := b.Wz - groundZ
	switch {
	case drop <= p.StepUpThreshold:
		b.Wz = groundZ
	case b.CanFall:
		b.Grounded = false
		b.JumpVZ = 0
	default:
		b.Wz = groundZ
	}
}
