package entity

import "github.com/tilerealm/server/internal/vec"

// WorldView is the read-only query surface an AI behavior needs: nearby
// entities and whether a tile is passable. internal/world's realm
// implements it; behaviors never mutate the world directly, they only steer
// by setting the entity's Velocity.
type WorldView interface {
	NearestEntity(from vec.Vec2F, kind Kind, radius float32) (*Entity, bool)
	IsPassable(tile vec.Vec2) bool
}

// Behavior is one AI state. Update runs once per AI tick (see
// AITickPeriod) and returns the state to transition to, which may be itself.
type Behavior interface {
	Enter(e *Entity)
	Update(e *Entity, w WorldView, dt float32) Behavior
	Exit(e *Entity)
	Name() string
}

// AIState is the per-entity AI context: current behavior plus the
// accumulator that throttles AI updates to less than the tick rate (see
// SPEC_FULL's resolution of the tickAccumulator open question).
type AIState struct {
	Current       Behavior
	TickAccum     int
	AITickPeriod  int
	WanderOrigin  vec.Vec2F
	WanderRadius  float32
}

// NewAIState returns AI state starting in Wander, ticking once every period ticks.
func NewAIState(origin vec.Vec2F, wanderRadius float32, period int) *AIState {
	if period <= 0 {
		period = 4
	}
	return &AIState{
		Current:      &WanderBehavior{},
		AITickPeriod: period,
		WanderOrigin: origin,
		WanderRadius: wanderRadius,
	}
}

// Step increments the accumulator and runs the current behavior's Update
// once it reaches AITickPeriod, then resets it by subtracting the period (not
// zeroing) so any overshoot carries into the next window instead of
// accumulating drift.
func (s *AIState) Step(e *Entity, w WorldView, dt float32) {
	s.TickAccum++
	if s.TickAccum < s.AITickPeriod {
		return
	}
	s.TickAccum -= s.AITickPeriod

	next := s.Current.Update(e, w, dt*float32(s.AITickPeriod))
	if next != s.Current {
		s.Current.Exit(e)
		next.Enter(e)
		s.Current = next
	}
}

// WanderBehavior switches to Flee when a player is within 96 pixels.
// Otherwise it sets its target to the entity's current position, so the
// resulting Velocity is zero; no random point is chosen.
type WanderBehavior struct {
	target vec.Vec2F
	hasTarget bool
}

func (b *WanderBehavior) Name() string { return "wander" }
func (b *WanderBehavior) Enter(e *Entity) {}
func (b *WanderBehavior) Exit(e *Entity)  {}

func (b *WanderBehavior) Update(e *Entity, w WorldView, dt float32) Behavior {
	if player, ok := w.NearestEntity(e.Position, KindPlayer, 96); ok {
		_ = player
		return &FleeBehavior{}
	}
	if !b.hasTarget || e.Position.DistanceTo(b.target) < 4 {
		b.target = e.Position // deterministic; AIState.WanderOrigin is not read here
		b.hasTarget = true
	}
	e.Velocity = b.target.Sub(e.Position).Normalized().Mul(24)
	return b
}

// FleeBehavior runs directly away from the nearest player until out of range.
type FleeBehavior struct{}

func (b *FleeBehavior) Name() string { return "flee" }
func (b *FleeBehavior) Enter(e *Entity) {}
func (b *FleeBehavior) Exit(e *Entity)  {}

func (b *FleeBehavior) Update(e *Entity, w WorldView, dt float32) Behavior {
	player, ok := w.NearestEntity(e.Position, KindPlayer, 160)
	if !ok {
		return &WanderBehavior{}
	}
	away := e.Position.Sub(player.Position).Normalized()
	e.Velocity = away.Mul(48)
	return b
}

// FollowBehavior holds the id of an anchor entity (a tamed pet's owner, for
// instance). Its Update leaves Velocity unchanged and never transitions.
type FollowBehavior struct {
	AnchorID uint64
}

func (b *FollowBehavior) Name() string { return "follow" }
func (b *FollowBehavior) Enter(e *Entity) {}
func (b *FollowBehavior) Exit(e *Entity)  {}

func (b *FollowBehavior) Update(e *Entity, w WorldView, dt float32) Behavior {
	return b
}
