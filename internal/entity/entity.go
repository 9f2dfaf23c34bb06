// Package entity is the shared data model for everything that moves or can
// be interacted with in a realm: players, NPCs, and props. The server
// simulation (internal/world) copies this struct's movement state into a
// movement.Body, the same type the client predictor (internal/client)
// steps, so C4's movement kernel runs against identical state on both sides.
package entity

import "github.com/tilerealm/server/internal/vec"

// Kind distinguishes the handful of entity categories the simulation treats
// differently; it is not the same as Type, which names a specific
// appearance/behavior (e.g. "player", "wolf", "campfire").
type Kind uint8

const (
	KindPlayer Kind = iota
	KindNPC
	KindProp
)

// Facing is the cardinal direction an entity's sprite/animation faces.
type Facing uint8

const (
	FacingDown Facing = iota
	FacingUp
	FacingLeft
	FacingRight
)

// Entity is one simulated actor: a player, an NPC, or a (potentially
// movable) prop. Position and Velocity are float32 world-pixel vectors so
// the movement kernel is bit-identical between server and client.
type Entity struct {
	ID       uint64
	Type     string // registered name, see types.go
	Kind     Kind
	Position vec.Vec2F
	Velocity vec.Vec2F
	Width    float32
	Height   float32
	Facing   Facing
	Grounded bool
	Active   bool

	// Vertical state, mirrored against movement.Body each tick by
	// internal/world. Never transmitted directly; the wire carries Wz,
	// JumpZ/JumpVZ individually per spec.md's delta field set.
	Wz          float32
	JumpVZ      float32
	PhysHeight  float32 // Z-extent used for blocker overlap tests
	CanFall     bool
	JumpRequest bool // edge-triggered, consumed and cleared by the next movement step; never transmitted
	Noclip      bool // ephemeral debug flag, never transmitted
	Paused      bool // ephemeral debug flag: skips movement/AI entirely, never transmitted

	// PrevPosition/PrevWz snapshot Position/Wz as of the start of the tick
	// currently in progress. internal/world sets them before stepping this
	// entity's movement and reads other entities' copies when resolving
	// ground contact, so a "descended-through" query sees every entity's
	// pre-tick state regardless of map iteration order. Ephemeral, never
	// transmitted.
	PrevPosition vec.Vec2F
	PrevWz       float32

	// Solid marks a collider that blocks other entities' movement when their
	// Z-ranges overlap (see movement.Context.IsEntityBlocked).
	Solid bool

	// Walls are a prop's sub-colliders: staircases, enterable structures, and
	// platforms are modeled as one or more boxes offset from Position with
	// their own Z-extent, rather than the prop's whole AABB blocking at every
	// height. Only meaningful when Kind == KindProp.
	Walls []Wall

	// ParentID, when non-zero, attaches this entity to a parent entity
	// (riding a mount, sitting on a cart). Position stays a world position
	// and is not derived from the parent or from LocalOffset, which is only
	// carried on the wire. LocalOffsetZ is added to the parent's Wz each tick
	// to derive this entity's absolute height (see internal/world's
	// stepMovement), encoded on the wire as this entity's JumpZ.
	ParentID     uint64
	LocalOffset  vec.Vec2F
	LocalOffsetZ float32

	// Presentation hints the delta encoder mirrors opaquely.
	SpriteState uint16
	FlashHidden bool
	NoShadow    bool
	DeathTimer  uint16

	// AI is nil for players and stationary props.
	AI *AIState

	// Payload carries gameplay attributes (health, inventory refs, owner id,
	// ...) that the simulation treats opaquely and the delta encoder never
	// looks at.
	Payload map[string]interface{}
}

// NewEntity returns an Entity with Active set and an empty payload map.
func NewEntity(id uint64, typ string, kind Kind, pos vec.Vec2F, width, height float32) *Entity {
	return &Entity{
		ID:       id,
		Type:     typ,
		Kind:     kind,
		Position: pos,
		Width:    width,
		Height:   height,
		Active:   true,
		Payload:  make(map[string]interface{}),
	}
}

// AABB returns the entity's current collision box.
func (e *Entity) AABB() vec.AABB {
	return vec.NewAABB(e.Position, e.Width, e.Height)
}

// PrevAABB returns the collision box at PrevPosition, used by cross-entity
// ground queries that must stay order-independent within a tick.
func (e *Entity) PrevAABB() vec.AABB {
	return vec.NewAABB(e.PrevPosition, e.Width, e.Height)
}

// Wall is a prop sub-collider (see Entity.Walls): a box offset from the
// prop's Position with its own Z-extent. WalkableTop marks it as a surface
// an entity can stand on; Passable marks it as not blocking XY movement at
// all (only its top is solid, for walking up onto a platform from below).
type Wall struct {
	OffsetX, OffsetY float32
	Width, Height    float32
	ZBase, ZHeight   float32
	WalkableTop      bool
	Passable         bool
}

// WallAABB returns w's collider translated to world space by e's Position.
func (e *Entity) WallAABB(w Wall) vec.AABB {
	return vec.NewAABB(vec.Vec2F{X: e.Position.X + w.OffsetX, Y: e.Position.Y + w.OffsetY}, w.Width, w.Height)
}

// ZOverlaps reports whether e's vertical extent [Wz, Wz+PhysHeight] overlaps
// the other entity/prop's, the test movement.Context implementations use so
// entities pass over or under each other when not actually stacked.
func (e *Entity) ZOverlaps(otherWz, otherHeight float32) bool {
	return e.Wz < otherWz+otherHeight && e.Wz+e.PhysHeight > otherWz
}

func (e *Entity) Get(key string) (interface{}, bool) {
	v, ok := e.Payload[key]
	return v, ok
}

func (e *Entity) Set(key string, value interface{}) {
	e.Payload[key] = value
}
