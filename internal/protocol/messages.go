// Package protocol is the wire codec (C12): a binary registry for the
// hot-path messages (frame, player-input, chunk bodies) where the spec pins
// an exact byte layout, and a JSON structured fallback for everything else
// (lobby/session control, editor ops). Grounded on the teacher's
// internal/network/protocol.go message-type-constant table, generalized
// from a single length-prefixed JSON envelope to the spec's dual binary/JSON
// split — a generic IDL (protobuf/flatbuffers) isn't used here because the
// spec fixes bit-for-bit mask widths and field order that would still need
// a bespoke encoder on top of any generated code.
package protocol

// Type is the leading type-tag byte every message starts with.
type Type uint8

const (
	TypeRealmList Type = iota + 1
	TypeRealmJoined
	TypeRealmLeft
	TypeRealmPlayerCount
	TypePlayerAssigned
	TypeWorldLoaded
	TypeSyncChunks
	TypeFrame
	TypeSyncSession
	TypeSyncInvincibility
	TypeCVarUpdate

	TypePlayerInput
	TypeVisibleRange
	TypeListRealms
	TypeJoinRealm
	TypeLeaveRealm
	TypeSetEditorMode
	TypeSetDebug
	TypeEditOp
	TypeEditorCursor
)

// ProtocolVersion is sent at session start; any incompatible change to the
// binary layout, mask widths, or field order bumps this.
const ProtocolVersion = 1

// Channel names the logical channel (C9) a message travels on: Sync is
// ordered/reliable, Entities is unordered/unreliable and carries only
// per-tick entity deltas whose staleness is harmless.
type Channel string

const (
	ChannelSync     Channel = "sync"
	ChannelEntities Channel = "entities"
)

// ChannelFor returns the channel a message type is routed on per §4.9: every
// type is reliable/ordered except the entity delta frame, which prefers the
// unreliable channel and only falls back to reliable when that channel is
// unavailable (see network.KCPChannel.Send).
func ChannelFor(t Type) Channel {
	if t == TypeFrame {
		return ChannelEntities
	}
	return ChannelSync
}

// RealmSummary describes one realm in a realm-list response.
type RealmSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
}

type RealmListMsg struct {
	Realms []RealmSummary `json:"realms"`
}

type RealmJoinedMsg struct {
	RequestID string  `json:"requestId"`
	CameraX   float32 `json:"cameraX"`
	CameraY   float32 `json:"cameraY"`
	CameraZoom float32 `json:"cameraZoom"`
}

type RealmLeftMsg struct {
	RequestID string `json:"requestId"`
}

type RealmPlayerCountMsg struct {
	WorldID string `json:"worldId"`
	Count   int    `json:"count"`
}

type PlayerAssignedMsg struct {
	EntityID uint32 `json:"entityId"`
}

type CVars struct {
	Gravity         float32 `json:"gravity"`
	Friction        float32 `json:"friction"`
	Accelerate      float32 `json:"accelerate"`
	AirAccelerate   float32 `json:"airAccelerate"`
	AirWishCap      float32 `json:"airWishCap"`
	StopSpeed       float32 `json:"stopSpeed"`
	NoBunnyHop      bool    `json:"noBunnyHop"`
	SmallJumps      bool    `json:"smallJumps"`
	TimeScale       float32 `json:"timeScale"`
	StepUpThreshold float32 `json:"stepUpThreshold"`
	JumpVelocity    float32 `json:"jumpVelocity"`
}

type WorldLoadedMsg struct {
	CVars      CVars              `json:"cvars"`
	CameraX    float32            `json:"cameraX"`
	CameraY    float32            `json:"cameraY"`
	Baselines  []EntityBaseline   `json:"baselines"`
}

type SyncSessionMsg struct {
	GemsCollected  int    `json:"gemsCollected"`
	EditorEnabled  bool   `json:"editorEnabled"`
	MountEntityID  uint32 `json:"mountEntityId,omitempty"`
}

type SyncInvincibilityMsg struct {
	StartTick     uint32 `json:"startTick"`
	DurationTicks uint32 `json:"durationTicks"`
}

type ListRealmsMsg struct {
	RequestID string `json:"requestId"`
}

type JoinRealmMsg struct {
	RequestID string `json:"requestId"`
	WorldID   string `json:"worldId"`
}

type LeaveRealmMsg struct {
	RequestID string `json:"requestId"`
}

type SetEditorModeMsg struct {
	Enabled bool `json:"enabled"`
}

type SetDebugMsg struct {
	Paused bool `json:"paused"`
	Noclip bool `json:"noclip"`
}

type VisibleRangeMsg struct {
	MinCX, MinCY, MaxCX, MaxCY int32
}

type EditorCursorMsg struct {
	SessionID string  `json:"sessionId"`
	WX        float32 `json:"wx"`
	WY        float32 `json:"wy"`
}

// EditOpKind discriminates the client->server editor edit-ops envelope; see
// spec.md §6. Every op is scoped to a single chunk (CX, CY) plus whatever
// local/sub-tile coordinates and payload fields that op needs — unused
// fields are left at their zero value and ignored by the dispatcher.
type EditOpKind string

const (
	EditTerrainTile      EditOpKind = "edit-terrain-tile"
	EditTerrainSubgrid   EditOpKind = "edit-terrain-subgrid"
	EditTerrainCorner    EditOpKind = "edit-terrain-corner"
	EditTerrainRoad      EditOpKind = "edit-terrain-road"
	EditTerrainElevation EditOpKind = "edit-terrain-elevation"
	EditSpawn            EditOpKind = "edit-spawn"
	EditDeleteEntity     EditOpKind = "edit-delete-entity"
	EditDeleteProp       EditOpKind = "edit-delete-prop"
	EditClearTerrain     EditOpKind = "edit-clear-terrain"
	EditClearRoads       EditOpKind = "edit-clear-roads"
	EditInvalidateAll    EditOpKind = "invalidate-all-chunks"
)

// EditOpMsg is the single envelope carrying every editor edit-op kind. Only
// the fields relevant to Kind are populated; the rest stay at their zero
// value, matching the JSON `omitempty` tags.
type EditOpMsg struct {
	RequestID string     `json:"requestId,omitempty"`
	Kind      EditOpKind `json:"kind"`

	// Chunk coordinates, required by every terrain/clear op.
	CX, CY int32 `json:"cx,omitempty"`

	// Tile-local coordinates, in [0, chunkSide).
	LX, LY int32 `json:"lx,omitempty"`

	// Subgrid (corner) coordinates, in [0, chunkSide].
	SX, SY int32 `json:"sx,omitempty"`

	Terrain   uint16   `json:"terrain,omitempty"`
	Detail    uint16   `json:"detail,omitempty"`
	Collision uint8    `json:"collision,omitempty"`
	RoadType  uint8    `json:"roadType,omitempty"`
	Height    uint8    `json:"height,omitempty"`
	Blend     []uint16 `json:"blend,omitempty"`

	EntityType string `json:"entityType,omitempty"`
	WX, WY     float32 `json:"wx,omitempty"`
	EntityID   uint64  `json:"entityId,omitempty"`
}
