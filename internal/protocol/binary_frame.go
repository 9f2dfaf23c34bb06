package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DeltaField indexes the fixed, ordered set of delta-able entity fields.
// Order is part of the wire contract: changeMask/nullMask bit i always
// refers to field(i), and reordering this list is a protocol break.
type DeltaField uint8

const (
	FieldPosition DeltaField = iota
	FieldVelocity
	FieldSpriteState
	FieldWanderAIState
	FieldFlashHidden
	FieldNoShadow
	FieldDeathTimer
	FieldJumpZ
	FieldJumpVZ
	FieldWz
	FieldParentID
	FieldLocalOffsetX
	FieldLocalOffsetY
	fieldCount
)

// EntityBaseline is a full serialization of one entity, sent once per visit
// to a session's interest set and refreshed only by deltas thereafter.
type EntityBaseline struct {
	ID            uint32
	TypeIndex     uint16
	PosX, PosY    float32
	HasVelocity   bool
	VelX, VelY    float32
	HasSprite     bool
	SpriteState   uint16
	HasWanderAI   bool
	WanderAIState uint16
}

// EntityDelta carries only the fields that changed since the last baseline
// or delta sent to this session, in ChangeMask/NullMask form.
type EntityDelta struct {
	ID         uint32
	ChangeMask uint16
	NullMask   uint16

	PosX, PosY         float32
	VelX, VelY         float32
	SpriteState        uint16
	WanderAIState      uint16
	FlashHidden        bool
	NoShadow           bool
	DeathTimer         uint16
	JumpZ              float32
	JumpVZ             float32
	Wz                 float32
	ParentID           uint32
	LocalOffsetX       float32
	LocalOffsetY       float32
}

func setBit(mask uint16, field DeltaField) uint16  { return mask | (1 << uint16(field)) }
func hasBit(mask uint16, field DeltaField) bool     { return mask&(1<<uint16(field)) != 0 }

// Frame is one tick's entity-channel payload: baselines for newly-visible
// entities, deltas for still-visible ones, and exits for ones that left the
// session's interest set.
type Frame struct {
	ServerTick            uint32
	LastProcessedInputSeq uint32
	PlayerEntityID        uint32
	Baselines             []EntityBaseline
	Deltas                []EntityDelta
	Exits                 []uint32
}

// EncodeFrame writes f in the fixed binary layout: a type tag, the header,
// then baselines, deltas, and exits in that order.
func EncodeFrame(f Frame) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeFrame))
	writeU32(buf, f.ServerTick)
	writeU32(buf, f.LastProcessedInputSeq)
	writeU32(buf, f.PlayerEntityID)
	writeU16(buf, uint16(len(f.Baselines)))
	writeU16(buf, uint16(len(f.Deltas)))
	writeU16(buf, uint16(len(f.Exits)))

	for _, b := range f.Baselines {
		encodeBaseline(buf, b)
	}
	for _, d := range f.Deltas {
		encodeDelta(buf, d)
	}
	for _, id := range f.Exits {
		writeU32(buf, id)
	}
	return buf.Bytes()
}

func encodeBaseline(buf *bytes.Buffer, b EntityBaseline) {
	writeU32(buf, b.ID)
	writeU16(buf, b.TypeIndex)
	writeF32(buf, b.PosX)
	writeF32(buf, b.PosY)

	var flags uint8
	if b.HasVelocity {
		flags |= 1
	}
	if b.HasSprite {
		flags |= 2
	}
	if b.HasWanderAI {
		flags |= 4
	}
	buf.WriteByte(flags)

	if b.HasVelocity {
		writeF32(buf, b.VelX)
		writeF32(buf, b.VelY)
	}
	if b.HasSprite {
		writeU16(buf, b.SpriteState)
	}
	if b.HasWanderAI {
		writeU16(buf, b.WanderAIState)
	}
}

func encodeDelta(buf *bytes.Buffer, d EntityDelta) {
	writeU32(buf, d.ID)
	writeU16(buf, d.ChangeMask)
	writeU16(buf, d.NullMask)

	present := func(f DeltaField) bool { return hasBit(d.ChangeMask, f) && !hasBit(d.NullMask, f) }

	if present(FieldPosition) {
		writeF32(buf, d.PosX)
		writeF32(buf, d.PosY)
	}
	if present(FieldVelocity) {
		writeF32(buf, d.VelX)
		writeF32(buf, d.VelY)
	}
	if present(FieldSpriteState) {
		writeU16(buf, d.SpriteState)
	}
	if present(FieldWanderAIState) {
		writeU16(buf, d.WanderAIState)
	}
	if present(FieldFlashHidden) {
		writeBool(buf, d.FlashHidden)
	}
	if present(FieldNoShadow) {
		writeBool(buf, d.NoShadow)
	}
	if present(FieldDeathTimer) {
		writeU16(buf, d.DeathTimer)
	}
	if present(FieldJumpZ) {
		writeF32(buf, d.JumpZ)
	}
	if present(FieldJumpVZ) {
		writeF32(buf, d.JumpVZ)
	}
	if present(FieldWz) {
		writeF32(buf, d.Wz)
	}
	if present(FieldParentID) {
		writeU32(buf, d.ParentID)
	}
	if present(FieldLocalOffsetX) {
		writeF32(buf, d.LocalOffsetX)
	}
	if present(FieldLocalOffsetY) {
		writeF32(buf, d.LocalOffsetY)
	}
}

// DecodeFrame parses a buffer produced by EncodeFrame, including its leading
// type tag.
func DecodeFrame(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	if Type(tag) != TypeFrame {
		return Frame{}, fmt.Errorf("protocol: expected frame tag %d, got %d", TypeFrame, tag)
	}

	var f Frame
	f.ServerTick = readU32(r)
	f.LastProcessedInputSeq = readU32(r)
	f.PlayerEntityID = readU32(r)
	baselineCount := readU16(r)
	deltaCount := readU16(r)
	exitCount := readU16(r)

	f.Baselines = make([]EntityBaseline, baselineCount)
	for i := range f.Baselines {
		f.Baselines[i] = decodeBaseline(r)
	}
	f.Deltas = make([]EntityDelta, deltaCount)
	for i := range f.Deltas {
		f.Deltas[i] = decodeDelta(r)
	}
	f.Exits = make([]uint32, exitCount)
	for i := range f.Exits {
		f.Exits[i] = readU32(r)
	}
	return f, nil
}

func decodeBaseline(r *bytes.Reader) EntityBaseline {
	var b EntityBaseline
	b.ID = readU32(r)
	b.TypeIndex = readU16(r)
	b.PosX = readF32(r)
	b.PosY = readF32(r)
	flags, _ := r.ReadByte()
	b.HasVelocity = flags&1 != 0
	b.HasSprite = flags&2 != 0
	b.HasWanderAI = flags&4 != 0
	if b.HasVelocity {
		b.VelX = readF32(r)
		b.VelY = readF32(r)
	}
	if b.HasSprite {
		b.SpriteState = readU16(r)
	}
	if b.HasWanderAI {
		b.WanderAIState = readU16(r)
	}
	return b
}

func decodeDelta(r *bytes.Reader) EntityDelta {
	var d EntityDelta
	d.ID = readU32(r)
	d.ChangeMask = readU16(r)
	d.NullMask = readU16(r)

	present := func(f DeltaField) bool { return hasBit(d.ChangeMask, f) && !hasBit(d.NullMask, f) }

	if present(FieldPosition) {
		d.PosX = readF32(r)
		d.PosY = readF32(r)
	}
	if present(FieldVelocity) {
		d.VelX = readF32(r)
		d.VelY = readF32(r)
	}
	if present(FieldSpriteState) {
		d.SpriteState = readU16(r)
	}
	if present(FieldWanderAIState) {
		d.WanderAIState = readU16(r)
	}
	if present(FieldFlashHidden) {
		d.FlashHidden = readBool(r)
	}
	if present(FieldNoShadow) {
		d.NoShadow = readBool(r)
	}
	if present(FieldDeathTimer) {
		d.DeathTimer = readU16(r)
	}
	if present(FieldJumpZ) {
		d.JumpZ = readF32(r)
	}
	if present(FieldJumpVZ) {
		d.JumpVZ = readF32(r)
	}
	if present(FieldWz) {
		d.Wz = readF32(r)
	}
	if present(FieldParentID) {
		d.ParentID = readU32(r)
	}
	if present(FieldLocalOffsetX) {
		d.LocalOffsetX = readF32(r)
	}
	if present(FieldLocalOffsetY) {
		d.LocalOffsetY = readF32(r)
	}
	return d
}

// PlayerInput is one client->server input sample: 10-byte binary header
// (seq, scaled dx/dy, flags) plus an optional tail (dtMs, jumpPressed).
type PlayerInput struct {
	Seq         uint32
	DX, DY      float32 // in [-1, 1]
	Sprinting   bool
	Jump        bool
	JumpPressed bool
	HasJumpPressed bool
	DtMs        uint16
	HasDtMs     bool
}

const inputScale = 32767

func EncodePlayerInput(in PlayerInput) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypePlayerInput))
	writeU32(buf, in.Seq)
	binary.Write(buf, binary.BigEndian, int16(in.DX*inputScale))
	binary.Write(buf, binary.BigEndian, int16(in.DY*inputScale))

	var flags uint8
	if in.Sprinting {
		flags |= 1
	}
	if in.Jump {
		flags |= 2
	}
	hasTail := in.HasDtMs || in.HasJumpPressed
	if hasTail {
		flags |= 4
	}
	buf.WriteByte(flags)

	if hasTail {
		writeU16(buf, in.DtMs)
		var jp uint8
		if in.JumpPressed {
			jp = 1
		}
		buf.WriteByte(jp)
	}
	return buf.Bytes()
}

func DecodePlayerInput(data []byte) (PlayerInput, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return PlayerInput{}, err
	}
	if Type(tag) != TypePlayerInput {
		return PlayerInput{}, fmt.Errorf("protocol: expected player-input tag %d, got %d", TypePlayerInput, tag)
	}

	var in PlayerInput
	in.Seq = readU32(r)
	var dxRaw, dyRaw int16
	binary.Read(r, binary.BigEndian, &dxRaw)
	binary.Read(r, binary.BigEndian, &dyRaw)
	in.DX = float32(dxRaw) / inputScale
	in.DY = float32(dyRaw) / inputScale

	flags, _ := r.ReadByte()
	in.Sprinting = flags&1 != 0
	in.Jump = flags&2 != 0
	hasTail := flags&4 != 0

	if hasTail {
		in.DtMs = readU16(r)
		in.HasDtMs = true
		jp, _ := r.ReadByte()
		in.JumpPressed = jp != 0
		in.HasJumpPressed = true
	}
	return in, nil
}

// --- small wire primitives, big-endian throughout ---

func writeU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.BigEndian, v) }
func writeU16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.BigEndian, v) }
func writeF32(buf *bytes.Buffer, v float32) { binary.Write(buf, binary.BigEndian, v) }
func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeU64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.BigEndian, v) }
func writeI32(buf *bytes.Buffer, v int32)  { binary.Write(buf, binary.BigEndian, v) }
func writeU8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }

func readU64(r *bytes.Reader) uint64 {
	var v uint64
	binary.Read(r, binary.BigEndian, &v)
	return v
}
func readI32(r *bytes.Reader) int32 {
	var v int32
	binary.Read(r, binary.BigEndian, &v)
	return v
}
func readU8(r *bytes.Reader) uint8 {
	v, _ := r.ReadByte()
	return v
}

func readU32(r *bytes.Reader) uint32 {
	var v uint32
	binary.Read(r, binary.BigEndian, &v)
	return v
}
func readU16(r *bytes.Reader) uint16 {
	var v uint16
	binary.Read(r, binary.BigEndian, &v)
	return v
}
func readF32(r *bytes.Reader) float32 {
	var v float32
	binary.Read(r, binary.BigEndian, &v)
	return v
}
func readBool(r *bytes.Reader) bool {
	b, _ := r.ReadByte()
	return b != 0
}
