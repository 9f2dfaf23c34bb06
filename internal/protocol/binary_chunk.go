package protocol

import (
	"bytes"
	"fmt"
)

// WireMaxBlendLayers mirrors tile.MaxBlendLayers; kept as its own constant
// rather than importing internal/tile, per this package's no-import-cycle
// contract.
const WireMaxBlendLayers = 6

// ChunkTileWire mirrors tile.TileData's wire-relevant fields. protocol stays
// independent of internal/tile so the codec has no import-cycle risk; the
// caller (internal/world) converts to/from tile.Chunk.
type ChunkTileWire struct {
	Terrain    uint16
	Collision  uint8
	Height     uint8
	Detail     uint16
	RoadType   uint8
	BlendCount uint8
	Blend      [WireMaxBlendLayers]uint16
}

// ChunkSnapshot is one chunk's wire form for the sync-chunks message: same
// field set as tile.Chunk, serialized with the same hand-rolled binary
// registry as frame/player-input (see the DOMAIN STACK note on why no IDL
// library is used for the hot path).
type ChunkSnapshot struct {
	CX, CY   int32
	Revision uint64
	Tiles    []ChunkTileWire // len == chunkSide*chunkSide, row-major
	Corners  []uint8         // len == (chunkSide+1)*(chunkSide+1)
}

// EncodeChunkSnapshot writes snap in the fixed binary layout, tagged
// TypeSyncChunks.
func EncodeChunkSnapshot(snap ChunkSnapshot) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(TypeSyncChunks))
	writeI32(buf, snap.CX)
	writeI32(buf, snap.CY)
	writeU64(buf, snap.Revision)

	writeU16(buf, uint16(len(snap.Tiles)))
	for _, t := range snap.Tiles {
		writeU16(buf, t.Terrain)
		writeU8(buf, t.Collision)
		writeU8(buf, t.Height)
		writeU16(buf, t.Detail)
		writeU8(buf, t.RoadType)
		writeU8(buf, t.BlendCount)
		for _, b := range t.Blend {
			writeU16(buf, b)
		}
	}

	writeU16(buf, uint16(len(snap.Corners)))
	for _, c := range snap.Corners {
		writeU8(buf, c)
	}

	return buf.Bytes()
}

// DecodeChunkSnapshot parses a buffer produced by EncodeChunkSnapshot,
// including its leading type tag.
func DecodeChunkSnapshot(data []byte) (ChunkSnapshot, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return ChunkSnapshot{}, err
	}
	if Type(tag) != TypeSyncChunks {
		return ChunkSnapshot{}, fmt.Errorf("protocol: expected sync-chunks tag %d, got %d", TypeSyncChunks, tag)
	}

	var snap ChunkSnapshot
	snap.CX = readI32(r)
	snap.CY = readI32(r)
	snap.Revision = readU64(r)

	tileCount := readU16(r)
	snap.Tiles = make([]ChunkTileWire, tileCount)
	for i := range snap.Tiles {
		var t ChunkTileWire
		t.Terrain = readU16(r)
		t.Collision = readU8(r)
		t.Height = readU8(r)
		t.Detail = readU16(r)
		t.RoadType = readU8(r)
		t.BlendCount = readU8(r)
		for j := range t.Blend {
			t.Blend[j] = readU16(r)
		}
		snap.Tiles[i] = t
	}

	cornerCount := readU16(r)
	snap.Corners = make([]uint8, cornerCount)
	for i := range snap.Corners {
		snap.Corners[i] = readU8(r)
	}

	return snap, nil
}
