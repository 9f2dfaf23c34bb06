package client

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/vec"
)

func emptyChunk(cx, cy int32) protocol.ChunkSnapshot {
	tiles := make([]protocol.ChunkTileWire, vec.ChunkSize*vec.ChunkSize)
	return protocol.ChunkSnapshot{CX: cx, CY: cy, Tiles: tiles}
}

func TestPredictorAppliesLocalInputImmediately(t *testing.T) {
	chunks := NewChunkCache()
	chunks.Put(emptyChunk(0, 0))

	p := NewPredictor(chunks, movement.DefaultParams())
	p.SetEntityID(1)
	p.Spawn(vec.Vec2F{X: 100, Y: 100}, 14, 14)

	in := protocol.PlayerInput{DX: 1, DY: 0}
	p.ApplyLocalInput(in, 1.0/20)

	require.Greater(t, p.Position().X, float32(100))
	require.Equal(t, uint32(1), p.inputs.seq)
}

func TestPredictorReconcileSnapsAndReplaysUnacked(t *testing.T) {
	chunks := NewChunkCache()
	chunks.Put(emptyChunk(0, 0))

	p := NewPredictor(chunks, movement.DefaultParams())
	p.SetEntityID(7)
	p.Spawn(vec.Vec2F{X: 0, Y: 0}, 14, 14)

	dt := float32(1.0 / 20)
	for i := 0; i < 3; i++ {
		p.ApplyLocalInput(protocol.PlayerInput{DX: 1, DY: 0}, dt)
	}
	require.Equal(t, 3, p.inputs.Len())

	frame := protocol.Frame{
		LastProcessedInputSeq: 2,
		Deltas: []protocol.EntityDelta{
			{ID: 7, ChangeMask: 1 << uint16(protocol.FieldPosition), PosX: 50, PosY: 0},
		},
	}
	p.Reconcile(frame)

	// Seq 3 (unacked) replays on top of the server-authoritative snap, so the
	// final X is past the snapped value, not still sitting at it.
	require.Equal(t, 1, p.inputs.Len())
	require.Greater(t, p.Position().X, float32(50))
}

func TestPredictorIgnoresFramesBeforeAssignment(t *testing.T) {
	chunks := NewChunkCache()
	p := NewPredictor(chunks, movement.DefaultParams())
	p.Spawn(vec.Vec2F{X: 0, Y: 0}, 14, 14)

	p.Reconcile(protocol.Frame{
		Deltas: []protocol.EntityDelta{{ID: 1, ChangeMask: 1 << uint16(protocol.FieldPosition), PosX: 999}},
	})

	require.Equal(t, float32(0), p.Position().X)
}
