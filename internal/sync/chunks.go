package sync

import (
	"github.com/tilerealm/server/internal/tile"
	"github.com/tilerealm/server/internal/vec"
)

// ChunkView tracks which chunk revisions a session has already been sent,
// so a realm only re-streams a chunk once its revision has advanced past
// what the client holds.
type ChunkView struct {
	sentRevisions map[vec.Vec2]uint64
}

func NewChunkView() *ChunkView {
	return &ChunkView{sentRevisions: make(map[vec.Vec2]uint64)}
}

// Due returns the chunks in range whose stored revision is newer than what
// this session was last sent. Chunks that left range are not reported here:
// per C10's contract the client evicts them itself from its periodic
// loadedChunkKeys list, so leaving range is not itself a revision event.
func (cv *ChunkView) Due(chunks []*tile.Chunk) []*tile.Chunk {
	var due []*tile.Chunk
	for _, c := range chunks {
		key := vec.Vec2{X: c.CX, Y: c.CY}
		if last, ok := cv.sentRevisions[key]; !ok || c.Revision > last {
			due = append(due, c)
			cv.sentRevisions[key] = c.Revision
		}
	}
	return due
}

// LoadedKeys returns every chunk key this session currently has a revision
// recorded for, used to build the periodic loadedChunkKeys list the client
// uses to decide what to evict.
func (cv *ChunkView) LoadedKeys() []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(cv.sentRevisions))
	for k := range cv.sentRevisions {
		out = append(out, k)
	}
	return out
}

// Forget drops a chunk from the sent-revision map, e.g. once it is
// confirmed outside every session's visible range for longer than the
// client's own eviction grace.
func (cv *ChunkView) Forget(cx, cy int32) {
	delete(cv.sentRevisions, vec.Vec2{X: cx, Y: cy})
}
