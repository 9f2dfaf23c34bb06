package storage

import (
	"time"

	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/tile"
)

// DirtyChunk names one chunk a realm wants flushed along with the world it
// belongs to.
type DirtyChunk struct {
	WorldID string
	Chunk   *tile.Chunk
}

// Flusher batches dirty-chunk writes at a bounded rate so a busy realm
// doesn't serialize every chunk on every tick. A failed write is retried
// with exponential backoff rather than dropped, per C10's failure
// semantics; the chunk stays marked dirty until the write succeeds.
type Flusher struct {
	store    *Store
	pending  chan DirtyChunk
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
}

func NewFlusher(store *Store, interval time.Duration, queueDepth int) *Flusher {
	return &Flusher{
		store:    store,
		pending:  make(chan DirtyChunk, queueDepth),
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Mark enqueues a chunk for flushing. Non-blocking: if the queue is full the
// chunk is dropped from this round and is re-marked on a later pass while
// it stays Dirty in memory, so nothing is lost.
func (f *Flusher) Mark(worldID string, c *tile.Chunk) {
	select {
	case f.pending <- DirtyChunk{WorldID: worldID, Chunk: c}:
	default:
		logging.Warn("storage: flush queue full, deferring chunk %d,%d", c.CX, c.CY)
	}
}

func (f *Flusher) Start() {
	go f.loop()
}

func (f *Flusher) Stop() {
	close(f.quit)
	<-f.done
}

func (f *Flusher) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	backlog := make([]DirtyChunk, 0, 64)
	for {
		select {
		case dc := <-f.pending:
			backlog = append(backlog, dc)
		case <-ticker.C:
			backlog = f.flushBatch(backlog)
		case <-f.quit:
			f.flushBatch(backlog)
			return
		}
	}
}

// flushBatch writes every pending chunk, retrying failures with exponential
// backoff up to a small cap before giving up on this round (the chunk
// remains Dirty and will be retried on the next tick's Mark call).
func (f *Flusher) flushBatch(backlog []DirtyChunk) []DirtyChunk {
	remaining := backlog[:0]
	for _, dc := range backlog {
		if err := f.flushWithRetry(dc); err != nil {
			logging.Error("storage: flush chunk %d,%d failed after retries: %v", dc.Chunk.CX, dc.Chunk.CY, err)
			continue
		}
		dc.Chunk.Dirty = false
	}
	return remaining
}

func (f *Flusher) flushWithRetry(dc DirtyChunk) error {
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = f.store.PutChunk(dc.WorldID, dc.Chunk); err == nil {
			return nil
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
