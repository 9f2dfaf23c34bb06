package network

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// fragmentHeaderSize is (messageID uint32, index uint16, count uint16,
// compressed bool as one byte).
const fragmentHeaderSize = 4 + 2 + 2 + 1

// maxDatagramPayload bounds a single fragment's body so a reassembled
// message fits comfortably under typical path MTUs once the KCP/UDP framing
// overhead is added.
const maxDatagramPayload = 1200

// compressThreshold is the payload size above which fragments are zstd
// compressed before splitting, per the DOMAIN STACK's "oversized reliable
// fragments" note — small payloads aren't worth the framing overhead.
const compressThreshold = 512

var (
	sharedEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	sharedDecoder, _ = zstd.NewReader(nil)
)

// FragmentMessage splits payload into one or more wire fragments, each
// prefixed with (messageID, index, count, compressed). A payload at or
// under one datagram's capacity is still "fragmented" into a single piece
// so the receive path has only one reassembly code path.
func FragmentMessage(messageID uint32, payload []byte) [][]byte {
	compressed := false
	body := payload
	if len(payload) > compressThreshold {
		body = sharedEncoder.EncodeAll(payload, nil)
		compressed = true
	}

	count := (len(body) + maxDatagramPayload - 1) / maxDatagramPayload
	if count == 0 {
		count = 1
	}

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxDatagramPayload
		end := start + maxDatagramPayload
		if end > len(body) {
			end = len(body)
		}
		frag := make([]byte, fragmentHeaderSize+(end-start))
		binary.BigEndian.PutUint32(frag[0:4], messageID)
		binary.BigEndian.PutUint16(frag[4:6], uint16(i))
		binary.BigEndian.PutUint16(frag[6:8], uint16(count))
		if compressed {
			frag[8] = 1
		}
		copy(frag[fragmentHeaderSize:], body[start:end])
		out = append(out, frag)
	}
	return out
}

type pendingMessage struct {
	parts      [][]byte
	have       int
	compressed bool
	lastSeen   time.Time
}

// Reassembler buffers fragments per (clientID, messageID) until every piece
// has arrived, then decompresses and hands the whole payload to the caller.
// Bounded by maxPending entries with TTL eviction so a client that never
// completes a message can't grow the buffer unboundedly.
type Reassembler struct {
	mu         sync.Mutex
	pending    map[string]*pendingMessage // key: clientID + messageID
	ttl        time.Duration
	maxPending int
}

func NewReassembler(ttl time.Duration, maxPending int) *Reassembler {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if maxPending <= 0 {
		maxPending = 1024
	}
	return &Reassembler{
		pending:    make(map[string]*pendingMessage),
		ttl:        ttl,
		maxPending: maxPending,
	}
}

func reassemblyKey(clientID string, messageID uint32) string {
	return fmt.Sprintf("%s:%d", clientID, messageID)
}

// Accept feeds one fragment in. It returns the reassembled payload and true
// once every fragment for that message has arrived.
func (r *Reassembler) Accept(clientID string, frag []byte) ([]byte, bool, error) {
	if len(frag) < fragmentHeaderSize {
		return nil, false, fmt.Errorf("network: fragment shorter than header (%d bytes)", len(frag))
	}
	messageID := binary.BigEndian.Uint32(frag[0:4])
	index := binary.BigEndian.Uint16(frag[4:6])
	count := binary.BigEndian.Uint16(frag[6:8])
	compressed := frag[8] == 1
	body := frag[fragmentHeaderSize:]

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictExpiredLocked()

	key := reassemblyKey(clientID, messageID)
	pm, ok := r.pending[key]
	if !ok {
		if len(r.pending) >= r.maxPending {
			return nil, false, fmt.Errorf("network: reassembly buffer full, dropping message %d from %s", messageID, clientID)
		}
		pm = &pendingMessage{parts: make([][]byte, count), compressed: compressed}
		r.pending[key] = pm
	}
	if int(index) >= len(pm.parts) {
		return nil, false, fmt.Errorf("network: fragment index %d out of range for count %d", index, len(pm.parts))
	}
	if pm.parts[index] == nil {
		pm.have++
	}
	pm.parts[index] = body
	pm.lastSeen = time.Now()

	if pm.have < len(pm.parts) {
		return nil, false, nil
	}
	delete(r.pending, key)

	total := 0
	for _, p := range pm.parts {
		total += len(p)
	}
	joined := make([]byte, 0, total)
	for _, p := range pm.parts {
		joined = append(joined, p...)
	}
	if pm.compressed {
		decoded, err := sharedDecoder.DecodeAll(joined, nil)
		if err != nil {
			return nil, false, fmt.Errorf("network: decompressing reassembled message: %w", err)
		}
		joined = decoded
	}
	return joined, true, nil
}

func (r *Reassembler) evictExpiredLocked() {
	cutoff := time.Now().Add(-r.ttl)
	for k, pm := range r.pending {
		if pm.lastSeen.Before(cutoff) {
			delete(r.pending, k)
		}
	}
}
