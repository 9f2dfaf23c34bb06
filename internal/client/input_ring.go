package client

import "github.com/tilerealm/server/internal/protocol"

// pendingInput is one locally-applied input still awaiting server
// acknowledgment (LastProcessedInputSeq in a Frame).
type pendingInput struct {
	input protocol.PlayerInput
	dt    float32
}

// InputRing buffers every input the client has predicted locally but the
// server hasn't yet echoed back as processed, so reconciliation can replay
// exactly the unacknowledged tail after a correction.
type InputRing struct {
	seq     uint32
	pending []pendingInput
}

// NewInputRing builds an empty ring starting sequence numbers at 1.
func NewInputRing() *InputRing {
	return &InputRing{seq: 0}
}

// NextSeq assigns and returns the next input sequence number.
func (r *InputRing) NextSeq() uint32 {
	r.seq++
	return r.seq
}

// Push records in as applied locally, pending server acknowledgment.
func (r *InputRing) Push(in protocol.PlayerInput, dt float32) {
	r.pending = append(r.pending, pendingInput{input: in, dt: dt})
}

// Ack drops every pending input with Seq <= lastProcessed, returning the
// inputs that still need replaying after a reconciliation snap.
func (r *InputRing) Ack(lastProcessed uint32) []pendingInput {
	i := 0
	for i < len(r.pending) && r.pending[i].input.Seq <= lastProcessed {
		i++
	}
	r.pending = r.pending[i:]
	out := make([]pendingInput, len(r.pending))
	copy(out, r.pending)
	return out
}

// Len reports how many inputs are still unacknowledged.
func (r *InputRing) Len() int { return len(r.pending) }
