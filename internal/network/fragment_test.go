package network

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// randomPayload returns deterministic pseudo-random bytes, incompressible
// enough that zstd can't shrink a multi-fragment message down to one piece.
func randomPayload(n int) []byte {
	r := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestFragmentRoundTripSmallPayload(t *testing.T) {
	payload := []byte("hello world")
	frags := FragmentMessage(1, payload)
	require.Len(t, frags, 1)

	r := NewReassembler(0, 0)
	got, done, err := r.Accept("client-1", frags[0])
	require.NoError(t, err)
	require.True(t, done)
	require.True(t, bytes.Equal(payload, got))
}

func TestFragmentRoundTripLargeCompressedPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	frags := FragmentMessage(7, payload)
	require.NotEmpty(t, frags)

	r := NewReassembler(0, 0)
	var got []byte
	var done bool
	var err error
	for _, f := range frags {
		got, done, err = r.Accept("client-1", f)
		require.NoError(t, err)
	}
	require.True(t, done)
	require.True(t, bytes.Equal(payload, got))
}

func TestFragmentReassemblyOutOfOrder(t *testing.T) {
	payload := randomPayload(maxDatagramPayload * 3)
	frags := FragmentMessage(2, payload)
	require.Greater(t, len(frags), 1)

	r := NewReassembler(0, 0)
	order := make([]int, len(frags))
	for i := range order {
		order[i] = len(frags) - 1 - i // feed fragments in reverse order
	}
	var got []byte
	var done bool
	for _, i := range order {
		var err error
		got, done, err = r.Accept("client-1", frags[i])
		require.NoError(t, err)
	}
	require.True(t, done)
	require.Equal(t, payload, got)
}

func TestMultiplexerSendUnknownClient(t *testing.T) {
	mux := NewMultiplexer()
	err := mux.Send("ghost", "", []byte("x"))
	require.Error(t, err)
}

func TestMultiplexerRegisterSendUnregister(t *testing.T) {
	mux := NewMultiplexer()
	ch := NewLoopbackChannel("client-1")
	mux.Register("client-1", ch)
	require.True(t, mux.Connected("client-1"))
	require.Equal(t, 1, mux.Count())

	require.NoError(t, mux.Send("client-1", "sync", []byte("payload")))
	select {
	case got := <-ch.Inbox():
		require.Equal(t, []byte("payload"), got)
	default:
		t.Fatal("expected a payload in the loopback inbox")
	}

	mux.Unregister("client-1")
	require.False(t, mux.Connected("client-1"))
}
