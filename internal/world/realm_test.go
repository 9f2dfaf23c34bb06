package world

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/session"
	"github.com/tilerealm/server/internal/tile"
	"github.com/tilerealm/server/internal/vec"
)

// recordingOutbound captures every payload sent, keyed by client id, for
// assertions without standing up a real transport.
type recordingOutbound struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func newRecordingOutbound() *recordingOutbound {
	return &recordingOutbound{sent: make(map[string][][]byte)}
}

func (o *recordingOutbound) Send(clientID string, _ protocol.Channel, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[clientID] = append(o.sent[clientID], payload)
	return nil
}

func (o *recordingOutbound) count(clientID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent[clientID])
}

func newTestRealm(t *testing.T, out Outbound) *Realm {
	t.Helper()
	return NewRealm("test-realm", "test-world", &tile.FlatGenerator{Terrain: 1}, 20, movement.DefaultParams(), out, nil, nil, nil)
}

func TestRealmSpawnAndDespawn(t *testing.T) {
	r := newTestRealm(t, nil)
	e := entity.NewEntity(0, "player", entity.KindPlayer, vec.Vec2F{}, 12, 12)
	id := r.SpawnEntity(e)
	require.NotZero(t, id)

	_, ok := r.Entity(id)
	require.True(t, ok)

	r.Despawn(id)
	_, ok = r.Entity(id)
	require.False(t, ok)
}

func TestRealmJoinLeaveTracksPlayerCount(t *testing.T) {
	r := newTestRealm(t, nil)
	sess, _ := session.NewManager(0).Connect("client-1")

	require.Equal(t, 1, r.Join(sess, 1))
	require.Equal(t, 1, r.PlayerCount())
	require.Equal(t, 0, r.Leave("client-1"))
	require.Equal(t, 0, r.PlayerCount())
}

func TestRealmTickAppliesInputVelocity(t *testing.T) {
	r := newTestRealm(t, nil)
	e := entity.NewEntity(0, "player", entity.KindPlayer, vec.Vec2F{X: 100, Y: 100}, 12, 12)
	id := r.SpawnEntity(e)

	sess, _ := session.NewManager(0).Connect("client-1")
	r.Join(sess, id)
	require.False(t, sess.Mailbox().Push(protocol.PlayerInput{Seq: 1, DX: 1, DY: 0}))

	start := e.Position
	r.tick(1.0 / 20)

	require.Greater(t, e.Position.X, start.X)
	require.Equal(t, uint32(1), r.peers["client-1"].lastProcessedInputSeq)
}

func TestRealmTickBroadcastsFrameToJoinedPeer(t *testing.T) {
	out := newRecordingOutbound()
	r := newTestRealm(t, out)
	e := entity.NewEntity(0, "player", entity.KindPlayer, vec.Vec2F{}, 12, 12)
	id := r.SpawnEntity(e)

	sess, _ := session.NewManager(0).Connect("client-1")
	r.Join(sess, id)
	r.SetVisibleRange("client-1", tile.Range{MinCX: -1, MinCY: -1, MaxCX: 1, MaxCY: 1})

	r.tick(1.0 / 20)

	require.Greater(t, out.count("client-1"), 0)
}

func TestRealmDeathTimerDespawnsEntity(t *testing.T) {
	r := newTestRealm(t, nil)
	e := entity.NewEntity(0, "campfire", entity.KindProp, vec.Vec2F{}, 8, 8)
	e.DeathTimer = 1
	id := r.SpawnEntity(e)

	r.tick(1.0 / 20)

	_, ok := r.Entity(id)
	require.False(t, ok)
}

func TestRealmStopEndsRunLoop(t *testing.T) {
	r := newTestRealm(t, nil)
	go r.Run(context.Background())
	r.Stop()
}
