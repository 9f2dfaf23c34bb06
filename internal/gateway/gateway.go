// Package gateway is the glue between the transport multiplexer (C9) and a
// process's realms: it turns an accepted NetChannel into a lobby session,
// decodes inbound envelopes, and routes them to session/realm operations.
// Grounded on the teacher's internal/network/kcp_game_server.go, which wires
// a WorldManager and GameHandler the same way around a transport listener;
// here the handler logic lives in one small package instead of a
// protobuf-framed GameHandlerPB.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tilerealm/server/internal/catalog"
	"github.com/tilerealm/server/internal/entity"
	"github.com/tilerealm/server/internal/eventbus"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/network"
	"github.com/tilerealm/server/internal/protocol"
	"github.com/tilerealm/server/internal/session"
	"github.com/tilerealm/server/internal/storage"
	"github.com/tilerealm/server/internal/tile"
	"github.com/tilerealm/server/internal/vec"
	"github.com/tilerealm/server/internal/world"
)

const (
	playerWidth  = 14
	playerHeight = 14
	spawnX       = float32(vec.ChunkSize) * 8
	spawnY       = float32(vec.ChunkSize) * 8
)

// Gateway owns the live realms for this process (one per world, created on
// first join) and dispatches decoded client messages into them.
type Gateway struct {
	sessions *session.Manager
	registry *catalog.Registry
	mux      *network.Multiplexer
	store    *storage.Store
	flusher  *storage.Flusher
	bus      eventbus.EventBus

	tickRate       int
	movementParams movement.Params

	mu     sync.Mutex
	realms map[string]*world.Realm // keyed by worldID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Gateway. Call Run to start its background dormancy sweep
// (each realm's player-count relay starts when the realm is first joined)
// and Shutdown to stop every owned realm.
func New(sessions *session.Manager, registry *catalog.Registry, mux *network.Multiplexer, store *storage.Store, flusher *storage.Flusher, bus eventbus.EventBus, tickRate int, params movement.Params) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		sessions:       sessions,
		registry:       registry,
		mux:            mux,
		store:          store,
		flusher:        flusher,
		bus:            bus,
		tickRate:       tickRate,
		movementParams: params,
		realms:         make(map[string]*world.Realm),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// HandleAccept registers a newly connected transport channel and opens its
// lobby session.
func (g *Gateway) HandleAccept(clientID string, ch network.NetChannel) {
	g.mux.Register(clientID, ch)
	g.sessions.Connect(clientID)
	logging.Info("gateway: client %s connected", clientID)
}

// HandleMessage decodes one inbound payload from clientID and routes it.
func (g *Gateway) HandleMessage(clientID string, payload []byte) {
	t, err := protocol.PeekType(payload)
	if err != nil {
		logging.Warn("gateway: malformed message from %s: %v", clientID, err)
		return
	}

	sess, ok := g.sessions.Get(clientID)
	if !ok {
		logging.Warn("gateway: message from unknown session %s", clientID)
		return
	}

	switch t {
	case protocol.TypePlayerInput:
		g.handlePlayerInput(sess, payload)
	case protocol.TypeListRealms:
		g.handleListRealms(sess, payload)
	case protocol.TypeJoinRealm:
		g.handleJoinRealm(sess, payload)
	case protocol.TypeLeaveRealm:
		g.handleLeaveRealm(sess, payload)
	case protocol.TypeVisibleRange:
		g.handleVisibleRange(sess, payload)
	case protocol.TypeSetEditorMode:
		g.handleSetEditorMode(sess, payload)
	case protocol.TypeSetDebug:
		g.handleSetDebug(sess, payload)
	case protocol.TypeEditOp:
		g.handleEditOp(sess, payload)
	case protocol.TypeEditorCursor:
		g.handleEditorCursor(sess, payload)
	default:
		logging.Debug("gateway: unhandled message type %d from %s", t, clientID)
	}
}

// HandleDisconnect marks clientID dormant (or fully gone from the lobby) and
// drops its transport registration.
func (g *Gateway) HandleDisconnect(clientID string) {
	if sess, ok := g.sessions.Get(clientID); ok {
		if sess.State == session.StateActive {
			if r, ok := g.realm(sess.RealmID); ok {
				r.Leave(clientID)
			}
		}
		g.sessions.Disconnect(sess)
	}
	g.mux.Unregister(clientID)
	logging.Info("gateway: client %s disconnected", clientID)
}

func (g *Gateway) handlePlayerInput(sess *session.Session, payload []byte) {
	if sess.State != session.StateActive {
		return
	}
	in, err := protocol.DecodePlayerInput(payload)
	if err != nil {
		logging.Warn("gateway: bad player input from %s: %v", sess.ClientID, err)
		return
	}
	r, ok := g.realm(sess.RealmID)
	if !ok {
		return
	}
	if err := r.PushInput(sess.ClientID, in); err != nil {
		logging.Debug("gateway: push input for %s: %v", sess.ClientID, err)
	}
}

func (g *Gateway) handleListRealms(sess *session.Session, payload []byte) {
	var req protocol.ListRealmsMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad list-realms request from %s: %v", sess.ClientID, err)
		return
	}
	records, err := g.registry.ListWorlds()
	if err != nil {
		logging.Error("gateway: list worlds: %v", err)
		return
	}
	summaries := make([]protocol.RealmSummary, 0, len(records))
	for _, rec := range records {
		count := 0
		if r, ok := g.realm(rec.ID); ok {
			count = r.PlayerCount()
		}
		summaries = append(summaries, protocol.RealmSummary{ID: rec.ID, Name: rec.Name, PlayerCount: count})
	}
	g.send(sess.ClientID, protocol.TypeRealmList, protocol.RealmListMsg{Realms: summaries})
}

func (g *Gateway) handleJoinRealm(sess *session.Session, payload []byte) {
	var req protocol.JoinRealmMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad join-realm request from %s: %v", sess.ClientID, err)
		return
	}
	r, err := g.getOrCreateRealm(req.WorldID)
	if err != nil {
		logging.Error("gateway: join realm %s: %v", req.WorldID, err)
		return
	}

	e := entity.NewEntity(0, "player", entity.KindPlayer, vec.Vec2F{X: spawnX, Y: spawnY}, playerWidth, playerHeight)
	e.Solid = true
	entityID := r.SpawnEntity(e)

	g.sessions.JoinRealm(sess, req.WorldID, entityID)
	r.Join(sess, entityID)

	g.send(sess.ClientID, protocol.TypePlayerAssigned, protocol.PlayerAssignedMsg{EntityID: uint32(entityID)})
	g.send(sess.ClientID, protocol.TypeWorldLoaded, protocol.WorldLoadedMsg{
		CVars: cvarsFromParams(g.movementParams),
	})
	g.send(sess.ClientID, protocol.TypeRealmJoined, protocol.RealmJoinedMsg{RequestID: req.RequestID})

	if err := g.registry.UpdateLastPlayed(context.Background(), req.WorldID, time.Now()); err != nil {
		logging.Warn("gateway: update last played for %s: %v", req.WorldID, err)
	}
}

func (g *Gateway) handleLeaveRealm(sess *session.Session, payload []byte) {
	var req protocol.LeaveRealmMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad leave-realm request from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive {
		return
	}
	realmID := sess.RealmID
	if r, ok := g.realm(realmID); ok {
		r.Leave(sess.ClientID)
		r.Despawn(sess.EntityID)
	}
	g.sessions.LeaveRealm(sess)
	g.send(sess.ClientID, protocol.TypeRealmLeft, protocol.RealmLeftMsg{RequestID: req.RequestID})
}

func (g *Gateway) handleVisibleRange(sess *session.Session, payload []byte) {
	var req protocol.VisibleRangeMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad visible-range request from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive {
		return
	}
	r, ok := g.realm(sess.RealmID)
	if !ok {
		return
	}
	rng := tile.Range{MinCX: req.MinCX, MinCY: req.MinCY, MaxCX: req.MaxCX, MaxCY: req.MaxCY}
	r.SetVisibleRange(sess.ClientID, rng)
	sess.VisibleRange = session.Range(req)
}

func (g *Gateway) handleSetEditorMode(sess *session.Session, payload []byte) {
	var req protocol.SetEditorModeMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad set-editor-mode from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive {
		return
	}
	sess.EditorEnabled = req.Enabled
}

func (g *Gateway) handleSetDebug(sess *session.Session, payload []byte) {
	var req protocol.SetDebugMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad set-debug from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive {
		return
	}
	r, ok := g.realm(sess.RealmID)
	if !ok {
		return
	}
	r.SetDebug(sess.EntityID, req.Paused, req.Noclip)
}

func (g *Gateway) handleEditOp(sess *session.Session, payload []byte) {
	var req protocol.EditOpMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad edit-op from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive || !sess.EditorEnabled {
		return
	}
	r, ok := g.realm(sess.RealmID)
	if !ok {
		return
	}
	r.PushEditOp(req)
}

func (g *Gateway) handleEditorCursor(sess *session.Session, payload []byte) {
	var req protocol.EditorCursorMsg
	if _, err := protocol.DecodeJSON(payload, &req); err != nil {
		logging.Warn("gateway: bad editor-cursor from %s: %v", sess.ClientID, err)
		return
	}
	if sess.State != session.StateActive || !sess.EditorEnabled {
		return
	}
	r, ok := g.realm(sess.RealmID)
	if !ok {
		return
	}
	// Overwrite the claimed sender id with the authenticated session's own,
	// so a client can't spoof another peer's cursor.
	req.SessionID = sess.ClientID
	out, err := protocol.EncodeJSON(protocol.TypeEditorCursor, req)
	if err != nil {
		logging.Error("gateway: encode editor-cursor relay: %v", err)
		return
	}
	r.BroadcastEditorCursor(sess.ClientID, out)
}

func (g *Gateway) send(clientID string, t protocol.Type, msg interface{}) {
	data, err := protocol.EncodeJSON(t, msg)
	if err != nil {
		logging.Error("gateway: encode message type %d: %v", t, err)
		return
	}
	if err := g.mux.Send(clientID, protocol.ChannelFor(t), data); err != nil {
		logging.Debug("gateway: send to %s: %v", clientID, err)
	}
}

func (g *Gateway) realm(worldID string) (*world.Realm, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.realms[worldID]
	return r, ok
}

// PlayerCount returns a loaded realm's current live player count. The
// second return value is false if the realm isn't currently loaded (an
// empty, never-joined world reports 0 players this way rather than an
// error).
func (g *Gateway) PlayerCount(worldID string) (int, bool) {
	r, ok := g.realm(worldID)
	if !ok {
		return 0, false
	}
	return r.PlayerCount(), true
}

// UnloadRealm stops and forgets a running realm, used by the admin API
// before deleting a world record.
func (g *Gateway) UnloadRealm(worldID string) {
	g.mu.Lock()
	r, ok := g.realms[worldID]
	if ok {
		delete(g.realms, worldID)
	}
	g.mu.Unlock()
	if ok {
		r.Stop()
	}
}

// getOrCreateRealm returns the running realm for worldID, spinning up its
// tick loop on first join. The world record must already exist; an unknown
// worldID is an error.
func (g *Gateway) getOrCreateRealm(worldID string) (*world.Realm, error) {
	g.mu.Lock()
	if r, ok := g.realms[worldID]; ok {
		g.mu.Unlock()
		return r, nil
	}
	g.mu.Unlock()

	rec, ok, err := g.registry.GetWorld(context.Background(), worldID)
	if err != nil {
		return nil, fmt.Errorf("gateway: lookup world %s: %w", worldID, err)
	}
	if !ok {
		return nil, fmt.Errorf("gateway: no such world %s (create it via the admin API first)", worldID)
	}

	gen := tile.NewNaturalGenerator(rec.Seed)
	r := world.NewRealm(rec.ID, rec.ID, gen, g.tickRate, g.movementParams, g.mux, g.store, g.flusher, g.bus)

	g.mu.Lock()
	g.realms[rec.ID] = r
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		r.Run(g.ctx)
	}()

	g.wg.Add(1)
	go g.relayPlayerCounts(rec.ID, r)

	return r, nil
}

// relayPlayerCounts forwards every count received on the realm's
// PlayerCountUpdates channel to the registry's cross-node broadcast (C7),
// until Realm.Stop closes that channel.
func (g *Gateway) relayPlayerCounts(worldID string, r *world.Realm) {
	defer g.wg.Done()
	for count := range r.PlayerCountUpdates() {
		if err := g.registry.BroadcastPlayerCount(g.ctx, worldID, count); err != nil {
			logging.Warn("gateway: broadcast player count for %s: %v", worldID, err)
		}
	}
}

// Run starts the gateway's background sweep for expired dormant sessions.
func (g *Gateway) Run(sweepInterval time.Duration) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.ctx.Done():
				return
			case <-ticker.C:
				for _, exp := range g.sessions.SweepExpiredDormant() {
					if r, ok := g.realm(exp.RealmID); ok {
						r.Despawn(exp.EntityID)
					}
					logging.Info("gateway: session %s expired from realm %s", exp.ClientID, exp.RealmID)
				}
			}
		}
	}()
}

// Shutdown stops every owned realm and waits for their tick loops and relay
// goroutines to exit.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	realms := make([]*world.Realm, 0, len(g.realms))
	for _, r := range g.realms {
		realms = append(realms, r)
	}
	g.mu.Unlock()

	for _, r := range realms {
		r.Stop()
	}
	g.cancel()
	g.wg.Wait()
}

func cvarsFromParams(p movement.Params) protocol.CVars {
	return protocol.CVars{
		Gravity:         p.Gravity,
		Friction:        p.Friction,
		Accelerate:      p.Accelerate,
		AirAccelerate:   p.AirAccelerate,
		AirWishCap:      p.AirWishCap,
		StopSpeed:       p.StopSpeed,
		NoBunnyHop:      p.NoBunnyHop,
		SmallJumps:      p.SmallJumps,
		TimeScale:       p.TimeScale,
		StepUpThreshold: p.StepUpThreshold,
		JumpVelocity:    p.JumpVelocity,
	}
}
