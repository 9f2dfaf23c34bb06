package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/protocol"
)

// Multiplexer is the single point internal/world sends through: it
// implements world.Outbound (structurally, via the same Send signature) by
// looking up the client's registered NetChannel and forwarding. Each client
// registers one NetChannel: a WebSocketChannel carries both logical
// channels on its single ordered stream, and a KCPChannel routes them to
// its own reliable and unreliable paths.
type Multiplexer struct {
	mu      sync.RWMutex
	clients map[string]NetChannel
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{clients: make(map[string]NetChannel)}
}

// Register associates clientID with ch. Call once per connected transport;
// a client with independent sync/entities transports (native KCP) registers
// the same *KCPChannel once, since it already dispatches internally by
// protocol.Channel.
func (m *Multiplexer) Register(clientID string, ch NetChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = ch
}

// Unregister drops clientID, closing its channel if still present.
func (m *Multiplexer) Unregister(clientID string) {
	m.mu.Lock()
	ch, ok := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()
	if ok {
		if err := ch.Close(); err != nil {
			logging.Warn("network: closing channel for %s: %v", clientID, err)
		}
	}
}

// Send implements world.Outbound.
func (m *Multiplexer) Send(clientID string, ch protocol.Channel, payload []byte) error {
	m.mu.RLock()
	nc, ok := m.clients[clientID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("network: no channel registered for %s", clientID)
	}
	return nc.Send(context.Background(), ch, payload)
}

// Connected reports whether clientID currently has a registered channel.
func (m *Multiplexer) Connected(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[clientID]
	return ok
}

// Count returns the number of currently-registered channels.
func (m *Multiplexer) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
