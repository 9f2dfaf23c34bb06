package network

import (
	"context"
	"sync"
	"time"

	"github.com/tilerealm/server/internal/protocol"
)

// LoopbackChannel is an in-process NetChannel for single-binary tests and
// local play: Send delivers straight to a paired inbound queue instead of
// crossing a socket.
type LoopbackChannel struct {
	clientID string
	inbox    chan []byte

	mu    sync.Mutex
	stats ConnectionStats
}

// NewLoopbackChannel returns a channel whose Sent payloads can be read back
// via Inbox, for tests that want to assert on exactly what was sent.
func NewLoopbackChannel(clientID string) *LoopbackChannel {
	return &LoopbackChannel{
		clientID: clientID,
		inbox:    make(chan []byte, 256),
		stats:    ConnectionStats{Connected: true, RemoteAddr: "loopback:" + clientID, LastActivity: time.Now()},
	}
}

func (c *LoopbackChannel) Send(ctx context.Context, ch protocol.Channel, payload []byte) error {
	select {
	case c.inbox <- payload:
	default:
		// inbox full: drop rather than block the tick goroutine.
	}
	c.mu.Lock()
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(payload))
	c.stats.LastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// Inbox exposes the queue of payloads sent on this channel.
func (c *LoopbackChannel) Inbox() <-chan []byte { return c.inbox }

func (c *LoopbackChannel) Close() error {
	c.mu.Lock()
	c.stats.Connected = false
	c.mu.Unlock()
	return nil
}

func (c *LoopbackChannel) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.RemoteAddr
}

func (c *LoopbackChannel) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
