package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/protocol"
)

// channelByte prefixes every WebSocket frame so both logical channels share
// the one ordered stream, per C9's WebSocket fallback.
const (
	channelByteSync     byte = 0
	channelByteEntities byte = 1
)

func channelToByte(ch protocol.Channel) byte {
	if ch == protocol.ChannelEntities {
		return channelByteEntities
	}
	return channelByteSync
}

func byteToChannel(b byte) protocol.Channel {
	if b == channelByteEntities {
		return protocol.ChannelEntities
	}
	return protocol.ChannelSync
}

// WebSocketChannel multiplexes both logical channels over a single ordered
// WebSocket connection, used when a client can't or won't negotiate KCP
// (browsers, restrictive NATs). Grounded on the teacher's
// internal/network/channel_server.go WebSocket upgrade path, generalized to
// carry the channel-id prefix byte instead of one implicit channel.
type WebSocketChannel struct {
	clientID string
	conn     *websocket.Conn

	messageSeq uint32
	reassembly *Reassembler
	onMessage  MessageHandler

	writeMu sync.Mutex
	stats   ConnectionStats
	statsMu sync.RWMutex
}

func newWebSocketChannel(clientID string, conn *websocket.Conn, onMessage MessageHandler) *WebSocketChannel {
	ch := &WebSocketChannel{
		clientID:   clientID,
		conn:       conn,
		reassembly: NewReassembler(10*time.Second, 256),
		onMessage:  onMessage,
	}
	ch.stats.Connected = true
	ch.stats.RemoteAddr = conn.RemoteAddr().String()
	ch.stats.LastActivity = time.Now()
	go ch.readLoop()
	return ch
}

func (c *WebSocketChannel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.statsMu.Lock()
			c.stats.Connected = false
			c.statsMu.Unlock()
			return
		}
		if len(data) < 1 {
			continue
		}
		// data[0] is the channel-id byte; it isn't part of the fragment
		// header the reassembler expects.
		payload, done, err := c.reassembly.Accept(c.clientID, data[1:])
		if err != nil {
			logging.Warn("network: websocket reassembly error for %s: %v", c.clientID, err)
			continue
		}
		c.statsMu.Lock()
		c.stats.PacketsReceived++
		c.stats.BytesReceived += uint64(len(data))
		c.stats.LastActivity = time.Now()
		c.statsMu.Unlock()
		if done && c.onMessage != nil {
			c.onMessage(c.clientID, payload)
		}
	}
}

func (c *WebSocketChannel) Send(ctx context.Context, ch protocol.Channel, payload []byte) error {
	id := atomic.AddUint32(&c.messageSeq, 1)
	prefix := channelToByte(ch)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sent := 0
	for _, frag := range FragmentMessage(id, payload) {
		framed := make([]byte, 0, len(frag)+1)
		framed = append(framed, prefix)
		framed = append(framed, frag...)
		if err := c.conn.WriteMessage(websocket.BinaryMessage, framed); err != nil {
			return fmt.Errorf("network: websocket send to %s failed: %w", c.clientID, err)
		}
		sent += len(framed)
	}

	c.statsMu.Lock()
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(sent)
	c.stats.LastActivity = time.Now()
	c.statsMu.Unlock()
	return nil
}

func (c *WebSocketChannel) Close() error {
	return c.conn.Close()
}

func (c *WebSocketChannel) RemoteAddr() string {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats.RemoteAddr
}

func (c *WebSocketChannel) Stats() ConnectionStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler returns an http.HandlerFunc that obtains the client id
// from clientIDOf, upgrades the request, and hands the new channel to
// onAccept. clientIDOf runs before the upgrade (main passes
// api.ClientIDFromRequest, which validates the request's token); an error
// from it rejects the request with 401.
func WebSocketHandler(clientIDOf func(*http.Request) (string, error), onAccept func(clientID string, ch *WebSocketChannel), onMessage MessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := clientIDOf(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("network: websocket upgrade failed for %s: %v", clientID, err)
			return
		}
		ch := newWebSocketChannel(clientID, conn, onMessage)
		if onAccept != nil {
			onAccept(clientID, ch)
		}
	}
}
