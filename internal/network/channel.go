// Package network is the transport multiplexer (C9): it gets an encoded
// wire payload from internal/world onto a connected client over whichever
// underlying transport that client negotiated, and delivers inbound bytes
// back up to a session's mailbox. Grounded on the teacher's
// internal/network/netchannel.go NetChannel abstraction and
// channel_factory.go's variant selection, generalized from a single
// protobuf-framed channel to the spec's dual sync/entities channel split.
package network

import (
	"context"
	"time"

	"github.com/tilerealm/server/internal/protocol"
)

// NetChannel is one underlying transport connection to a single client. A
// transport that only offers one ordered stream (WebSocket) serves both
// logical channels over it; one that offers two (KCP + raw UDP) dedicates
// one connection per protocol.Channel.
type NetChannel interface {
	Send(ctx context.Context, ch protocol.Channel, payload []byte) error
	Close() error
	RemoteAddr() string
	Stats() ConnectionStats
}

// ConnectionStats tracks per-channel transport health and is returned by
// NetChannel.Stats; no caller in the server reads it.
type ConnectionStats struct {
	Connected       bool
	RemoteAddr      string
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
}

// MessageHandler receives one fully reassembled inbound payload from
// clientID. The leading protocol.Type byte is still present; the handler
// dispatches on it.
type MessageHandler func(clientID string, payload []byte)

// ChannelConfig tunes a transport's buffering and liveness behavior.
type ChannelConfig struct {
	BufferSize int
	KeepAlive  time.Duration
	MTU        int
}

// DefaultChannelConfig matches the teacher's KCP tuning for low-latency
// game traffic.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		BufferSize: 256,
		KeepAlive:  10 * time.Second,
		MTU:        1400,
	}
}
