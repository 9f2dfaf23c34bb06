package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/protocol"
)

// KCPChannel is the native dual-channel transport: `sync` rides an ordered,
// reliable KCP stream (retransmission, congestion control); `entities`
// writes raw unreliable UDP datagrams to the same remote address, sharing
// the session's client id as a routing key since the datagram socket itself
// is connectionless. Grounded on the teacher's internal/network/kcp_channel.go
// send/receive-loop shape, generalized from one protobuf-framed stream to
// this two-transport split.
type KCPChannel struct {
	clientID string
	sync     *kcp.UDPSession
	entities *net.UDPConn
	entityTo *net.UDPAddr

	messageSeq uint32
	reassembly *Reassembler
	onMessage  MessageHandler

	stats ConnectionStats
	mu    sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newKCPChannel wires up one client's dual connections and starts its
// receive loops. entities may be nil if the client only negotiated the
// reliable stream (in which case Send falls back to it for both channels).
func newKCPChannel(clientID string, syncConn *kcp.UDPSession, entitiesConn *net.UDPConn, entityTo *net.UDPAddr, onMessage MessageHandler) *KCPChannel {
	syncConn.SetStreamMode(true)
	syncConn.SetWriteDelay(false)
	syncConn.SetNoDelay(1, 20, 2, 1)
	syncConn.SetWindowSize(512, 512)
	syncConn.SetMtu(1400)

	ctx, cancel := context.WithCancel(context.Background())
	ch := &KCPChannel{
		clientID:   clientID,
		sync:       syncConn,
		entities:   entitiesConn,
		entityTo:   entityTo,
		reassembly: NewReassembler(10*time.Second, 256),
		onMessage:  onMessage,
		cancel:     cancel,
	}
	ch.stats.Connected = true
	ch.stats.RemoteAddr = syncConn.RemoteAddr().String()
	ch.stats.LastActivity = time.Now()

	ch.wg.Add(1)
	go ch.readSyncLoop(ctx)
	return ch
}

// readSyncLoop reads length-prefixed, fragmented messages off the reliable
// stream and feeds them to the reassembler.
func (c *KCPChannel) readSyncLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.sync.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := c.sync.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logging.Warn("network: kcp sync read from %s failed: %v", c.clientID, err)
			return
		}
		c.handleFragment(buf[:n])
	}
}

// ReceiveDatagram feeds one unreliable `entities` datagram in, called by the
// shared KCPListener's UDP read loop since all clients share one socket.
func (c *KCPChannel) ReceiveDatagram(data []byte) {
	c.handleFragment(data)
}

func (c *KCPChannel) handleFragment(data []byte) {
	payload, done, err := c.reassembly.Accept(c.clientID, data)
	if err != nil {
		logging.Warn("network: reassembly error for %s: %v", c.clientID, err)
		return
	}
	c.mu.Lock()
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(len(data))
	c.stats.LastActivity = time.Now()
	c.mu.Unlock()
	if done && c.onMessage != nil {
		c.onMessage(c.clientID, payload)
	}
}

// Send writes payload on the channel matching ch: the reliable KCP stream
// for ChannelSync, the raw UDP socket for ChannelEntities (falling back to
// the stream if no entities socket was negotiated).
func (c *KCPChannel) Send(ctx context.Context, ch protocol.Channel, payload []byte) error {
	id := atomic.AddUint32(&c.messageSeq, 1)
	frags := FragmentMessage(id, payload)

	var sendOne func([]byte) error
	if ch == protocol.ChannelEntities && c.entities != nil {
		sendOne = func(b []byte) error {
			_, err := c.entities.WriteToUDP(b, c.entityTo)
			return err
		}
	} else {
		sendOne = func(b []byte) error {
			_, err := c.sync.Write(b)
			return err
		}
	}

	for _, f := range frags {
		if err := sendOne(f); err != nil {
			return fmt.Errorf("network: kcp send to %s failed: %w", c.clientID, err)
		}
	}

	c.mu.Lock()
	c.stats.PacketsSent += uint64(len(frags))
	for _, f := range frags {
		c.stats.BytesSent += uint64(len(f))
	}
	c.stats.LastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *KCPChannel) Close() error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.stats.Connected = false
	c.mu.Unlock()
	return c.sync.Close()
}

func (c *KCPChannel) RemoteAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.RemoteAddr
}

func (c *KCPChannel) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// KCPListener accepts the reliable `sync` stream for new clients and
// demultiplexes the shared unreliable `entities` socket by remote address.
type KCPListener struct {
	syncListener *kcp.Listener
	entitiesConn *net.UDPConn
	onAccept     func(clientID string, ch *KCPChannel)
	onMessage    MessageHandler

	mu         sync.Mutex
	byAddr     map[string]*KCPChannel
	nextClient uint64
	stop       chan struct{}
}

// ListenKCP binds both the reliable stream listener and the raw UDP socket
// used for unreliable entity frames, and starts their accept/read loops.
func ListenKCP(syncAddr, entitiesAddr string, onAccept func(clientID string, ch *KCPChannel), onMessage MessageHandler) (*KCPListener, error) {
	syncLn, err := kcp.ListenWithOptions(syncAddr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("network: kcp listen on %s: %w", syncAddr, err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", entitiesAddr)
	if err != nil {
		syncLn.Close()
		return nil, fmt.Errorf("network: resolve entities addr %s: %w", entitiesAddr, err)
	}
	entitiesConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		syncLn.Close()
		return nil, fmt.Errorf("network: listen udp on %s: %w", entitiesAddr, err)
	}

	l := &KCPListener{
		syncListener: syncLn,
		entitiesConn: entitiesConn,
		onAccept:     onAccept,
		onMessage:    onMessage,
		byAddr:       make(map[string]*KCPChannel),
		stop:         make(chan struct{}),
	}
	go l.acceptLoop()
	go l.entitiesReadLoop()
	return l, nil
}

func (l *KCPListener) acceptLoop() {
	for {
		conn, err := l.syncListener.AcceptKCP()
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
				logging.Error("network: kcp accept failed: %v", err)
				return
			}
		}
		l.nextClient++
		clientID := fmt.Sprintf("kcp-%d", l.nextClient)

		remote, ok := conn.RemoteAddr().(*net.UDPAddr)
		if !ok {
			logging.Error("network: kcp session for %s has non-UDP remote addr", clientID)
			conn.Close()
			continue
		}
		ch := newKCPChannel(clientID, conn, l.entitiesConn, remote, l.onMessage)

		l.mu.Lock()
		l.byAddr[remote.String()] = ch
		l.mu.Unlock()

		if l.onAccept != nil {
			l.onAccept(clientID, ch)
		}
	}
}

// entitiesReadLoop demultiplexes the shared unreliable socket by source
// address, since each client's `entities` traffic arrives on the one
// listening UDP socket rather than its own connection.
func (l *KCPListener) entitiesReadLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := l.entitiesConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
				logging.Warn("network: entities socket read failed: %v", err)
				continue
			}
		}
		l.mu.Lock()
		ch, ok := l.byAddr[addr.String()]
		l.mu.Unlock()
		if !ok {
			continue // datagram from an address with no established sync session yet
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ch.ReceiveDatagram(data)
	}
}

func (l *KCPListener) Close() error {
	close(l.stop)
	err := l.syncListener.Close()
	l.entitiesConn.Close()
	return err
}
