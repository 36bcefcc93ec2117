package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/routing"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// linkQueueCapacity bounds an outbound peer link's send queue.
const linkQueueCapacity = 256

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// IncomingSignal is delivered to Hub.OnSignal for every signal frame
// received from a peer, local-router side.
type IncomingSignal func(ctx context.Context, sig signal.Signal)

// link is one outbound multiplexed TCP connection to a remote server.
type link struct {
	serverID string
	addr     string

	mu   sync.Mutex
	conn net.Conn
	send chan []byte

	table *routing.Table
}

// Hub owns the server's TCP listener (accepting peer connections) and
// its outbound links to configured remote servers. It implements
// router.PeerSender.
type Hub struct {
	serverID   string
	listenAddr string

	table *routing.Table

	OnSignal IncomingSignal

	linksMu sync.RWMutex
	links   map[string]*link

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewHub constructs a hub bound to table. Call Start to bind the
// listener and Connect for each statically-configured remote server.
func NewHub(serverID, listenAddr string, table *routing.Table) *Hub {
	return &Hub{
		serverID:   serverID,
		listenAddr: listenAddr,
		table:      table,
		links:      make(map[string]*link),
	}
}

// Start binds the TCP listener and begins accepting peer connections.
func (h *Hub) Start() error {
	h.ctx, h.cancel = context.WithCancel(context.Background())
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		return fmt.Errorf("bind peer listener: %w", err)
	}
	h.listener = ln
	h.wg.Add(1)
	go h.acceptLoop()
	log.Printf("transport: peer listener bound on %s", h.listenAddr)
	return nil
}

// Shutdown closes the listener and every outbound link.
func (h *Hub) Shutdown() error {
	h.cancel()
	if h.listener != nil {
		_ = h.listener.Close()
	}
	h.linksMu.Lock()
	for _, l := range h.links {
		l.mu.Lock()
		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.mu.Unlock()
	}
	h.linksMu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return
			default:
				log.Printf("transport: accept error: %v", err)
				continue
			}
		}
		h.wg.Add(1)
		go h.serveConn(conn)
	}
}

func (h *Hub) serveConn(conn net.Conn) {
	defer h.wg.Done()
	defer conn.Close()

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			return // a read error or closed connection ends this stream; routing entries this peer set are left in place
		}
		switch f := frame.(type) {
		case SignalFrame:
			if h.OnSignal != nil {
				h.OnSignal(h.ctx, f.Signal)
			}
		case HelloFrame:
			for _, n := range f.Neurons {
				h.table.SetRemote(n.ID, f.ServerID)
			}
			log.Printf("transport: hello from %s (%d neurons)", f.ServerID, len(f.Neurons))
		}
	}
}

// Connect registers a statically-configured remote server and starts
// its outbound link's connect-and-retry loop.
func (h *Hub) Connect(serverID, addr string) {
	l := &link{serverID: serverID, addr: addr, send: make(chan []byte, linkQueueCapacity), table: h.table}
	h.linksMu.Lock()
	h.links[serverID] = l
	h.linksMu.Unlock()

	h.wg.Add(1)
	go h.runLink(l)
}

func (h *Hub) runLink(l *link) {
	defer h.wg.Done()
	backoff := initialBackoff

	for {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", l.addr, 5*time.Second)
		if err != nil {
			h.table.MarkDegraded(l.serverID, true)
			log.Printf("transport: dial %s (%s) failed: %v; retrying in %s", l.serverID, l.addr, err, backoff)
			if !sleepOrDone(h.ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		h.table.MarkDegraded(l.serverID, false)
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		if err := WriteFrame(conn, HelloFrame{Kind: KindHelloFrame, ServerID: h.serverID}); err != nil {
			log.Printf("transport: hello to %s failed: %v", l.serverID, err)
		}

		h.pumpLink(l, conn)

		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		h.table.MarkDegraded(l.serverID, true)
	}
}

// pumpLink writes queued frames to conn until it breaks or the hub
// shuts down.
func (h *Hub) pumpLink(l *link, conn net.Conn) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case data := <-l.send:
			if _, err := conn.Write(data); err != nil {
				log.Printf("transport: write to %s failed: %v", l.serverID, err)
				return
			}
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// SendToServer implements router.PeerSender: enqueues sig on serverID's
// outbound link's send queue. Degraded (disconnected) links fail fast
// per §4.7 rather than blocking for the full remote-timeout.
func (h *Hub) SendToServer(ctx context.Context, serverID string, sig signal.Signal) error {
	h.linksMu.RLock()
	l, ok := h.links[serverID]
	h.linksMu.RUnlock()
	if !ok {
		return coreerr.New(coreerr.KindTransportError, "no peer link configured for server "+serverID)
	}

	l.mu.Lock()
	connected := l.conn != nil
	l.mu.Unlock()
	if !connected {
		return coreerr.New(coreerr.KindTransportError, "peer link to "+serverID+" is degraded")
	}

	frame := SignalFrame{Kind: KindSignalFrame, Signal: sig}
	data, err := marshalFrameBytes(frame)
	if err != nil {
		return coreerr.Wrap(coreerr.KindTransportError, "encode signal frame", err)
	}

	select {
	case l.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// marshalFrameBytes produces the exact length-prefixed bytes WriteFrame
// would write, without requiring a live io.Writer up front (the send
// queue buffers raw bytes, not frame values).
func marshalFrameBytes(v any) ([]byte, error) {
	var buf countingBuffer
	if err := WriteFrame(&buf, v); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type countingBuffer struct{ data []byte }

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
