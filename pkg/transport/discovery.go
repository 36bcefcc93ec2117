package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/routing"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// announcement is the UDP multicast discovery payload (§6).
type announcement struct {
	ServerID string            `json:"server_id"`
	BindAddr string            `json:"bind_address"`
	Neurons  []AnnouncedNeuron `json:"neurons"`
	Ts       int64             `json:"ts"`
}

// AnnouncedNeuron is one neuron entry in a discovery announcement.
type AnnouncedNeuron struct {
	ID    string       `json:"id"`
	Layer signal.Layer `json:"layer"`
}

// Discovery announces this server's local neurons over UDP multicast
// and listens for other servers' announcements, updating table and
// declaring peers unreachable once they've missed enough intervals.
type Discovery struct {
	serverID    string
	bindAddr    string
	group       string
	port        int
	interval    time.Duration
	missedLimit int

	table *routing.Table

	localNeuronsMu sync.RWMutex
	localNeurons   []AnnouncedNeuron

	lastSeenMu sync.Mutex
	lastSeen   map[string]time.Time
	lastTs     map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDiscovery constructs a discovery announcer/listener.
func NewDiscovery(serverID, bindAddr, group string, port int, interval time.Duration, missedLimit int) *Discovery {
	return &Discovery{
		serverID:    serverID,
		bindAddr:    bindAddr,
		group:       group,
		port:        port,
		interval:    interval,
		missedLimit: missedLimit,
		lastSeen:    make(map[string]time.Time),
		lastTs:      make(map[string]int64),
	}
}

// SetLocalNeurons replaces the neuron list advertised in announcements.
func (d *Discovery) SetLocalNeurons(neurons []AnnouncedNeuron) {
	d.localNeuronsMu.Lock()
	d.localNeurons = neurons
	d.localNeuronsMu.Unlock()
}

// Start begins the announce loop, the listen loop, and the
// missed-interval sweep against table.
func (d *Discovery) Start(table *routing.Table) error {
	d.table = table
	d.ctx, d.cancel = context.WithCancel(context.Background())

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", d.group, d.port))
	if err != nil {
		return fmt.Errorf("resolve multicast group: %w", err)
	}

	listenConn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("join multicast group: %w", err)
	}

	d.wg.Add(3)
	go d.announceLoop(addr)
	go d.listenLoop(listenConn)
	go d.sweepLoop()
	return nil
}

// Shutdown stops all background loops.
func (d *Discovery) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Discovery) announceLoop(addr *net.UDPAddr) {
	defer d.wg.Done()
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Printf("transport: discovery: dial multicast group: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.announce(conn)
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Discovery) announce(conn *net.UDPConn) {
	d.localNeuronsMu.RLock()
	neurons := append([]AnnouncedNeuron(nil), d.localNeurons...)
	d.localNeuronsMu.RUnlock()

	msg := announcement{ServerID: d.serverID, BindAddr: d.bindAddr, Neurons: neurons, Ts: time.Now().Unix()}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("transport: discovery: marshal announcement: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Printf("transport: discovery: send announcement: %v", err)
	}
}

func (d *Discovery) listenLoop(conn *net.UDPConn) {
	defer d.wg.Done()
	defer conn.Close()

	go func() {
		<-d.ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				continue
			}
		}
		var msg announcement
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.ServerID == d.serverID {
			continue // don't process our own announcements
		}
		d.handleAnnouncement(msg)
	}
}

func (d *Discovery) handleAnnouncement(msg announcement) {
	d.lastSeenMu.Lock()
	if prevTs, ok := d.lastTs[msg.ServerID]; ok && msg.Ts <= prevTs {
		d.lastSeenMu.Unlock()
		return // stale, out-of-order announcement
	}
	d.lastSeen[msg.ServerID] = time.Now()
	d.lastTs[msg.ServerID] = msg.Ts
	d.lastSeenMu.Unlock()

	d.table.MarkDegraded(msg.ServerID, false)
	for _, n := range msg.Neurons {
		d.table.SetRemote(n.ID, msg.ServerID)
	}
}

func (d *Discovery) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweepUnreachable()
		}
	}
}

// sweepUnreachable marks peers unreachable once they've missed more than
// missedLimit announcement intervals (§4.7).
func (d *Discovery) sweepUnreachable() {
	deadline := time.Duration(d.missedLimit) * d.interval

	d.lastSeenMu.Lock()
	defer d.lastSeenMu.Unlock()
	for serverID, seen := range d.lastSeen {
		if time.Since(seen) > deadline {
			log.Printf("transport: discovery: %s unreachable (no announcement in %s)", serverID, deadline)
			d.table.MarkDegraded(serverID, true)
		}
	}
}
