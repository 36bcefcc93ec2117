package router

import (
	"context"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/routing"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// PeerSender hands a signal to the outbound link for a remote server.
// pkg/transport's Hub implements this; it is declared here rather than
// imported concretely so the router package does not need to know about
// TCP framing or discovery.
type PeerSender interface {
	SendToServer(ctx context.Context, serverID string, sig signal.Signal) error
}

// DistributedRouter wraps a LocalRouter with remote dispatch (C6):
// table resolutions of Remote(server) go out over the peer transport
// under a remote-timeout deadline; everything else delegates to Local.
type DistributedRouter struct {
	Local *LocalRouter
	table *routing.Table
	peers PeerSender

	remoteTimeout time.Duration
}

// NewDistributed wraps local with remote dispatch via peers. Children
// parsed out of a transcript are routed back through RouteSignal (not
// Local.SendSignal directly) so they take the remote path when needed.
func NewDistributed(local *LocalRouter, table *routing.Table, peers PeerSender, remoteTimeout time.Duration) *DistributedRouter {
	if remoteTimeout <= 0 {
		remoteTimeout = 30 * time.Second
	}
	d := &DistributedRouter{Local: local, table: table, peers: peers, remoteTimeout: remoteTimeout}
	local.Next = d.RouteSignal
	return d
}

// RouteSignal implements route_signal: local delegation or a
// remote-timeout-bounded send over the peer transport. Remote failures
// are reported to the caller and are never retried automatically —
// idempotency of LM calls downstream is not guaranteed.
func (d *DistributedRouter) RouteSignal(ctx context.Context, sig signal.Signal) error {
	loc, err := d.table.Resolve(sig.ReceiverID)
	if err != nil {
		return err
	}
	if loc.Local {
		return d.Local.SendSignal(ctx, sig)
	}
	if d.peers == nil {
		return coreerr.New(coreerr.KindTransportError, "no peer transport configured")
	}

	remoteCtx, cancel := context.WithTimeout(ctx, d.remoteTimeout)
	defer cancel()
	if err := d.peers.SendToServer(remoteCtx, loc.ServerID, sig); err != nil {
		return coreerr.Wrap(coreerr.KindTransportError, "remote send to "+loc.ServerID+" failed", err)
	}
	return nil
}

// Start/Shutdown delegate to the wrapped local router; the distributed
// router itself owns no background goroutine beyond what peers provides.
func (d *DistributedRouter) Start()                          { d.Local.Start() }
func (d *DistributedRouter) Shutdown(ctx context.Context) error { return d.Local.Shutdown(ctx) }
