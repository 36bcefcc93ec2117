// Package router implements the Local Router (C5) and Distributed
// Router (C6): the bounded-channel dispatcher that resolves a signal's
// target, runs it through the managed neuron, parses the resulting
// transcript into child signals, and re-enqueues them.
package router

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/registry"
	"github.com/axonmesh/axonmesh/pkg/routing"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// inboundCapacity is the bounded channel capacity named in §4.5.
const inboundCapacity = 1000

// dispatcherBuffer bounds each per-target dispatch queue; it exists so a
// burst to one busy neuron doesn't itself need to block the main worker
// once the per-target goroutine has accepted it.
const dispatcherBuffer = 64

// Dispatch is how the local router hands a resolved signal onward once
// it has parsed a transcript: re-routing a child may mean re-entering
// this router (target is local) or handing off to the distributed
// router (target is remote). The distributed router installs itself
// here; a bare LocalRouter defaults to routing children through itself,
// which only works when every neuron is local.
type Dispatch func(ctx context.Context, sig signal.Signal) error

// LocalRouter is the per-server signal dispatcher described in §4.5.
type LocalRouter struct {
	reg     *registry.Registry
	table   *routing.Table
	maxHops int

	// Next routes a child signal onward. Defaults to r.SendSignal; the
	// distributed router overwrites this with its own route_signal so
	// remote-bound children leave through the peer transport instead of
	// looping back into this router's own queue.
	Next Dispatch

	// OnMaxHopsExceeded, if set, is called (metered, per §4.5) every time
	// a signal is dropped for exceeding the hop limit.
	OnMaxHopsExceeded func(sig signal.Signal)

	// OnSignalProcessed, if set, is called once a signal finishes
	// processing on a local neuron; the reorganization controller uses
	// this to drive its periodic evaluation cadence.
	OnSignalProcessed func(sig signal.Signal)

	inbound chan signal.Signal
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	dispatchMu  sync.Mutex
	dispatchers map[string]chan signal.Signal
}

// NewLocal constructs a local router bound to reg/table. maxHops <= 0
// falls back to the default of 5.
func NewLocal(reg *registry.Registry, table *routing.Table, maxHops int) *LocalRouter {
	if maxHops <= 0 {
		maxHops = 5
	}
	r := &LocalRouter{
		reg:         reg,
		table:       table,
		maxHops:     maxHops,
		inbound:     make(chan signal.Signal, inboundCapacity),
		dispatchers: make(map[string]chan signal.Signal),
	}
	r.Next = r.SendSignal
	return r
}

// Start begins the main dequeue worker.
func (r *LocalRouter) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.run()
}

// Shutdown stops the main worker and every per-target dispatcher,
// waiting for in-flight work to observe cancellation.
func (r *LocalRouter) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSignal enqueues sig for processing, awaiting capacity. A caller
// cancelling ctx while the bounded channel is full gets ctx.Err().
func (r *LocalRouter) SendSignal(ctx context.Context, sig signal.Signal) error {
	if sig.Hops > r.maxHops {
		if r.OnMaxHopsExceeded != nil {
			r.OnMaxHopsExceeded(sig)
		}
		return coreerr.New(coreerr.KindMaxHopsExceeded, "signal exceeded max hops")
	}
	select {
	case r.inbound <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return coreerr.New(coreerr.KindTimeout, "router shut down")
	}
}

func (r *LocalRouter) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case sig := <-r.inbound:
			r.dispatcherFor(sig.ReceiverID) <- sig
		}
	}
}

// dispatcherFor returns the per-target queue for neuronID, starting its
// consumer goroutine on first use. This is what gives per-target FIFO
// ordering while allowing different targets to process concurrently.
func (r *LocalRouter) dispatcherFor(neuronID string) chan signal.Signal {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	ch, ok := r.dispatchers[neuronID]
	if ok {
		return ch
	}
	ch = make(chan signal.Signal, dispatcherBuffer)
	r.dispatchers[neuronID] = ch
	r.wg.Add(1)
	go r.runDispatcher(neuronID, ch)
	return ch
}

func (r *LocalRouter) runDispatcher(neuronID string, ch chan signal.Signal) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case sig := <-ch:
			r.process(sig)
		}
	}
}

func (r *LocalRouter) process(sig signal.Signal) {
	loc, err := r.table.Resolve(sig.ReceiverID)
	if err != nil {
		log.Printf("router: %s: %v", sig.ReceiverID, err)
		return
	}
	if !loc.Local {
		// Resolved away from local between enqueue and dequeue (e.g. a
		// reorganization migrated the neuron); hand it to Next again so
		// a distributed router gets a chance to route it remotely.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Next(ctx, sig); err != nil {
			log.Printf("router: re-route of %s to remote owner failed: %v", sig.ReceiverID, err)
		}
		return
	}

	target, err := r.reg.Get(sig.ReceiverID)
	if err != nil {
		log.Printf("router: %s: %v", sig.ReceiverID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	transcript, err := target.ProcessSignal(ctx, sig)
	cancel()
	if err != nil {
		log.Printf("router: processing %s on %s failed: %v", sig.ID, sig.ReceiverID, err)
		return
	}
	if r.OnSignalProcessed != nil {
		r.OnSignalProcessed(sig)
	}
	if sig.Direction == signal.Backward {
		return
	}
	r.enqueueChildren(sig, target, transcript)
}

func (r *LocalRouter) enqueueChildren(parent signal.Signal, target registry.Neuron, transcript string) {
	forward, backward := r.declaredConnections(parent.ReceiverID)

	for _, c := range parseTranscript(transcript) {
		if c.backward {
			for _, id := range c.targets {
				if _, ok := backward[id]; !ok {
					log.Printf("router: dropping BACKWARD_TO %s: not a declared backward-connection of %s", id, parent.ReceiverID)
					continue
				}
				grad := signal.Gradient{ErrorKind: c.errorType, Magnitude: 0.5}
				child := parent.ChildGradient(id, r.layerOf(id), grad)
				r.dispatchChild(child)
			}
			continue
		}
		for _, id := range c.targets {
			if _, ok := forward[id]; !ok {
				log.Printf("router: dropping FORWARD_TO %s: not a declared forward-connection of %s", id, parent.ReceiverID)
				continue
			}
			child := parent.Child(id, r.layerOf(id), c.content, 1.0)
			r.dispatchChild(child)
		}
	}
}

func (r *LocalRouter) dispatchChild(child signal.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.Next(ctx, child); err != nil {
		log.Printf("router: failed to enqueue child signal %s: %v", child.ID, err)
	}
}

func (r *LocalRouter) layerOf(neuronID string) signal.Layer {
	if n, err := r.reg.Get(neuronID); err == nil {
		return n.Layer()
	}
	return ""
}

// declaredConnections reports neuronID's forward/backward connection
// sets as declared at construction, used to validate transcript-parsed
// targets. Non-neuron.Neuron handles (shouldn't occur in practice) yield
// empty sets, which drops everything with a logged warning rather than
// panicking.
func (r *LocalRouter) declaredConnections(neuronID string) (forward, backward map[string]struct{}) {
	n, err := r.reg.Get(neuronID)
	if err != nil {
		return nil, nil
	}
	type connectionDeclarer interface {
		ForwardConnections() map[string]struct{}
		BackwardConnections() map[string]struct{}
	}
	cd, ok := n.(connectionDeclarer)
	if !ok {
		return nil, nil
	}
	return cd.ForwardConnections(), cd.BackwardConnections()
}
