// Package registry implements the concurrent neuron registry (C2): a
// sharded map of neuron-id -> handle with per-layer indices. Writers take
// an exclusive lock on the shard owning an id, so registering n1 never
// blocks a concurrent lookup of n2 hashed to a different shard. Register
// and Remove also take the registry-wide layer-index lock briefly after
// releasing the shard lock.
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// Health is the snapshot returned by a neuron's Health method and surfaced
// through the registry's health_check operation.
type Health struct {
	State            string
	SignalsProcessed uint64
	Errors           uint64
	UptimeSeconds    float64
	LastSignal       time.Time
}

// Neuron is the handle the registry stores. The registry never holds a
// pointer into neuron-internal state beyond this interface — resolution
// always goes back through the registry by id, per the cyclic-dependency
// break described for the router/registry relationship.
type Neuron interface {
	ID() string
	Layer() signal.Layer
	Health() Health
	Shutdown(ctx context.Context) error
	ProcessSignal(ctx context.Context, sig signal.Signal) (string, error)
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	neurons map[string]Neuron
}

// Registry is the concurrent neuron registry.
type Registry struct {
	shards [shardCount]*shard

	// layerMu guards layerIndex, a convenience index that Register and
	// Remove update eagerly after their shard write. It is a single
	// registry-wide lock: ByLayer's read lock and the index updates of
	// Register/Remove contend on it, while Get and Exists never take it.
	layerMu    sync.RWMutex
	layerIndex map[signal.Layer]map[string]struct{}
}

// New constructs an empty registry.
func New() *Registry {
	r := &Registry{layerIndex: make(map[signal.Layer]map[string]struct{})}
	for i := range r.shards {
		r.shards[i] = &shard{neurons: make(map[string]Neuron)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a neuron under its id. Idempotent on id: a second
// registration with the same id returns AlreadyExists rather than
// overwriting the existing handle.
func (r *Registry) Register(n Neuron) error {
	s := r.shardFor(n.ID())
	s.mu.Lock()
	if _, exists := s.neurons[n.ID()]; exists {
		s.mu.Unlock()
		return coreerr.New(coreerr.KindAlreadyExists, "neuron "+n.ID()+" already registered")
	}
	s.neurons[n.ID()] = n
	s.mu.Unlock()

	r.layerMu.Lock()
	if r.layerIndex[n.Layer()] == nil {
		r.layerIndex[n.Layer()] = make(map[string]struct{})
	}
	r.layerIndex[n.Layer()][n.ID()] = struct{}{}
	r.layerMu.Unlock()
	return nil
}

// Get resolves an id to its handle.
func (r *Registry) Get(id string) (Neuron, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.neurons[id]
	if !ok {
		return nil, coreerr.New(coreerr.KindNotFound, "neuron "+id+" not found")
	}
	return n, nil
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.neurons[id]
	return ok
}

// ByLayer returns every neuron id registered under layer.
func (r *Registry) ByLayer(layer signal.Layer) []string {
	r.layerMu.RLock()
	defer r.layerMu.RUnlock()
	ids := make([]string, 0, len(r.layerIndex[layer]))
	for id := range r.layerIndex[layer] {
		ids = append(ids, id)
	}
	return ids
}

// All returns every registered neuron id.
func (r *Registry) All() []string {
	ids := make([]string, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.neurons {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	return ids
}

// Remove drops a neuron from the registry. It does not shut the neuron
// down; callers that want a clean stop should call Shutdown on the handle
// before or after removing it.
func (r *Registry) Remove(id string) error {
	s := r.shardFor(id)
	s.mu.Lock()
	n, ok := s.neurons[id]
	if !ok {
		s.mu.Unlock()
		return coreerr.New(coreerr.KindNotFound, "neuron "+id+" not found")
	}
	delete(s.neurons, id)
	s.mu.Unlock()

	r.layerMu.Lock()
	delete(r.layerIndex[n.Layer()], id)
	r.layerMu.Unlock()
	return nil
}

// ShutdownAll drives every registered neuron to Stopped, draining
// in-flight work before returning.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, shardCount)

	for _, s := range r.shards {
		s.mu.RLock()
		handles := make([]Neuron, 0, len(s.neurons))
		for _, n := range s.neurons {
			handles = append(handles, n)
		}
		s.mu.RUnlock()

		for _, n := range handles {
			wg.Add(1)
			go func(n Neuron) {
				defer wg.Done()
				if err := n.Shutdown(ctx); err != nil {
					errs <- err
				}
			}(n)
		}
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}

// HealthCheck returns the health snapshot for every registered neuron.
func (r *Registry) HealthCheck() map[string]Health {
	out := make(map[string]Health)
	for _, s := range r.shards {
		s.mu.RLock()
		for id, n := range s.neurons {
			out[id] = n.Health()
		}
		s.mu.RUnlock()
	}
	return out
}

// Count returns the total number of registered neurons.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.neurons)
		s.mu.RUnlock()
	}
	return n
}
