// Package resource implements the resource manager (C10): CPU/memory
// accounting with per-requester limits, shared between a local variant
// (backed by real host headroom) and a cluster variant (node selection
// by a pluggable strategy).
package resource

import (
	"strconv"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
)

// Request describes one allocation ask.
type Request struct {
	NeuronID  string
	CPUCores  float64
	MemoryMiB float64
	GPUIDs    []string
	TTL       time.Duration // zero means no expiry
}

// Allocation is a granted request.
type Allocation struct {
	ID        string
	HolderID  string
	CPUCores  float64
	MemoryMiB float64
	GPUIDs    []string
	GrantedAt time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Limits caps what a single neuron may hold concurrently.
type Limits struct {
	MaxCPUCores  float64
	MaxMemoryMiB float64
}

// Usage is a point-in-time accounting snapshot.
type Usage struct {
	CPUCoresInUse  float64
	MemoryMiBInUse float64
	CPUUtil        float64 // fraction of declared capacity, [0,1]
	MemUtil        float64
}

// Metric is one sample delivered to a monitor stream.
type Metric struct {
	NeuronID  string
	CPUCores  float64
	MemoryMiB float64
	At        time.Time
}

// Manager is the shared interface both the local and cluster variants
// satisfy (§4.10).
type Manager interface {
	Allocate(req Request) (Allocation, error)
	Release(allocationID string) error
	Usage() Usage
	Available() Usage
	SetLimits(neuronID string, limits Limits)
	Monitor(neuronID string) (<-chan Metric, func())
	Shutdown()
}

const sweepInterval = time.Second
const monitorBuffer = 32

type monitorSub struct {
	neuronID string
	ch       chan Metric
}

// base holds the bookkeeping shared by Local and Cluster: live
// allocations, per-neuron limits, and the monitor fan-out.
type base struct {
	mu          sync.Mutex
	allocations map[string]Allocation
	limits      map[string]Limits
	nextID      uint64

	subMu sync.Mutex
	subs  map[uint64]monitorSub
	nextSub uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newBase() *base {
	b := &base{
		allocations: make(map[string]Allocation),
		limits:      make(map[string]Limits),
		subs:        make(map[uint64]monitorSub),
		stopCh:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.sweepLoop()
	return b
}

func (b *base) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweepExpired()
		}
	}
}

func (b *base) sweepExpired() {
	now := time.Now()
	b.mu.Lock()
	var expired []Allocation
	for id, a := range b.allocations {
		if !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
			expired = append(expired, a)
			delete(b.allocations, id)
		}
	}
	b.mu.Unlock()

	for _, a := range expired {
		b.publish(Metric{NeuronID: a.HolderID, CPUCores: 0, MemoryMiB: 0, At: now})
	}
}

// allocateLocked is the single critical section for admitting an
// allocation: it computes held totals, checks the per-neuron limit, and
// calls admit — which decides admissibility against whatever capacity
// notion the caller tracks (declared host capacity for Local, a chosen
// node's capacity for Cluster) — all under one b.mu acquisition, then
// inserts the allocation before releasing it. Two concurrent Allocate
// calls can no longer both observe headroom and both record: the
// second call's totals reflect the first call's insert.
func (b *base) allocateLocked(req Request, admit func(heldCPU, heldMem float64) error) (Allocation, error) {
	b.mu.Lock()

	var heldCPU, heldMem, neuronCPU, neuronMem float64
	for _, a := range b.allocations {
		heldCPU += a.CPUCores
		heldMem += a.MemoryMiB
		if a.HolderID == req.NeuronID {
			neuronCPU += a.CPUCores
			neuronMem += a.MemoryMiB
		}
	}

	if limit, ok := b.limits[req.NeuronID]; ok {
		if limit.MaxCPUCores > 0 && neuronCPU+req.CPUCores > limit.MaxCPUCores {
			b.mu.Unlock()
			return Allocation{}, coreerr.New(coreerr.KindLimitExceeded, "cpu limit exceeded for "+req.NeuronID)
		}
		if limit.MaxMemoryMiB > 0 && neuronMem+req.MemoryMiB > limit.MaxMemoryMiB {
			b.mu.Unlock()
			return Allocation{}, coreerr.New(coreerr.KindLimitExceeded, "memory limit exceeded for "+req.NeuronID)
		}
	}

	if err := admit(heldCPU, heldMem); err != nil {
		b.mu.Unlock()
		return Allocation{}, err
	}

	b.nextID++
	now := time.Now()
	a := Allocation{
		ID:        idPrefix + strconv.FormatUint(b.nextID, 10),
		HolderID:  req.NeuronID,
		CPUCores:  req.CPUCores,
		MemoryMiB: req.MemoryMiB,
		GPUIDs:    req.GPUIDs,
		GrantedAt: now,
	}
	if req.TTL > 0 {
		a.ExpiresAt = now.Add(req.TTL)
	}
	b.allocations[a.ID] = a
	b.mu.Unlock()

	b.publish(Metric{NeuronID: a.HolderID, CPUCores: a.CPUCores, MemoryMiB: a.MemoryMiB, At: a.GrantedAt})
	return a, nil
}

func (b *base) setLimits(neuronID string, limits Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits[neuronID] = limits
}

func (b *base) release(allocationID string) error {
	b.mu.Lock()
	a, ok := b.allocations[allocationID]
	if !ok {
		b.mu.Unlock()
		return coreerr.New(coreerr.KindNotFound, "allocation not found: "+allocationID)
	}
	delete(b.allocations, allocationID)
	b.mu.Unlock()

	b.publish(Metric{NeuronID: a.HolderID, CPUCores: 0, MemoryMiB: 0, At: time.Now()})
	return nil
}

func (b *base) heldTotals() (cpu, mem float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.allocations {
		cpu += a.CPUCores
		mem += a.MemoryMiB
	}
	return cpu, mem
}

func (b *base) monitor(neuronID string) (<-chan Metric, func()) {
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Metric, monitorBuffer)
	b.subs[id] = monitorSub{neuronID: neuronID, ch: ch}
	b.subMu.Unlock()

	return ch, func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

func (b *base) publish(m Metric) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sub := range b.subs {
		if sub.neuronID != "" && sub.neuronID != m.NeuronID {
			continue
		}
		select {
		case sub.ch <- m:
		default:
		}
	}
}

func (b *base) shutdown() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

const idPrefix = "alloc-"
