package resource

import (
	"strconv"
	"sync"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
)

// Strategy picks one node to satisfy a request among those with enough
// headroom.
type Strategy string

const (
	StrategyFirstFit     Strategy = "first_fit"
	StrategyLeastLoaded  Strategy = "least_loaded"
)

// Node is one registered cluster member's declared capacity.
type Node struct {
	ID          string
	CapacityCPU float64
	CapacityMem float64
}

// Cluster is the multi-node resource manager (§4.10): it registers
// nodes and, per request, picks one by a pluggable strategy.
type Cluster struct {
	*base
	strategy Strategy

	nodesMu sync.Mutex
	nodes   map[string]Node
	// held per (node, neuron) totals, keyed by allocation id -> node id
	allocNode map[string]string
}

func NewCluster(strategy Strategy) *Cluster {
	if strategy == "" {
		strategy = StrategyFirstFit
	}
	return &Cluster{
		base:      newBase(),
		strategy:  strategy,
		nodes:     make(map[string]Node),
		allocNode: make(map[string]string),
	}
}

// RegisterNode adds or updates a node's declared capacity.
func (c *Cluster) RegisterNode(n Node) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	c.nodes[n.ID] = n
}

// RemoveNode drops a node from the pool; it does not evict existing
// allocations already placed there.
func (c *Cluster) RemoveNode(id string) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	delete(c.nodes, id)
}

// nodeLoadsLocked computes per-node held CPU/mem totals from the live
// allocations map. Callers must already hold c.mu.
func (c *Cluster) nodeLoadsLocked() map[string][2]float64 {
	loads := make(map[string][2]float64, len(c.allocations))
	for allocID, a := range c.allocations {
		nodeID := c.allocNode[allocID]
		l := loads[nodeID]
		l[0] += a.CPUCores
		l[1] += a.MemoryMiB
		loads[nodeID] = l
	}
	return loads
}

// pickNodeLocked selects a node by c.strategy among candidates. Callers
// must already hold c.mu so the per-node loads it reads cannot change
// between selection and the allocation insert that follows.
func (c *Cluster) pickNodeLocked(candidates []Node, req Request) (Node, error) {
	loads := c.nodeLoadsLocked()

	var best Node
	bestLoad := -1.0
	found := false
	for _, n := range candidates {
		l := loads[n.ID]
		heldCPU, heldMem := l[0], l[1]
		if heldCPU+req.CPUCores > n.CapacityCPU || heldMem+req.MemoryMiB > n.CapacityMem {
			continue
		}
		if c.strategy == StrategyFirstFit {
			return n, nil
		}
		cpuUtil := heldCPU / maxf(n.CapacityCPU, 1)
		memUtil := heldMem / maxf(n.CapacityMem, 1)
		load := (cpuUtil + memUtil) / 2
		if !found || load < bestLoad {
			best, bestLoad, found = n, load, true
		}
	}
	if !found {
		return Node{}, coreerr.New(coreerr.KindResourceExhaust, "no node has sufficient headroom")
	}
	return best, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Allocate picks a node and admits the request as one critical section:
// the node-headroom check, the per-neuron limit check, and the insert
// all happen under a single c.mu acquisition, so two concurrent
// Allocate calls can never both observe headroom on the same node and
// both record against it.
func (c *Cluster) Allocate(req Request) (Allocation, error) {
	c.nodesMu.Lock()
	candidates := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		candidates = append(candidates, n)
	}
	c.nodesMu.Unlock()

	if len(candidates) == 0 {
		return Allocation{}, coreerr.New(coreerr.KindUnknownNode, "no nodes registered")
	}

	c.mu.Lock()

	var neuronCPU, neuronMem float64
	for _, a := range c.allocations {
		if a.HolderID == req.NeuronID {
			neuronCPU += a.CPUCores
			neuronMem += a.MemoryMiB
		}
	}
	if limit, ok := c.limits[req.NeuronID]; ok {
		if limit.MaxCPUCores > 0 && neuronCPU+req.CPUCores > limit.MaxCPUCores {
			c.mu.Unlock()
			return Allocation{}, coreerr.New(coreerr.KindLimitExceeded, "cpu limit exceeded for "+req.NeuronID)
		}
		if limit.MaxMemoryMiB > 0 && neuronMem+req.MemoryMiB > limit.MaxMemoryMiB {
			c.mu.Unlock()
			return Allocation{}, coreerr.New(coreerr.KindLimitExceeded, "memory limit exceeded for "+req.NeuronID)
		}
	}

	node, err := c.pickNodeLocked(candidates, req)
	if err != nil {
		c.mu.Unlock()
		return Allocation{}, err
	}

	c.nextID++
	now := time.Now()
	a := Allocation{
		ID:        idPrefix + strconv.FormatUint(c.nextID, 10),
		HolderID:  req.NeuronID,
		CPUCores:  req.CPUCores,
		MemoryMiB: req.MemoryMiB,
		GPUIDs:    req.GPUIDs,
		GrantedAt: now,
	}
	if req.TTL > 0 {
		a.ExpiresAt = now.Add(req.TTL)
	}
	c.allocations[a.ID] = a
	c.allocNode[a.ID] = node.ID
	c.mu.Unlock()

	c.publish(Metric{NeuronID: a.HolderID, CPUCores: a.CPUCores, MemoryMiB: a.MemoryMiB, At: now})
	return a, nil
}

func (c *Cluster) Release(allocationID string) error {
	c.mu.Lock()
	delete(c.allocNode, allocationID)
	c.mu.Unlock()
	return c.release(allocationID)
}

func (c *Cluster) Usage() Usage {
	cpuUsed, memUsed := c.heldTotals()
	totalCPU, totalMem := c.totalCapacity()
	return Usage{
		CPUCoresInUse:  cpuUsed,
		MemoryMiBInUse: memUsed,
		CPUUtil:        cpuUsed / maxf(totalCPU, 1),
		MemUtil:        memUsed / maxf(totalMem, 1),
	}
}

func (c *Cluster) Available() Usage {
	cpuUsed, memUsed := c.heldTotals()
	totalCPU, totalMem := c.totalCapacity()
	return Usage{
		CPUCoresInUse:  totalCPU - cpuUsed,
		MemoryMiBInUse: totalMem - memUsed,
		CPUUtil:        1 - cpuUsed/maxf(totalCPU, 1),
		MemUtil:        1 - memUsed/maxf(totalMem, 1),
	}
}

func (c *Cluster) totalCapacity() (cpu, mem float64) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	for _, n := range c.nodes {
		cpu += n.CapacityCPU
		mem += n.CapacityMem
	}
	return cpu, mem
}

func (c *Cluster) SetLimits(neuronID string, limits Limits) { c.setLimits(neuronID, limits) }

func (c *Cluster) Monitor(neuronID string) (<-chan Metric, func()) { return c.monitor(neuronID) }

func (c *Cluster) Shutdown() { c.shutdown() }
