// Package topology implements the Direct-Connection Network (C8) and
// the Self-Reorganization Controller (C9): a lateral graph of learned
// connections between units, independent of layer-by-layer routing, that
// strengthens, prunes, and reshapes itself from observed co-activation.
package topology

import (
	"math"
	"sync"
	"time"

	"github.com/katalvlaran/lvlath/graph/algorithms"
	"github.com/katalvlaran/lvlath/graph/core"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/eventbus"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// Unit is one node the direct-connection network knows about: a thin
// handle (id + layer), not the neuron runtime itself.
type Unit struct {
	ID    string
	Layer signal.Layer
}

// edgeState is the per-connection learning state. lvlath's core.Edge
// only carries an int64 Weight, so the graph is used for structural
// queries (adjacency, DFS) while strength/plasticity/usage — the values
// the Hebbian update and pruning rules actually mutate — live here,
// keyed by "src\x00dst".
type edgeState struct {
	strength     float64
	plasticity   float64
	lastActivity time.Time
	usageCount   int
}

const defaultPlasticity = 0.1

// Output is one delivery produced by Propagate.
type Output struct {
	TargetID          string
	ConnectionStrength float64
	Content            string
}

// Network is the direct-connection network (C8).
type Network struct {
	mu sync.Mutex

	graph *core.Graph
	units map[string]Unit
	edges map[string]*edgeState

	// correlate supplies the co-activation proxy for an edge. It is the
	// function passed to New, or a constant 0.5 when none is given; the
	// network itself computes no windowed co-activation.
	correlate func(src, dst string) float64

	Events *eventbus.Bus
}

// New constructs an empty direct-connection network. correlate, if nil,
// defaults to a constant 0.5 (neutral) proxy.
func New(events *eventbus.Bus, correlate func(src, dst string) float64) *Network {
	if correlate == nil {
		correlate = func(string, string) float64 { return 0.5 }
	}
	return &Network{
		graph:     core.NewGraph(true, true),
		units:     make(map[string]Unit),
		edges:     make(map[string]*edgeState),
		correlate: correlate,
		Events:    events,
	}
}

func edgeKey(src, dst string) string { return src + "\x00" + dst }

// RegisterUnit adds a unit to the network.
func (n *Network) RegisterUnit(u Unit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.units[u.ID] = u
	n.graph.AddVertex(&core.Vertex{ID: u.ID, Metadata: map[string]any{"layer": string(u.Layer)}})
}

// Connect creates a directed connection src->dst with the given initial
// strength, enforcing the ±1-layer adjacency rule.
func (n *Network) Connect(src, dst string, initialStrength float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	su, sok := n.units[src]
	du, dok := n.units[dst]
	if !sok || !dok {
		return coreerr.New(coreerr.KindNotFound, "connect: unknown unit")
	}
	if diff := abs(su.Layer.Depth() - du.Layer.Depth()); diff > 1 {
		return coreerr.New(coreerr.KindRuleViolation, "connect: ±1-layer rule violated between "+src+" and "+dst)
	}

	n.graph.AddEdge(src, dst, int64(initialStrength*1e6))
	n.edges[edgeKey(src, dst)] = &edgeState{strength: clamp01(initialStrength), plasticity: defaultPlasticity, lastActivity: time.Now()}

	n.publish(eventbus.ConnectionFormed, map[string]any{"src": src, "dst": dst, "strength": initialStrength})
	return nil
}

// Propagate forward-propagates input through every edge out of src whose
// strength exceeds 0.1, scaling each output's connection_strength by the
// edge weight. Failures on individual targets are logged and skipped —
// in this implementation there is no per-target failure mode beyond a
// missing edge weight, so every live edge yields an output.
func (n *Network) Propagate(src, content string) []Output {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []Output
	for _, nbr := range n.graph.Neighbors(src) {
		st, ok := n.edges[edgeKey(src, nbr.ID)]
		if !ok || st.strength <= 0.1 {
			continue
		}
		st.usageCount++
		st.lastActivity = time.Now()
		out = append(out, Output{TargetID: nbr.ID, ConnectionStrength: st.strength, Content: content})
	}
	return out
}

// HandleFailure removes unit u, first bridging every (in-neighbour,
// out-neighbour) pair within the ±1-layer rule with a bypass edge of
// strength 0.5 (§4.8 failure handling).
func (n *Network) HandleFailure(unitID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	u, ok := n.units[unitID]
	if !ok {
		return
	}

	var inNeighbours, outNeighbours []string
	for _, e := range n.graph.Edges() {
		if e.To.ID == unitID {
			inNeighbours = append(inNeighbours, e.From.ID)
		}
		if e.From.ID == unitID {
			outNeighbours = append(outNeighbours, e.To.ID)
		}
	}

	for _, s := range inNeighbours {
		for _, t := range outNeighbours {
			if s == t {
				continue
			}
			sUnit, tUnit := n.units[s], n.units[t]
			if abs(sUnit.Layer.Depth()-tUnit.Layer.Depth()) > 1 {
				continue
			}
			n.graph.AddEdge(s, t, int64(0.5*1e6))
			n.edges[edgeKey(s, t)] = &edgeState{strength: 0.5, plasticity: defaultPlasticity, lastActivity: time.Now()}
			n.publishLocked(eventbus.SelfHealing, map[string]any{"bypass_src": s, "bypass_dst": t, "replaced": unitID})
		}
	}

	n.graph.RemoveVertex(unitID)
	delete(n.units, unitID)
	for key := range n.edges {
		if hasEndpoint(key, unitID) {
			delete(n.edges, key)
		}
	}
}

func hasEndpoint(key, id string) bool {
	for _, part := range splitKey(key) {
		if part == id {
			return true
		}
	}
	return false
}

func splitKey(key string) [2]string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return [2]string{key[:i], key[i+1:]}
		}
	}
	return [2]string{key, ""}
}

// Clusters runs DFS-based connected-component detection restricted to
// edges with strength > 0.5, returning components of size >= 3 (used by
// the reorganization controller's cluster-detection step).
func (n *Network) Clusters() [][]string {
	n.mu.Lock()
	strongGraph := core.NewGraph(false, false)
	for id := range n.units {
		strongGraph.AddVertex(&core.Vertex{ID: id})
	}
	for key, st := range n.edges {
		if st.strength <= 0.5 {
			continue
		}
		parts := splitKey(key)
		strongGraph.AddEdge(parts[0], parts[1], 0)
	}
	n.mu.Unlock()

	visited := make(map[string]bool)
	var components [][]string
	for id := range strongGraph.VerticesMap() {
		if visited[id] {
			continue
		}
		res, err := algorithms.DFS(strongGraph, id, nil)
		if err != nil {
			continue
		}
		var comp []string
		for _, v := range res.Order {
			if !visited[v.ID] {
				visited[v.ID] = true
				comp = append(comp, v.ID)
			}
		}
		if len(comp) >= 3 {
			components = append(components, comp)
		}
	}
	return components
}

func (n *Network) publish(kind eventbus.Kind, data map[string]any) {
	if n.Events != nil {
		n.Events.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}

// publishLocked is publish called while n.mu is already held; Bus.Publish
// takes its own internal lock so this is safe, it just documents intent.
func (n *Network) publishLocked(kind eventbus.Kind, data map[string]any) {
	n.publish(kind, data)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
