package topology

import (
	"sort"

	"github.com/axonmesh/axonmesh/pkg/eventbus"
)

const (
	pruneThreshold       = 0.05
	candidateCorrelation = 0.7
	candidateTopN        = 5
	motifMultiplier      = 1.1
	stabilizeFactor      = 0.95
	growFactor           = 1.05
	plasticityCap        = 0.5
)

// SelfOrganize runs one pass of the five-phase reorganization described
// in §4.8: Hebbian strength update, candidate discovery, pruning, motif
// strengthening, and emergence-score recomputation.
func (n *Network) SelfOrganize() float64 {
	n.updateStrengths()
	n.discoverCandidates()
	n.prune()
	n.strengthenMotifs()
	return n.EmergenceScore()
}

// updateStrengths is phase 1: Hebbian update with momentum, plus
// plasticity adaptation.
func (n *Network) updateStrengths() {
	n.mu.Lock()
	type job struct {
		key, src, dst string
	}
	jobs := make([]job, 0, len(n.edges))
	for key := range n.edges {
		parts := splitKey(key)
		jobs = append(jobs, job{key: key, src: parts[0], dst: parts[1]})
	}
	n.mu.Unlock()

	for _, j := range jobs {
		corr := n.correlate(j.src, j.dst)

		n.mu.Lock()
		st, ok := n.edges[j.key]
		if !ok {
			n.mu.Unlock()
			continue
		}
		delta := st.plasticity*(corr-0.5) + 0.9*st.strength*0.1
		st.strength = clamp01(st.strength + delta)
		if absf(delta) < 0.01 {
			st.plasticity *= stabilizeFactor
		} else {
			st.plasticity = minf(st.plasticity*growFactor, plasticityCap)
		}
		n.mu.Unlock()
	}
}

// discoverCandidates is phase 2: nominate unconnected, highly correlated,
// ±1-layer pairs, keeping only the top 5 by correlation.
func (n *Network) discoverCandidates() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.units))
	units := make(map[string]Unit, len(n.units))
	for id, u := range n.units {
		ids = append(ids, id)
		units[id] = u
	}
	existing := make(map[string]bool, len(n.edges))
	for key := range n.edges {
		existing[key] = true
	}
	n.mu.Unlock()

	type candidate struct {
		src, dst string
		corr     float64
	}
	var candidates []candidate
	for _, src := range ids {
		for _, dst := range ids {
			if src == dst || existing[edgeKey(src, dst)] {
				continue
			}
			if abs(units[src].Layer.Depth()-units[dst].Layer.Depth()) > 1 {
				continue
			}
			corr := n.correlate(src, dst)
			if corr > candidateCorrelation {
				candidates = append(candidates, candidate{src, dst, corr})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].corr > candidates[j].corr })
	if len(candidates) > candidateTopN {
		candidates = candidates[:candidateTopN]
	}
	for _, c := range candidates {
		_ = n.Connect(c.src, c.dst, c.corr)
	}
}

// prune is phase 3: drop every edge with strength below threshold.
func (n *Network) prune() {
	n.mu.Lock()
	var dropped []string
	for key, st := range n.edges {
		if st.strength < pruneThreshold {
			dropped = append(dropped, key)
		}
	}
	for _, key := range dropped {
		parts := splitKey(key)
		delete(n.edges, key)
		n.graph.RemoveEdge(parts[0], parts[1])
	}
	n.mu.Unlock()

	for _, key := range dropped {
		parts := splitKey(key)
		n.publish(eventbus.ConnectionPruned, map[string]any{"src": parts[0], "dst": parts[1]})
	}
}

// strengthenMotifs is phase 4: for every feed-forward triangle A->B->C
// with A->C present, multiply the A->C edge by 1.1 (capped at 1.0).
func (n *Network) strengthenMotifs() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for keyAB := range n.edges {
		ab := splitKey(keyAB)
		a, b := ab[0], ab[1]
		for keyBC := range n.edges {
			bc := splitKey(keyBC)
			if bc[0] != b {
				continue
			}
			c := bc[1]
			if c == a {
				continue
			}
			if ac, ok := n.edges[edgeKey(a, c)]; ok {
				ac.strength = clamp01(minf(ac.strength*motifMultiplier, 1.0))
			}
		}
	}
}

// EmergenceScore recomputes the network's emergence score (§4.8 phase 5).
func (n *Network) EmergenceScore() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.units) == 0 {
		return 0
	}
	avgEdges := float64(len(n.edges)) / float64(len(n.units))

	var crossLayer, total int
	for key := range n.edges {
		parts := splitKey(key)
		src, dst := n.units[parts[0]], n.units[parts[1]]
		total++
		if src.Layer != dst.Layer {
			crossLayer++
		}
	}
	var crossRatio float64
	if total > 0 {
		crossRatio = float64(crossLayer) / float64(total)
	}

	return 0.5*minf(avgEdges/10, 1) + 0.5*crossRatio
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
