package topology

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonmesh/axonmesh/pkg/eventbus"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// NeuronStats is the subset of a neuron's runtime signal the controller
// needs to evaluate load imbalance and specialist promotion; the
// registry's Health snapshot plus its static layer is enough.
type NeuronStats struct {
	ID               string
	Layer            signal.Layer
	Activations      int
	ErrorRate        float64
	ProcessingTimeMs float64
	RecentActivity   float64
}

// Role is a tagged specialization assigned to a high-activity neuron.
type Role string

const (
	RoleFastProcessor Role = "Fast Processor"
	RoleHighAccuracy  Role = "High Accuracy"
	RoleHighThroughput Role = "High Throughput"
	RoleGeneralist    Role = "Generalist"
)

// ReorgConfig mirrors pkg/config.ReorgConfig's fields, kept as a local
// type so this package does not need to import pkg/config.
type ReorgConfig struct {
	EverySignals             int
	LoadImbalanceMax         float64
	InactiveEdgeAge          time.Duration
	InactiveEdgeUsage        int
	SpecialistMinActivations int
	SpecialistMinScore       float64
}

// StatsSource supplies the controller with a snapshot of every known
// neuron's layer and activity counters, and performs the migration this
// is wired to act on.
type StatsSource interface {
	Snapshot() []NeuronStats
	Migrate(neuronID string, toLayer signal.Layer)
}

// Controller is the self-reorganization controller (C9): it evaluates
// load imbalance, inactive-edge pruning, specialist promotion, and
// cluster detection every EverySignals processed signals.
type Controller struct {
	net    *Network
	stats  StatsSource
	events *eventbus.Bus
	cfg    ReorgConfig

	counter atomic.Uint64

	mu    sync.Mutex
	roles map[string]Role
}

// NewController constructs a reorganization controller.
func NewController(net *Network, stats StatsSource, events *eventbus.Bus, cfg ReorgConfig) *Controller {
	return &Controller{net: net, stats: stats, events: events, cfg: cfg, roles: make(map[string]Role)}
}

// OnSignalProcessed should be called once per signal processed anywhere
// in the network; it triggers Evaluate every EverySignals calls.
func (c *Controller) OnSignalProcessed() {
	n := c.counter.Add(1)
	every := uint64(c.cfg.EverySignals)
	if every == 0 {
		every = 100
	}
	if n%every == 0 {
		c.Evaluate()
	}
}

// Evaluate runs the four reorganization checks (§4.9 a-d) in this order:
// load imbalance, specialist promotion, cluster detection, then
// inactive-edge pruning.
func (c *Controller) Evaluate() {
	snapshot := c.stats.Snapshot()
	c.evaluateLoadImbalance(snapshot)
	c.evaluateSpecialists(snapshot)
	c.evaluateClusters()
	// Inactive-edge pruning is delegated to the network's own prune
	// path (§4.9b); the network's SelfOrganize already prunes by
	// strength, so here we additionally retire edges idle past
	// InactiveEdgeAge or under-used, which SelfOrganize's strength-only
	// rule would otherwise keep alive.
	c.pruneInactiveEdges()
}

func (c *Controller) evaluateLoadImbalance(snapshot []NeuronStats) {
	perLayer := make(map[signal.Layer]int)
	for _, s := range snapshot {
		perLayer[s.Layer]++
	}
	if len(perLayer) == 0 {
		return
	}

	counts := make([]float64, 0, len(perLayer))
	for _, n := range perLayer {
		counts = append(counts, float64(n))
	}
	mean := meanOf(counts)
	if mean == 0 {
		return
	}
	imbalance := stddevOf(counts, mean) / mean
	threshold := c.cfg.LoadImbalanceMax
	if threshold <= 0 {
		threshold = 0.3
	}
	if imbalance <= threshold {
		return
	}

	overloaded, underloaded := pickMigrationPair(perLayer, mean)
	if overloaded == "" || underloaded == "" {
		return
	}
	for _, s := range snapshot {
		if s.Layer == overloaded {
			c.stats.Migrate(s.ID, underloaded)
			c.publish(eventbus.LayerMigration, map[string]any{"neuron_id": s.ID, "from_layer": string(overloaded), "to_layer": string(underloaded)})
			return
		}
	}
}

// pickMigrationPair chooses an over-loaded layer and an adjacent
// under-loaded (< 0.7*mean) target, per §4.9a.
func pickMigrationPair(perLayer map[signal.Layer]int, mean float64) (signal.Layer, signal.Layer) {
	var overloaded signal.Layer
	maxCount := -1
	for layer, n := range perLayer {
		if n > maxCount {
			maxCount = n
			overloaded = layer
		}
	}
	if overloaded == "" {
		return "", ""
	}
	for _, candidate := range []signal.Layer{signal.L1, signal.L2, signal.L3, signal.L4, signal.L5} {
		if abs(candidate.Depth()-overloaded.Depth()) != 1 {
			continue
		}
		if float64(perLayer[candidate]) < 0.7*mean {
			return overloaded, candidate
		}
	}
	return "", ""
}

func (c *Controller) evaluateSpecialists(snapshot []NeuronStats) {
	minActivations := c.cfg.SpecialistMinActivations
	if minActivations <= 0 {
		minActivations = 100
	}
	minScore := c.cfg.SpecialistMinScore
	if minScore <= 0 {
		minScore = 0.8
	}

	for _, s := range snapshot {
		if s.Activations < minActivations {
			continue
		}
		score := specializationScore(s)
		if score < minScore {
			continue
		}
		role := decideRole(s)

		c.mu.Lock()
		changed := c.roles[s.ID] != role
		c.roles[s.ID] = role
		c.mu.Unlock()

		if changed {
			c.publish(eventbus.RoleSpecialization, map[string]any{"neuron_id": s.ID, "role": string(role), "score": score})
		}
	}
}

// specializationScore combines processing speed, accuracy, and recent
// activity into the single scalar §4.9c gates on.
func specializationScore(s NeuronStats) float64 {
	speedScore := 1.0 / (1.0 + s.ProcessingTimeMs/1000.0)
	accuracyScore := 1.0 - s.ErrorRate
	activityScore := math.Min(s.RecentActivity/100.0, 1.0)
	return (speedScore + accuracyScore + activityScore) / 3.0
}

// decideRole implements the simple decision table named in §4.9c: fast
// processing wins Fast Processor, low error rate wins High Accuracy,
// high recent activity wins High Throughput, otherwise Generalist.
func decideRole(s NeuronStats) Role {
	switch {
	case s.ProcessingTimeMs < 200:
		return RoleFastProcessor
	case s.ErrorRate < 0.05:
		return RoleHighAccuracy
	case s.RecentActivity > 50:
		return RoleHighThroughput
	default:
		return RoleGeneralist
	}
}

func (c *Controller) evaluateClusters() {
	for _, cluster := range c.net.Clusters() {
		c.publish(eventbus.ClusterEmergence, map[string]any{"members": cluster, "size": len(cluster)})
	}
}

// pruneInactiveEdges retires edges idle past InactiveEdgeAge or with
// usage under InactiveEdgeUsage (§4.9b), delegating the actual removal
// to the network's prune machinery by forcing affected edges below the
// prune threshold.
func (c *Controller) pruneInactiveEdges() {
	maxAge := c.cfg.InactiveEdgeAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	minUsage := c.cfg.InactiveEdgeUsage
	if minUsage <= 0 {
		minUsage = 10
	}

	c.net.mu.Lock()
	var stale []string
	for key, st := range c.net.edges {
		if time.Since(st.lastActivity) > maxAge || st.usageCount < minUsage {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		c.net.edges[key].strength = 0
	}
	c.net.mu.Unlock()

	if len(stale) > 0 {
		c.net.prune()
	}
}

func (c *Controller) publish(kind eventbus.Kind, data map[string]any) {
	if c.events != nil {
		c.events.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
