package topology

import (
	"testing"
	"time"

	"github.com/axonmesh/axonmesh/pkg/eventbus"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

type fakeStats struct {
	snapshot  []NeuronStats
	migrated  map[string]signal.Layer
}

func (f *fakeStats) Snapshot() []NeuronStats { return f.snapshot }
func (f *fakeStats) Migrate(id string, to signal.Layer) {
	if f.migrated == nil {
		f.migrated = make(map[string]signal.Layer)
	}
	f.migrated[id] = to
}

func TestEvaluateLoadImbalanceMigratesFromOverloadedLayer(t *testing.T) {
	bus := eventbus.New()
	events, _ := bus.Subscribe()

	stats := &fakeStats{snapshot: []NeuronStats{
		{ID: "a1", Layer: signal.L2}, {ID: "a2", Layer: signal.L2},
		{ID: "a3", Layer: signal.L2}, {ID: "a4", Layer: signal.L2},
		{ID: "b1", Layer: signal.L3},
	}}
	n := New(nil, nil)
	c := NewController(n, stats, bus, ReorgConfig{LoadImbalanceMax: 0.1})

	c.evaluateLoadImbalance(stats.snapshot)

	if len(stats.migrated) != 1 {
		t.Fatalf("expected exactly one migration, got %+v", stats.migrated)
	}
	select {
	case ev := <-events:
		if ev.Kind != eventbus.LayerMigration {
			t.Fatalf("expected LayerMigration event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a LayerMigration event to be published")
	}
}

func TestEvaluateSpecialistsAssignsRoleOnce(t *testing.T) {
	bus := eventbus.New()
	events, _ := bus.Subscribe()

	stats := &fakeStats{snapshot: []NeuronStats{
		{ID: "n1", Layer: signal.L2, Activations: 200, ProcessingTimeMs: 50, ErrorRate: 0.01, RecentActivity: 80},
	}}
	n := New(nil, nil)
	c := NewController(n, stats, bus, ReorgConfig{SpecialistMinActivations: 100, SpecialistMinScore: 0.1})

	c.evaluateSpecialists(stats.snapshot)

	select {
	case ev := <-events:
		if ev.Kind != eventbus.RoleSpecialization {
			t.Fatalf("expected RoleSpecialization event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a RoleSpecialization event on first promotion")
	}

	// Re-evaluating with the same role should not re-publish.
	c.evaluateSpecialists(stats.snapshot)
	select {
	case ev := <-events:
		t.Fatalf("expected no second event for an unchanged role, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDecideRolePicksFastProcessorForLowLatency(t *testing.T) {
	role := decideRole(NeuronStats{ProcessingTimeMs: 50, ErrorRate: 0.2, RecentActivity: 10})
	if role != RoleFastProcessor {
		t.Fatalf("expected RoleFastProcessor, got %v", role)
	}
}

func TestPruneInactiveEdgesRemovesUnderusedEdge(t *testing.T) {
	bus := eventbus.New()
	n := New(bus, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})
	_ = n.Connect("a", "b", 0.9)

	c := NewController(n, &fakeStats{}, bus, ReorgConfig{InactiveEdgeUsage: 10})
	c.pruneInactiveEdges()

	if _, ok := n.edges[edgeKey("a", "b")]; ok {
		t.Fatal("expected the zero-usage edge to be pruned")
	}
}

func TestEvaluateClustersPublishesClusterEmergence(t *testing.T) {
	bus := eventbus.New()
	events, _ := bus.Subscribe()

	n := New(nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		n.RegisterUnit(Unit{ID: id, Layer: signal.L2})
	}
	_ = n.Connect("a", "b", 0.9)
	_ = n.Connect("b", "c", 0.9)

	c := NewController(n, &fakeStats{}, bus, ReorgConfig{})
	c.evaluateClusters()

	select {
	case ev := <-events:
		if ev.Kind != eventbus.ClusterEmergence {
			t.Fatalf("expected ClusterEmergence event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ClusterEmergence event for the 3-unit cluster")
	}
}

func TestOnSignalProcessedTriggersEvaluateEveryN(t *testing.T) {
	bus := eventbus.New()
	events, _ := bus.Subscribe()

	n := New(nil, nil)
	stats := &fakeStats{snapshot: []NeuronStats{
		{ID: "n1", Layer: signal.L2, Activations: 200, ProcessingTimeMs: 50, ErrorRate: 0.01, RecentActivity: 80},
	}}
	c := NewController(n, stats, bus, ReorgConfig{EverySignals: 3, SpecialistMinScore: 0.1})

	c.OnSignalProcessed()
	c.OnSignalProcessed()
	if c.counter.Load() != 2 {
		t.Fatalf("expected counter at 2, got %d", c.counter.Load())
	}
	select {
	case ev := <-events:
		t.Fatalf("expected no evaluation before the 3rd signal, got %v", ev)
	default:
	}
	c.OnSignalProcessed()
	if c.counter.Load() != 3 {
		t.Fatalf("expected counter at 3, got %d", c.counter.Load())
	}
	select {
	case ev := <-events:
		if ev.Kind != eventbus.RoleSpecialization {
			t.Fatalf("expected RoleSpecialization event from Evaluate, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the 3rd signal to run Evaluate")
	}
}
