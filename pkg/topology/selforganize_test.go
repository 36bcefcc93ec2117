package topology

import (
	"testing"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

func TestUpdateStrengthsAppliesHebbianRule(t *testing.T) {
	n := New(nil, func(src, dst string) float64 { return 0.9 })
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})
	_ = n.Connect("a", "b", 0.4)

	n.updateStrengths()

	st := n.edges[edgeKey("a", "b")]
	want := clamp01(0.4 + (defaultPlasticity*(0.9-0.5) + 0.9*0.4*0.1))
	if diff := absf(st.strength - want); diff > 1e-9 {
		t.Fatalf("expected strength %.6f, got %.6f", want, st.strength)
	}
}

func TestPruneRemovesWeakEdges(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})
	_ = n.Connect("a", "b", 0.01)

	n.prune()

	if _, ok := n.edges[edgeKey("a", "b")]; ok {
		t.Fatal("expected sub-threshold edge to be pruned")
	}
}

func TestStrengthenMotifsBoostsTriangleClosingEdge(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "c", Layer: signal.L2})
	_ = n.Connect("a", "b", 0.5)
	_ = n.Connect("b", "c", 0.5)
	_ = n.Connect("a", "c", 0.5)

	n.strengthenMotifs()

	st := n.edges[edgeKey("a", "c")]
	if st.strength <= 0.5 {
		t.Fatalf("expected the triangle-closing edge a->c to be strengthened, got %f", st.strength)
	}
}

func TestEmergenceScoreIsZeroForEmptyNetwork(t *testing.T) {
	n := New(nil, nil)
	if score := n.EmergenceScore(); score != 0 {
		t.Fatalf("expected emergence score 0 for an empty network, got %f", score)
	}
}
