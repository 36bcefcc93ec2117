package topology

import (
	"testing"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

func TestConnectEnforcesLayerAdjacency(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L1})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})

	if err := n.Connect("a", "b", 0.5); !coreerr.OfKind(err, coreerr.KindRuleViolation) {
		t.Fatalf("expected RuleViolation for a 2-layer gap, got %v", err)
	}
}

func TestConnectAdjacentLayersSucceeds(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})

	if err := n.Connect("a", "b", 0.5); err != nil {
		t.Fatal(err)
	}
}

func TestPropagateOnlyCrossesStrongEnoughEdges(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "a", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "b", Layer: signal.L3})
	n.RegisterUnit(Unit{ID: "c", Layer: signal.L3})

	_ = n.Connect("a", "b", 0.2)
	_ = n.Connect("a", "c", 0.05)

	out := n.Propagate("a", "payload")
	if len(out) != 1 || out[0].TargetID != "b" {
		t.Fatalf("expected only the 0.2-strength edge to propagate, got %+v", out)
	}
}

func TestHandleFailureCreatesBypassEdge(t *testing.T) {
	n := New(nil, nil)
	n.RegisterUnit(Unit{ID: "s", Layer: signal.L2})
	n.RegisterUnit(Unit{ID: "u", Layer: signal.L3})
	n.RegisterUnit(Unit{ID: "t", Layer: signal.L3})
	_ = n.Connect("s", "u", 0.6)
	_ = n.Connect("u", "t", 0.6)

	n.HandleFailure("u")

	out := n.Propagate("s", "x")
	if len(out) != 1 || out[0].TargetID != "t" {
		t.Fatalf("expected a bypass edge s->t after u's removal, got %+v", out)
	}
}

func TestClustersRequireMinimumSize(t *testing.T) {
	n := New(nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		n.RegisterUnit(Unit{ID: id, Layer: signal.L2})
	}
	_ = n.Connect("a", "b", 0.9)
	_ = n.Connect("b", "c", 0.9)

	clusters := n.Clusters()
	if len(clusters) != 1 || len(clusters[0]) != 3 {
		t.Fatalf("expected one 3-unit cluster, got %+v", clusters)
	}
}
