package resource

import (
	"testing"
	"time"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
)

func TestLocalAllocateRespectsCapacity(t *testing.T) {
	l := NewLocal(4, 1024)
	defer l.Shutdown()

	if _, err := l.Allocate(Request{NeuronID: "n1", CPUCores: 3, MemoryMiB: 512}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Allocate(Request{NeuronID: "n2", CPUCores: 2, MemoryMiB: 256}); !coreerr.OfKind(err, coreerr.KindResourceExhaust) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestLocalAllocateRespectsPerNeuronLimit(t *testing.T) {
	l := NewLocal(8, 2048)
	defer l.Shutdown()
	l.SetLimits("n1", Limits{MaxCPUCores: 1})

	if _, err := l.Allocate(Request{NeuronID: "n1", CPUCores: 2, MemoryMiB: 128}); !coreerr.OfKind(err, coreerr.KindLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
}

func TestLocalReleaseFreesHeadroom(t *testing.T) {
	l := NewLocal(2, 512)
	defer l.Shutdown()

	a, err := l.Allocate(Request{NeuronID: "n1", CPUCores: 2, MemoryMiB: 512})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Allocate(Request{NeuronID: "n2", CPUCores: 2, MemoryMiB: 512}); err != nil {
		t.Fatalf("expected headroom to be freed, got %v", err)
	}
}

func TestLocalReleaseUnknownAllocationIsNotFound(t *testing.T) {
	l := NewLocal(1, 256)
	defer l.Shutdown()
	if err := l.Release("missing"); !coreerr.OfKind(err, coreerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestClusterFirstFitPicksFirstNodeWithHeadroom(t *testing.T) {
	c := NewCluster(StrategyFirstFit)
	defer c.Shutdown()
	c.RegisterNode(Node{ID: "node-a", CapacityCPU: 1, CapacityMem: 256})
	c.RegisterNode(Node{ID: "node-b", CapacityCPU: 4, CapacityMem: 1024})

	a, err := c.Allocate(Request{NeuronID: "n1", CPUCores: 2, MemoryMiB: 512})
	if err != nil {
		t.Fatal(err)
	}
	if c.allocNode[a.ID] != "node-b" {
		t.Fatalf("expected allocation placed on node-b, got %s", c.allocNode[a.ID])
	}
}

func TestClusterLeastLoadedBalancesAcrossNodes(t *testing.T) {
	c := NewCluster(StrategyLeastLoaded)
	defer c.Shutdown()
	c.RegisterNode(Node{ID: "a", CapacityCPU: 4, CapacityMem: 1024})
	c.RegisterNode(Node{ID: "b", CapacityCPU: 4, CapacityMem: 1024})

	first, err := c.Allocate(Request{NeuronID: "n1", CPUCores: 2, MemoryMiB: 512})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Allocate(Request{NeuronID: "n2", CPUCores: 1, MemoryMiB: 128})
	if err != nil {
		t.Fatal(err)
	}
	if c.allocNode[first.ID] == c.allocNode[second.ID] {
		t.Fatalf("expected least-loaded strategy to spread allocations across nodes")
	}
}

func TestClusterNoNodesReturnsUnknownNode(t *testing.T) {
	c := NewCluster(StrategyFirstFit)
	defer c.Shutdown()
	if _, err := c.Allocate(Request{NeuronID: "n1", CPUCores: 1, MemoryMiB: 1}); !coreerr.OfKind(err, coreerr.KindUnknownNode) {
		t.Fatalf("expected UnknownNode, got %v", err)
	}
}

func TestAllocationTTLExpiresViaSweeper(t *testing.T) {
	l := NewLocal(2, 512)
	defer l.Shutdown()

	ch, unsubscribe := l.Monitor("n1")
	defer unsubscribe()

	if _, err := l.Allocate(Request{NeuronID: "n1", CPUCores: 1, MemoryMiB: 128, TTL: 50 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	<-ch // initial grant metric

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the sweeper to retire the expired allocation and notify monitors")
	}

	if usage := l.Usage(); usage.CPUCoresInUse != 0 {
		t.Fatalf("expected the expired allocation to be released, usage=%+v", usage)
	}
}
