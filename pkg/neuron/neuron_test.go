package neuron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/axonmesh/axonmesh/pkg/breaker"
	"github.com/axonmesh/axonmesh/pkg/cache"
	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/lm"
	"github.com/axonmesh/axonmesh/pkg/memory"
	"github.com/axonmesh/axonmesh/pkg/resource"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// denyingResourceManager refuses every allocation, used to exercise the
// gate in acquireResources without needing real capacity exhaustion.
type denyingResourceManager struct{}

func (denyingResourceManager) Allocate(resource.Request) (resource.Allocation, error) {
	return resource.Allocation{}, coreerr.New(coreerr.KindResourceExhaust, "denied")
}
func (denyingResourceManager) Release(string) error { return nil }
func (denyingResourceManager) Usage() resource.Usage     { return resource.Usage{} }
func (denyingResourceManager) Available() resource.Usage { return resource.Usage{} }
func (denyingResourceManager) SetLimits(string, resource.Limits) {}
func (denyingResourceManager) Monitor(string) (<-chan resource.Metric, func()) {
	return nil, func() {}
}
func (denyingResourceManager) Shutdown() {}

func countingLM(calls *int, resp string) lm.Client {
	return lm.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		*calls++
		return resp, nil
	})
}

func newTestNeuron(t *testing.T, client lm.Client) *Neuron {
	t.Helper()
	store, err := memory.Open("", false)
	if err != nil {
		t.Fatal(err)
	}
	n := New(Config{
		ID:                "n1",
		Layer:             signal.L2,
		SystemPrompt:      "you are a worker",
		LM:                client,
		Memory:            store,
		LMTimeout:         time.Second,
		MaxToolIterations: 3,
		LearningEnabled:   true,
	})
	n.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

func TestForwardSignalReturnsTranscript(t *testing.T) {
	calls := 0
	n := newTestNeuron(t, countingLM(&calls, "done processing"))

	sig := signal.Forward("sender", "n1", signal.L1, signal.L2, "do the thing", 0.9, nil)
	out, err := n.ProcessSignal(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "done processing") {
		t.Fatalf("expected transcript to contain LM response, got %q", out)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 LM call, got %d", calls)
	}
	if n.Health().SignalsProcessed != 1 {
		t.Fatalf("expected signals_processed=1, got %d", n.Health().SignalsProcessed)
	}
}

func TestCacheHitSkipsSecondLMCall(t *testing.T) {
	calls := 0
	n := newTestNeuron(t, countingLM(&calls, "cached response"))
	n.respCache = cache.New(100, time.Minute)
	// The memory-context block would add the first call's task record to
	// the second prompt, changing the cache key between the two calls.
	n.memStore = nil

	sig := signal.Forward("sender", "n1", signal.L1, signal.L2, "same content", 0.5, nil)

	if _, err := n.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if _, err := n.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 LM call across two identical signals, got %d", calls)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	failing := lm.ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", context.DeadlineExceeded
	})
	n := newTestNeuron(t, failing)
	n.breaker = breaker.New(2, time.Minute)

	sig := signal.Forward("sender", "n1", signal.L1, signal.L2, "x", 0.5, nil)
	for i := 0; i < 2; i++ {
		if _, err := n.ProcessSignal(context.Background(), sig); err == nil {
			t.Fatal("expected error from failing LM client")
		}
	}

	_, err := n.ProcessSignal(context.Background(), sig)
	if !coreerr.OfKind(err, coreerr.KindCircuitOpen) {
		t.Fatalf("expected CircuitOpen after threshold failures, got %v", err)
	}
}

func TestBackwardSignalShortCircuitsWithoutLMCall(t *testing.T) {
	calls := 0
	n := newTestNeuron(t, countingLM(&calls, "should not be called"))

	grad := signal.Gradient{ErrorKind: "Timeout", Magnitude: 0.5, Adjustments: []string{"retry with backoff"}}
	sig := signal.Backward("n1", "sender", signal.L2, signal.L1, grad)

	out, err := n.ProcessSignal(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if out != backwardAck {
		t.Fatalf("expected fixed acknowledgement, got %q", out)
	}
	if calls != 0 {
		t.Fatalf("expected no LM calls for a backward signal, got %d", calls)
	}
}

func TestResourceAllocationDenialBlocksForwardSignal(t *testing.T) {
	calls := 0
	n := newTestNeuron(t, countingLM(&calls, "done"))
	n.resources = denyingResourceManager{}

	sig := signal.Forward("sender", "n1", signal.L1, signal.L2, "x", 0.5, nil)
	_, err := n.ProcessSignal(context.Background(), sig)
	if !coreerr.OfKind(err, coreerr.KindResourceExhaust) {
		t.Fatalf("expected ResourceExhaust when allocation is denied, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no LM call when resource allocation is denied, got %d", calls)
	}
}

func TestResourceAllocationReleasedAfterProcessing(t *testing.T) {
	n := newTestNeuron(t, countingLM(new(int), "done"))
	mgr := resource.NewLocal(4, 1024)
	t.Cleanup(mgr.Shutdown)
	n.resources = mgr
	n.resourceCPU = 0.5
	n.resourceMemoryMiB = 64

	sig := signal.Forward("sender", "n1", signal.L1, signal.L2, "x", 0.5, nil)
	if _, err := n.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if usage := mgr.Usage(); usage.CPUCoresInUse != 0 {
		t.Fatalf("expected allocation released after processing, got %+v", usage)
	}
}

func TestBackwardSignalAccumulatesPromptAdjustments(t *testing.T) {
	n := newTestNeuron(t, countingLM(new(int), "x"))

	grad := signal.Gradient{ErrorKind: "Timeout", Adjustments: []string{"be more concise"}}
	sig := signal.Backward("n1", "sender", signal.L2, signal.L1, grad)
	if _, err := n.ProcessSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(n.adjuster.Render(), "be more concise") {
		t.Fatalf("expected adjustment to be reflected in rendered prompt")
	}
}
