package registry

import (
	"context"
	"testing"
	"time"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

type fakeNeuron struct {
	id    string
	layer signal.Layer
}

func (f *fakeNeuron) ID() string          { return f.id }
func (f *fakeNeuron) Layer() signal.Layer { return f.layer }
func (f *fakeNeuron) Health() Health      { return Health{State: "Running"} }
func (f *fakeNeuron) Shutdown(context.Context) error { return nil }
func (f *fakeNeuron) ProcessSignal(context.Context, signal.Signal) (string, error) {
	return "", nil
}

func TestRegisterIsIdempotentOnID(t *testing.T) {
	r := New()
	n1 := &fakeNeuron{id: "n1", layer: signal.L3}
	if err := r.Register(n1); err != nil {
		t.Fatalf("first register should succeed: %v", err)
	}
	if err := r.Register(n1); err == nil {
		t.Fatal("second register with same id should fail")
	}
}

func TestGetAndByLayer(t *testing.T) {
	r := New()
	_ = r.Register(&fakeNeuron{id: "n1", layer: signal.L3})
	_ = r.Register(&fakeNeuron{id: "n2", layer: signal.L3})
	_ = r.Register(&fakeNeuron{id: "n3", layer: signal.L4})

	ids := r.ByLayer(signal.L3)
	if len(ids) != 2 {
		t.Fatalf("expected 2 L3 neurons, got %d", len(ids))
	}

	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected not-found error for unregistered id")
	}
}

func TestRemoveUpdatesLayerIndex(t *testing.T) {
	r := New()
	_ = r.Register(&fakeNeuron{id: "n1", layer: signal.L2})
	_ = r.Remove("n1")
	if r.Exists("n1") {
		t.Fatal("expected n1 to be removed")
	}
	if len(r.ByLayer(signal.L2)) != 0 {
		t.Fatal("expected layer index to be cleared on remove")
	}
}

func TestShutdownAllDrains(t *testing.T) {
	r := New()
	_ = r.Register(&fakeNeuron{id: "n1", layer: signal.L1})
	_ = r.Register(&fakeNeuron{id: "n2", layer: signal.L2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.ShutdownAll(ctx); err != nil {
		t.Fatalf("shutdown all should succeed: %v", err)
	}
}

func TestConcurrentRegisterDifferentShards(t *testing.T) {
	r := New()
	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			n := &fakeNeuron{id: string(rune('a' + i%26)), layer: signal.L1}
			done <- r.Register(n)
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	if r.Count() == 0 {
		t.Fatal("expected at least one neuron registered concurrently")
	}
}
