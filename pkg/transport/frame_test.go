package transport

import (
	"bytes"
	"testing"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

func TestSignalFrameRoundTrip(t *testing.T) {
	sig := signal.Forward("n1", "n2", signal.L4, signal.L3, "hello", 0.8, nil)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, SignalFrame{Kind: KindSignalFrame, Signal: sig}); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	sf, ok := got.(SignalFrame)
	if !ok {
		t.Fatalf("expected SignalFrame, got %T", got)
	}
	if sf.Signal.ID != sig.ID || sf.Signal.SenderID != sig.SenderID {
		t.Fatalf("signal did not round-trip: got %+v", sf.Signal)
	}
}

func TestHelloFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hello := HelloFrame{Kind: KindHelloFrame, ServerID: "server-a", Neurons: []helloNeuron{{ID: "n1", Layer: signal.L2}}}
	if err := WriteFrame(&buf, hello); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	hf, ok := got.(HelloFrame)
	if !ok {
		t.Fatalf("expected HelloFrame, got %T", got)
	}
	if hf.ServerID != "server-a" || len(hf.Neurons) != 1 || hf.Neurons[0].ID != "n1" {
		t.Fatalf("hello frame did not round-trip: %+v", hf)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an oversized frame to be rejected")
	}
}
