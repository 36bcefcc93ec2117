package signal

import "testing"

func TestForwardConstruction(t *testing.T) {
	s := Forward("n1", "n2", L4, L3, "hello", 0.8, nil)
	if s.ID == "" {
		t.Fatal("expected generated id")
	}
	if s.Direction != Forward {
		t.Fatalf("expected Forward, got %s", s.Direction)
	}
	if s.Activation == nil || s.Activation.Content != "hello" {
		t.Fatal("expected activation content to be set")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("forward signal should validate: %v", err)
	}
}

func TestBackwardRequiresGradient(t *testing.T) {
	s := Signal{Direction: Backward}
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for backward signal without gradient")
	}

	s2 := Backward("n2", "n1", L3, L4, Gradient{ErrorKind: "timeout", Magnitude: 0.5})
	if err := s2.Validate(); err != nil {
		t.Fatalf("backward signal with gradient should validate: %v", err)
	}
}

func TestChildInheritsBatchAndIncrementsHops(t *testing.T) {
	parent := Forward("n1", "n2", L4, L3, "x", 1.0, nil)
	parent.Hops = 2

	child := parent.Child("n3", L2, "y", 0.9)
	if child.BatchID != parent.BatchID {
		t.Fatal("expected child to inherit batch id")
	}
	if child.ParentID != parent.ID {
		t.Fatal("expected child parent id to reference parent")
	}
	if child.Hops != 3 {
		t.Fatalf("expected hops to increment to 3, got %d", child.Hops)
	}
}

func TestLayerDepth(t *testing.T) {
	cases := []struct {
		l    Layer
		want int
	}{
		{L1, 1}, {L2, 2}, {L3, 3}, {L4, 4}, {L5, 5}, {Layer("bogus"), -1},
	}
	for _, c := range cases {
		if got := c.l.Depth(); got != c.want {
			t.Errorf("Layer(%s).Depth() = %d, want %d", c.l, got, c.want)
		}
	}
}
