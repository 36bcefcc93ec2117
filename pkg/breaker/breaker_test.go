package breaker

import (
	"testing"
	"time"
)

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected admission %d before threshold reached", i)
		}
		b.Failure()
	}

	if b.Current() != Open {
		t.Fatalf("expected Open after 3 consecutive failures, got %s", b.Current())
	}
	if b.Allow() {
		t.Fatal("expected admission to be denied while Open")
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(1, 20*time.Millisecond)
	b.Allow()
	b.Failure() // opens

	time.Sleep(30 * time.Millisecond)

	admitted := 0
	for i := 0; i < 5; i++ {
		if b.Allow() {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one HalfOpen probe admitted, got %d", admitted)
	}
}

func TestSuccessClosesFromHalfOpen(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Allow()
	b.Failure()
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	b.Success()
	if b.Current() != Closed {
		t.Fatalf("expected Closed after successful probe, got %s", b.Current())
	}
	if !b.Allow() {
		t.Fatal("expected normal admission after closing")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Allow()
	b.Failure()
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	b.Failure()
	if b.Current() != Open {
		t.Fatalf("expected Open after failed probe, got %s", b.Current())
	}
}
