package cache

import (
	"testing"
	"time"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

func TestNilCacheForZeroCapacityOrTTL(t *testing.T) {
	if New(0, time.Minute) != nil {
		t.Fatal("expected nil cache for zero capacity")
	}
	if New(10, 0) != nil {
		t.Fatal("expected nil cache for zero ttl")
	}
}

func TestGetThenPutThenGet(t *testing.T) {
	c := New(10, time.Minute)
	key := Key(signal.L2, "n1", "prompt-digest")

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss before any put")
	}
	c.Put(key, "response")
	v, ok := c.Get(key)
	if !ok || v != "response" {
		t.Fatalf("expected hit with stored value, got %q ok=%v", v, ok)
	}
}

func TestExpiresAfterTTL(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	key := Key(signal.L3, "n1", "p")
	c.Put(key, "v")

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss after ttl expiry")
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")

	if c.Len() > 2 {
		t.Fatalf("expected capacity to bound length to 2, got %d", c.Len())
	}
}
