package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := New[string, int](time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	c.Set("a", 1)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("expected hit with 1, got %d %v", got, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := New[string, int](10 * time.Millisecond)
	c.Set("a", 1)

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := New[string, int](0)
	c.Set("a", 1)

	time.Sleep(10 * time.Millisecond)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected entry to persist with disabled expiry")
	}
}

func TestTTLCacheFlush(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Flush()
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected flush to drop entries")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected flush to drop entries")
	}
}

func TestTTLCacheNilReceiver(t *testing.T) {
	var c *TTLCache[string, int]
	c.Set("a", 1)
	c.Delete("a")
	c.Flush()
	if _, ok := c.Get("a"); ok {
		t.Fatalf("nil cache must always miss")
	}
}
