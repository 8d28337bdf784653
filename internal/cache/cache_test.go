package cache

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func TestKeyDeterministic(t *testing.T) {
	mod := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	k1 := Key("photo.jpg", 1024, mod, 3840, 2160)
	k2 := Key("photo.jpg", 1024, mod, 3840, 2160)
	if k1 != k2 {
		t.Errorf("identical inputs produced different keys: %s vs %s", k1, k2)
	}

	// Order sensitivity: swapping dimensions must change the key.
	k3 := Key("photo.jpg", 1024, mod, 2160, 3840)
	if k1 == k3 {
		t.Error("swapped bounds produced the same key")
	}

	k4 := Key("other.jpg", 1024, mod, 3840, 2160)
	if k1 == k4 {
		t.Error("different filename produced the same key")
	}

	if len(k1) != 8 {
		t.Errorf("key %q should be 8 hex chars (32-bit hash)", k1)
	}
}

func TestGetSet(t *testing.T) {
	c := New(10, 1<<20)

	if c.Get("missing") != nil {
		t.Error("Get on empty cache should miss")
	}

	meta := Metadata{Width: 100, Height: 50, ProcessedSize: 3}
	c.Set("a", []byte{1, 2, 3}, meta)

	got := c.Get("a")
	if got == nil {
		t.Fatal("Get after Set missed")
	}
	if got.Meta != meta {
		t.Errorf("metadata = %+v, want %+v", got.Meta, meta)
	}
	if got.SizeBytes != 3 {
		t.Errorf("SizeBytes = %d, want 3", got.SizeBytes)
	}
}

func TestEvictionLRUOrder(t *testing.T) {
	c := New(3, 1<<20)

	c.Set("a", make([]byte, 10), Metadata{})
	c.Set("b", make([]byte, 10), Metadata{})
	c.Set("c", make([]byte, 10), Metadata{})

	// Touch "a" so "b" becomes the least recently used.
	c.Get("a")

	c.Set("d", make([]byte, 10), Metadata{})

	if c.Get("b") != nil {
		t.Error("expected b to be evicted as least recently used")
	}
	for _, key := range []string{"a", "c", "d"} {
		if c.Get(key) == nil {
			t.Errorf("expected %s to survive eviction", key)
		}
	}
}

// TestInvariants hammers the cache with random insertions and checks that
// the entry-count and byte bounds hold after every Set.
func TestInvariants(t *testing.T) {
	const (
		maxEntries = 8
		maxBytes   = 4096
	)
	c := New(maxEntries, maxBytes)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", rng.Intn(32))
		size := rng.Intn(1024) + 1
		c.Set(key, make([]byte, size), Metadata{ProcessedSize: int64(size)})

		if n := c.Len(); n > maxEntries {
			t.Fatalf("after set %d: %d entries exceeds cap %d", i, n, maxEntries)
		}
		if b := c.UsedBytes(); b > maxBytes {
			t.Fatalf("after set %d: %d bytes exceeds budget %d", i, b, maxBytes)
		}
	}
}

func TestOversizedEntryStillCached(t *testing.T) {
	c := New(4, 100)

	// An entry bigger than the whole byte budget is still inserted when it
	// is the only one: never refuse to cache the most recent result.
	c.Set("big", make([]byte, 500), Metadata{})
	if c.Get("big") == nil {
		t.Fatal("oversized lone entry should still be cached")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	// The next insertion purges it to restore the byte bound.
	c.Set("small", make([]byte, 10), Metadata{})
	if c.Get("big") != nil {
		t.Error("oversized entry should be evicted by the next insertion")
	}
	if c.UsedBytes() > 100 {
		t.Errorf("UsedBytes() = %d exceeds budget after recovery", c.UsedBytes())
	}
}

func TestUpdateExistingKey(t *testing.T) {
	c := New(4, 1000)

	c.Set("k", make([]byte, 100), Metadata{})
	c.Set("k", make([]byte, 200), Metadata{})

	if c.Len() != 1 {
		t.Errorf("Len() = %d after updating one key, want 1", c.Len())
	}
	if c.UsedBytes() != 200 {
		t.Errorf("UsedBytes() = %d, want 200 (no double counting)", c.UsedBytes())
	}
}

func TestClear(t *testing.T) {
	c := New(10, 1<<20)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), make([]byte, 64), Metadata{})
	}

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
	if c.UsedBytes() != 0 {
		t.Errorf("UsedBytes() = %d after Clear, want 0", c.UsedBytes())
	}
	if c.Get("k0") != nil {
		t.Error("Get after Clear should miss")
	}
}
