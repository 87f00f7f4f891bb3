package auth

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheExpiryIsLazy(t *testing.T) {
	c := NewCredentialCache(10)
	now := time.UnixMilli(0)

	c.Put("fp1", &Claims{Subject: "u1"}, time.Minute, now)

	if _, ok := c.Get("fp1", now.Add(30*time.Second)); !ok {
		t.Fatalf("entry should be visible before ttl")
	}
	if _, ok := c.Get("fp1", now.Add(time.Minute)); ok {
		t.Fatalf("entry at ttl boundary must be treated as absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should have been removed lazily, len=%d", c.Len())
	}
}

func TestCacheNeverStoresNonPositiveTTL(t *testing.T) {
	c := NewCredentialCache(10)
	now := time.UnixMilli(0)

	c.Put("fp1", &Claims{Subject: "u1"}, 0, now)
	c.Put("fp2", &Claims{Subject: "u2"}, -time.Second, now)
	if c.Len() != 0 {
		t.Fatalf("non-positive ttl entries must not be stored, len=%d", c.Len())
	}
}

func TestCacheEvictsLRUWhenFull(t *testing.T) {
	c := NewCredentialCache(3)
	now := time.UnixMilli(0)

	for i := 1; i <= 3; i++ {
		c.Put(fmt.Sprintf("fp%d", i), &Claims{}, time.Minute, now)
	}
	// touch fp1 so fp2 becomes the oldest
	if _, ok := c.Get("fp1", now); !ok {
		t.Fatalf("fp1 should be present")
	}

	c.Put("fp4", &Claims{}, time.Minute, now)

	if _, ok := c.Get("fp2", now); ok {
		t.Fatalf("fp2 should have been evicted as LRU")
	}
	for _, fp := range []string{"fp1", "fp3", "fp4"} {
		if _, ok := c.Get(fp, now); !ok {
			t.Fatalf("%s should still be cached", fp)
		}
	}
}

func TestCacheEvictIsImmediate(t *testing.T) {
	c := NewCredentialCache(10)
	now := time.UnixMilli(0)

	c.Put("fp1", &Claims{Subject: "u1"}, time.Minute, now)
	c.Evict("fp1")
	if _, ok := c.Get("fp1", now); ok {
		t.Fatalf("evicted entry must be gone")
	}
	// evicting an absent fingerprint is a no-op
	c.Evict("fp-missing")
}
