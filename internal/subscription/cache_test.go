package subscription

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	body := []byte("payload")
	if err := c.Set(ctx, "https://a.example/sub", body, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	body[0] = 'X'

	got, ok, err := c.Get(ctx, "https://a.example/sub")
	if err != nil || !ok || string(got) != "payload" {
		t.Fatalf("Get = %q, %t, %v", got, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "https://a.example/sub"); ok {
		t.Fatal("entry should expire after its ttl")
	}
	if len(c.entries) != 0 {
		t.Fatalf("expired entry not dropped: %d left", len(c.entries))
	}
}

func TestMemoryCacheWithoutTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	c.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }

	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry without ttl should not expire")
	}
	_ = c.Delete(ctx, "k")
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry should be gone after Delete")
	}
}

func TestRedisCacheKey(t *testing.T) {
	key := redisCacheKey("https://a.example/sub")
	if !strings.HasPrefix(key, "subgate:subscription:") {
		t.Fatalf("key = %q", key)
	}
	if len(key) != len("subgate:subscription:")+40 {
		t.Fatalf("key should end in a sha1 hex digest: %q", key)
	}
	if key == redisCacheKey("https://b.example/sub") {
		t.Fatal("different URLs share a key")
	}
}
