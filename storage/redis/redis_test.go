package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// setupTestCounter connects to the Redis named by REDIS_TEST_ADDR, or
// localhost when unset, and skips the test if no server is reachable.
func setupTestCounter(t *testing.T) *Counter {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test: failed to connect to Redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	counter, err := New(client, Config{KeyPrefix: fmt.Sprintf("test:%d:", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("Failed to create counter: %v", err)
	}
	return counter
}

func TestCounterIncrementAndCount(t *testing.T) {
	counter := setupTestCounter(t)
	ctx := context.Background()

	n, err := counter.CountAIInteractions(ctx, "u1", "2026-09")
	if err != nil || n != 0 {
		t.Fatalf("Fresh count = %d err=%v, want 0", n, err)
	}

	for i := 1; i <= 5; i++ {
		n, err = counter.IncrAIInteractions(ctx, "u1", "2026-09")
		if err != nil {
			t.Fatalf("Incr %d failed: %v", i, err)
		}
		if n != i {
			t.Errorf("Incr %d = %d", i, n)
		}
	}

	n, err = counter.CountAIInteractions(ctx, "u1", "2026-09")
	if err != nil || n != 5 {
		t.Errorf("Count = %d err=%v, want 5", n, err)
	}

	// Other users and months are independent
	if n, _ = counter.CountAIInteractions(ctx, "u2", "2026-09"); n != 0 {
		t.Errorf("Other user count = %d, want 0", n)
	}
	if n, _ = counter.CountAIInteractions(ctx, "u1", "2026-10"); n != 0 {
		t.Errorf("Other month count = %d, want 0", n)
	}
}

func TestCounterTTLSet(t *testing.T) {
	counter := setupTestCounter(t)
	ctx := context.Background()

	if _, err := counter.IncrAIInteractions(ctx, "u1", "2026-09"); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	ttl, err := counter.client.TTL(ctx, counter.usageKey("u1", "2026-09")).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("TTL = %v, want positive", ttl)
	}
}
