package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCache(t *testing.T) {
	t.Run("get returns set profile", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 10)
		cache.set("u1", &Profile{UserID: "u1", Tier: TierStarter})

		p, ok := cache.get("u1")
		require.True(t, ok)
		assert.Equal(t, TierStarter, p.Tier)
	})

	t.Run("miss on unknown user", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 10)

		p, ok := cache.get("nobody")
		assert.False(t, ok)
		assert.Nil(t, p)
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		cache := newProfileCache(30*time.Millisecond, 10)
		cache.set("u1", &Profile{UserID: "u1", Tier: TierPro})

		time.Sleep(60 * time.Millisecond)

		_, ok := cache.get("u1")
		assert.False(t, ok)
	})

	t.Run("invalidate removes entry", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 10)
		cache.set("u1", &Profile{UserID: "u1", Tier: TierPro})
		cache.invalidate("u1")

		_, ok := cache.get("u1")
		assert.False(t, ok)
	})

	t.Run("returns a copy", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 10)
		cache.set("u1", &Profile{UserID: "u1", Tier: TierStarter})

		p, ok := cache.get("u1")
		require.True(t, ok)
		p.Tier = TierLifetime

		again, ok := cache.get("u1")
		require.True(t, ok)
		assert.Equal(t, TierStarter, again.Tier)
	})

	t.Run("evicts when full", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 2)
		cache.set("u1", &Profile{UserID: "u1"})
		cache.set("u2", &Profile{UserID: "u2"})
		cache.set("u3", &Profile{UserID: "u3"})

		cache.mu.RLock()
		size := len(cache.entries)
		cache.mu.RUnlock()
		assert.LessOrEqual(t, size, 2)

		// The newest entry always survives eviction.
		_, ok := cache.get("u3")
		assert.True(t, ok)
	})

	t.Run("default max size", func(t *testing.T) {
		cache := newProfileCache(time.Minute, 0)
		assert.Equal(t, 1000, cache.max)
	})
}
