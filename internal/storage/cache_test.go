package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		cache := NewLRUCache(10, time.Minute)
		cache.Set("a", 1)

		v, found := cache.Get("a")
		assert.True(t, found)
		assert.Equal(t, 1, v)

		_, found = cache.Get("missing")
		assert.False(t, found)
	})

	t.Run("set refreshes the value", func(t *testing.T) {
		cache := NewLRUCache(10, time.Minute)
		cache.Set("a", 1)
		cache.Set("a", 2)

		v, found := cache.Get("a")
		assert.True(t, found)
		assert.Equal(t, 2, v)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("evicts the least recently used entry", func(t *testing.T) {
		cache := NewLRUCache(3, time.Minute)
		cache.Set("a", 1)
		cache.Set("b", 2)
		cache.Set("c", 3)

		// Touch "a" so "b" is the oldest.
		cache.Get("a")
		cache.Set("d", 4)

		_, found := cache.Get("b")
		assert.False(t, found)
		for _, key := range []string{"a", "c", "d"} {
			_, found := cache.Get(key)
			assert.True(t, found, key)
		}
	})

	t.Run("expired entries are misses", func(t *testing.T) {
		cache := NewLRUCache(10, time.Nanosecond)
		cache.Set("a", 1)
		time.Sleep(time.Millisecond)

		_, found := cache.Get("a")
		assert.False(t, found)
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("cleanup drops expired entries", func(t *testing.T) {
		cache := NewLRUCache(10, time.Nanosecond)
		for i := 0; i < 5; i++ {
			cache.Set(fmt.Sprintf("k%d", i), i)
		}
		time.Sleep(time.Millisecond)

		assert.Equal(t, 5, cache.CleanupExpired())
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("delete and clear", func(t *testing.T) {
		cache := NewLRUCache(10, time.Minute)
		cache.Set("a", 1)
		cache.Set("b", 2)

		cache.Delete("a")
		_, found := cache.Get("a")
		assert.False(t, found)

		cache.Clear()
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("stats", func(t *testing.T) {
		cache := NewLRUCache(5, time.Minute)
		cache.Set("a", 1)

		stats := cache.GetStats()
		assert.Equal(t, 5, stats.Capacity)
		assert.Equal(t, 1, stats.Size)
		assert.Equal(t, time.Minute, stats.TTL)
	})
}
