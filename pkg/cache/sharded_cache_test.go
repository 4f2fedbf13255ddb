package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1)
	c.Set("a", 2)
	c.Set("b", 3)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestEvictsOldestInFullShard(t *testing.T) {
	c := New[string](1)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	// find two keys that share a shard
	first := "k0"
	var second string
	for i := 1; second == ""; i++ {
		k := fmt.Sprintf("k%d", i)
		if c.getShard(k) == c.getShard(first) {
			second = k
		}
	}
	c.Set(first, "old")
	clock = clock.Add(time.Second)
	c.Set(second, "new")

	_, ok := c.Get(first)
	assert.False(t, ok)
	v, ok := c.Get(second)
	assert.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestCleanupAndStats(t *testing.T) {
	c := New[int](0)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	c.Set("stale", 1)
	clock = clock.Add(time.Hour)
	c.Set("fresh", 2)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, time.Hour, stats.OldestAge)

	assert.Equal(t, 1, c.Cleanup(30*time.Minute))
	_, ok := c.Get("stale")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("%d-%d", g, i)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, c.Len())
}
