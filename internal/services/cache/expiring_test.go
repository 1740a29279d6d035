package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiring_SetGet(t *testing.T) {
	c := NewExpiring[string](10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "alpha")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, 1, c.Len())
}

func TestExpiring_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	const maxSize = 5
	c := NewExpiring[int](maxSize, time.Minute)

	for i := 0; i < maxSize; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	// Touch k0 so k1 becomes the least recently used.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("new", 99)

	assert.Equal(t, maxSize, c.Len())
	_, ok = c.Get("k1")
	assert.False(t, ok)
	for _, key := range []string{"k0", "k2", "k3", "k4", "new"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestExpiring_InsertionOrderEviction(t *testing.T) {
	c := NewExpiring[int](3, time.Minute)
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestExpiring_OverwriteDoesNotEvict(t *testing.T) {
	c := NewExpiring[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestExpiring_TTL(t *testing.T) {
	c := NewExpiring[string](10, time.Minute)
	c.SetWithTTL("short", "v", time.Second)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(time.Second + 100*time.Millisecond)

	_, ok = c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestExpiring_DefaultTTLAppliesAndStaleEntriesCountUntilRead(t *testing.T) {
	c := NewExpiring[string](10, 20*time.Millisecond)
	c.Set("a", "v")
	c.Set("b", "v")

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestExpiring_NoDefaultTTL(t *testing.T) {
	c := NewExpiring[string](10, 0)
	c.Set("a", "v")

	time.Sleep(10 * time.Millisecond)

	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestExpiring_DeleteAndClear(t *testing.T) {
	c := NewExpiring[string](10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)

	// Still usable after Clear.
	c.Set("c", "3")
	assert.Equal(t, 1, c.Len())
}

func TestExpiring_NilPointerValue(t *testing.T) {
	type record struct{ n int }
	c := NewExpiring[*record](2, time.Minute)
	c.Set("nil", nil)

	v, ok := c.Get("nil")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestExpiring_ConcurrentAccess(t *testing.T) {
	c := NewExpiring[int](50, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%80)
				c.Set(key, i)
				c.Get(key)
				if i%7 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
