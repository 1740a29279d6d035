package cache

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Expiring is a fixed-capacity key/value store with per-entry TTL.
//
// Values and their expiry live in a go-cache instance with the janitor
// disabled, so expired entries are only dropped when read. A list keeps keys
// in recency order: Get and Set move a key to the back, eviction takes the
// front.
type Expiring[V any] struct {
	mu         sync.Mutex
	items      *gocache.Cache
	order      *list.List
	index      map[string]*list.Element
	maxSize    int
	defaultTTL time.Duration
}

// NewExpiring creates a cache holding at most maxSize entries. A defaultTTL
// of zero or less means entries do not expire unless given a TTL on Set.
func NewExpiring[V any](maxSize int, defaultTTL time.Duration) *Expiring[V] {
	return &Expiring[V]{
		items:      gocache.New(gocache.NoExpiration, 0),
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

// Get returns the value for key. An expired entry is removed and reported
// as absent. A hit marks the key as most recently used.
func (c *Expiring[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return zero, false
	}

	val, found := c.items.Get(key)
	if !found {
		c.remove(el)
		return zero, false
	}

	c.order.MoveToBack(el)
	v, _ := val.(V)
	return v, true
}

// Set stores value under key with the default TTL
func (c *Expiring[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key. When the cache is full and key is new,
// the least recently used entry is evicted first.
func (c *Expiring[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.MoveToBack(el)
	} else {
		if c.maxSize > 0 && c.order.Len() >= c.maxSize {
			c.remove(c.order.Front())
		}
		c.index[key] = c.order.PushBack(key)
	}

	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.items.Set(key, value, ttl)
}

// Delete removes key and reports whether it was present
func (c *Expiring[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// Clear removes every entry
func (c *Expiring[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Flush()
	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Len returns the number of entries, including expired ones not yet read
func (c *Expiring[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Expiring[V]) remove(el *list.Element) {
	key := el.Value.(string)
	c.order.Remove(el)
	delete(c.index, key)
	c.items.Delete(key)
}
