// Package cache provides a generic, thread-safe LRU cache whose misses can
// be filled by a loader that runs at most once per key at a time.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// Cache maps keys to values, dropping the least recently used pair once
// capacity is reached.
type Cache[K comparable, V any] struct {
	capacity int

	mu    sync.Mutex
	index map[K]*list.Element
	lru   *list.List // front is most recently used

	flight singleflight.Group

	hits, misses, evicts, loads atomic.Uint64
}

type pair[K comparable, V any] struct {
	key   K
	value V
}

func pairOf[K comparable, V any](el *list.Element) *pair[K, V] {
	return el.Value.(*pair[K, V])
}

// New returns an empty cache for at most capacity values.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		index:    make(map[K]*list.Element, capacity),
		lru:      list.New(),
	}
}

// peek returns the value of key without touching recency or counters.
func (c *Cache[K, V]) peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		return pairOf[K, V](el).value, true
	}
	var zero V
	return zero, false
}

// Get returns the value of key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.lru.MoveToFront(el)
	return pairOf[K, V](el).value, true
}

// Set stores value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		pairOf[K, V](el).value = value
		c.lru.MoveToFront(el)
		return
	}
	for len(c.index) >= c.capacity {
		c.evictOldest()
	}
	c.index[key] = c.lru.PushFront(&pair[K, V]{key: key, value: value})
}

// evictOldest must be called with mu held.
func (c *Cache[K, V]) evictOldest() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	delete(c.index, pairOf[K, V](el).key)
	c.lru.Remove(el)
	c.evicts.Add(1)
}

// GetOrLoad returns the value of key, calling load on a miss. Callers
// missing on the same key at the same time share one load. Load errors are
// returned and not cached; hit reports whether load was skipped.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (value V, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	shared, err, _ := c.flight.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		c.loads.Add(1)
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		return value, false, err
	}
	return shared.(V), false, nil
}

// Delete drops key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.lru.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every value. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.index)
	c.lru.Init()
}

// Keys lists the cached keys, most recently used first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, pairOf[K, V](el).key)
	}
	return keys
}

// Stats is a snapshot of a cache's size and counters.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Loads    uint64
	HitRate  float64
}

// Stats returns a snapshot of c.
func (c *Cache[K, V]) Stats() Stats {
	s := Stats{
		Size:     c.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Evicts:   c.evicts.Load(),
		Loads:    c.loads.Load(),
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups)
	}
	return s
}
