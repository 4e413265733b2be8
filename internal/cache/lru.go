// Package cache provides a small thread-safe LRU cache with optional expiry.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LRU holds at most size entries, evicting the least recently used. When ttl
// is positive, entries older than ttl are treated as absent.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	clock   clockwork.Clock
	order   *list.List // front is most recently used
	entries map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// New creates an LRU with no expiry. Sizes below one are treated as one.
func New[K comparable, V any](size int) *LRU[K, V] {
	return NewWithTTL[K, V](size, 0, clockwork.NewRealClock())
}

// NewWithTTL creates an LRU whose entries expire ttl after they were stored.
func NewWithTTL[K comparable, V any](size int, ttl time.Duration, clock clockwork.Clock) *LRU[K, V] {
	if size < 1 {
		size = 1
	}
	return &LRU[K, V]{
		size:    size,
		ttl:     ttl,
		clock:   clock,
		order:   list.New(),
		entries: make(map[K]*list.Element, size),
	}
}

// Get returns the cached value and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Put stores value under key, replacing any previous value.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.storedAt = now
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, storedAt: now})
	for c.order.Len() > c.size {
		c.removeElement(c.order.Back())
	}
}

// Remove drops key if present.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.entries)
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.clock.Since(e.storedAt) >= c.ttl
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.entries, e.key)
}
