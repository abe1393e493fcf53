// Package artifactcache implements a bounded LRU cache of compiled script
// artifacts keyed by script name. Each entry carries exactly one of a content
// signature (for inline code, invalidated on content mismatch) or a remote
// document modification timestamp (for fetched scripts, invalidated on mod
// timestamp mismatch).
package artifactcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached compiled artifact. Artifact is opaque to the cache; the
// script executor stores a *goja.Program here.
type Entry struct {
	Signature []byte
	ModTime   string
	Artifact  interface{}
}

// Cache is a concurrency-safe, capacity-bounded LRU map of Entry by name.
type Cache struct {
	mu       sync.Mutex
	inner    *lru.Cache[string, *Entry]
	capacity int
}

// New creates a Cache with the given initial capacity. A capacity below 1 is
// raised to 1.
func New(capacity int) (*Cache, error) {
	if capacity < 1 {
		capacity = 1
	}
	inner, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, capacity: capacity}, nil
}

// Get returns the cached entry for name, promoting it to most-recently-used.
func (c *Cache) Get(name string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(name)
}

// Put inserts or overwrites the entry for name, promoting it to
// most-recently-used. Eviction of the least-recently-used entry, if over
// capacity, is handled by the underlying container.
func (c *Cache) Put(name string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(name, entry)
}

// Remove evicts the entry for name, if present.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(name)
}

// SetCapacity resizes the cache, evicting least-recently-used entries if the
// new capacity is smaller than the current size.
func (c *Cache) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Resize(capacity)
	c.capacity = capacity
}

// Size returns the current number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Capacity returns the configured maximum number of cached entries.
func (c *Cache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}
