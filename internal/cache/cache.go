package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"snaptree/internal/base"
)

// Cache implements a Page cache on top of an LRU eviction policy. Eviction
// bookkeeping is delegated to freelru; this layer only adds the page-cache
// specific Stats surface the rest of the pager depends on.
type Cache struct {
	lru *freelru.LRU[base.PageID, *base.Node]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

const (
	MinCacheSize = 16 // Minimum: hold tree path + concurrent ops
)

func hashPageID(id base.PageID) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return uint32(xxhash.Sum64(buf[:]))
}

// NewCache creates a new Page cache with the specified maximum size
func NewCache(maxSize int) *Cache {
	maxSize = max(maxSize, MinCacheSize)

	lru, err := freelru.New[base.PageID, *base.Node](uint32(maxSize), hashPageID)
	if err != nil {
		panic(err)
	}

	c := &Cache{lru: lru}
	lru.SetOnEvict(func(base.PageID, *base.Node) {
		c.evictions.Add(1)
	})

	return c
}

// Put adds a node to the cache, replacing any existing entry for the id.
func (c *Cache) Put(pageID base.PageID, node *base.Node) {
	c.lru.Add(pageID, node)
}

// Get retrieves a node from the cache.
// Returns (Node, true) on cache hit, (nil, false) on miss.
func (c *Cache) Get(pageID base.PageID) (*base.Node, bool) {
	node, ok := c.lru.Get(pageID)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return node, true
}

// Remove removes a page from the cache.
func (c *Cache) Remove(pageID base.PageID) {
	c.lru.Remove(pageID)
}

// Size returns current number of cached entries
func (c *Cache) Size() int {
	return c.lru.Len()
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// ClearStats resets the cache's positive incrementing statistics
func (c *Cache) ClearStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}
