// Package fhc implements the flow-hash cache (C3): a bounded LRU from a
// flow's primary digest to its metadata digest, letting capture workers
// short-circuit DPI for flows already classified in a previous rotation.
package fhc

import (
	"container/list"
	"sync"

	"github.com/sentrytap/sentrytap/pkg/logging"
)

const (
	// DefaultCapacity is the default number of entries retained.
	DefaultCapacity = 10000
	// DefaultPurgeDivisor controls how many entries are evicted once the
	// cache is full: capacity / PurgeDivisor entries are dropped from the
	// LRU tail per eviction.
	DefaultPurgeDivisor = 10

	// recordSize is the on-disk size of a persisted entry: a 20-byte
	// primary digest followed by a 20-byte metadata digest.
	recordSize  = 40
	digestSize  = 20
)

type entry struct {
	primary  [digestSize]byte
	metadata [digestSize]byte
}

// Cache is a single-lock, bounded LRU cache from primary digest to
// metadata digest. All operations are O(1) amortized.
type Cache struct {
	mu            sync.Mutex
	capacity      int
	purgeDivisor  int
	ll            *list.List // of *entry, front = most recently used
	index         map[[digestSize]byte]*list.Element
}

// New creates an empty Cache with the given capacity and purge divisor. A
// capacity of 0 falls back to DefaultCapacity; a purgeDivisor of 0 falls
// back to DefaultPurgeDivisor.
func New(capacity, purgeDivisor int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if purgeDivisor <= 0 {
		purgeDivisor = DefaultPurgeDivisor
	}
	return &Cache{
		capacity:     capacity,
		purgeDivisor: purgeDivisor,
		ll:           list.New(),
		index:        make(map[[digestSize]byte]*list.Element, capacity),
	}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Push inserts primary -> metadata. If primary is already present, the
// operation is a deliberate no-op (idempotent: a concurrent insert race for
// the same key is benign, per §4.3).
func (c *Cache) Push(primary, metadata [digestSize]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[primary]; ok {
		logging.Logger().Warn("duplicate FHC push ignored", "primary", primary)
		return
	}

	if c.ll.Len() >= c.capacity {
		c.evictLocked()
	}

	el := c.ll.PushFront(&entry{primary: primary, metadata: metadata})
	c.index[primary] = el
}

// evictLocked drops capacity/purgeDivisor entries from the LRU tail. Must
// be called with mu held.
func (c *Cache) evictLocked() {
	n := c.capacity / c.purgeDivisor
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		back := c.ll.Back()
		if back == nil {
			return
		}
		ent := back.Value.(*entry)
		delete(c.index, ent.primary)
		c.ll.Remove(back)
	}
}

// Pop looks up primary, promoting it to the head of the LRU on a hit.
func (c *Cache) Pop(primary [digestSize]byte) (metadata [digestSize]byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.index[primary]
	if !found {
		return metadata, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).metadata, true
}
