// Package dhc implements the DNS-hint cache (C4): a TTL-bounded map from
// an observed IP (or a digest thereof) to the last DNS name seen resolving
// to it, used to hint hostnames onto flows before DPI has a chance to
// observe them directly.
package dhc

import (
	"sync"
	"time"
)

// DefaultTTL is the default entry lifetime (ttl_dns_entry in the
// configuration).
const DefaultTTL = 30 * time.Minute

type entry struct {
	expiresAt time.Time
	hostname  string
}

// Cache is a single-lock, TTL-bounded hostname cache.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New creates an empty Cache with the given TTL. A TTL of 0 falls back to
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl: ttl,
		m:   make(map[string]entry),
		now: time.Now,
	}
}

// Len returns the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Insert sets key -> hostname with an expiry of now + TTL.
func (c *Cache) Insert(key, hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{
		expiresAt: c.now().Add(c.ttl),
		hostname:  hostname,
	}
}

// Lookup returns the hostname for key if present and not expired. A hit
// does not refresh the entry's expiry.
func (c *Cache) Lookup(key string) (hostname string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.m[key]
	if !found || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.hostname, true
}

// Purge removes all expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.m {
		if now.After(e.expiresAt) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}
