// Package flowmap implements the sharded flow map (C5): a fixed array of
// independently-locked buckets keyed by a flow's primary digest. The
// bucket count is fixed at construction and never changes for the life of
// the map; there is no rebalancing or resize.
package flowmap

import (
	"sync"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

// DefaultBucketCount is the default shard count (B in §3).
const DefaultBucketCount = 128

// Digest is the primary-digest key type flows are indexed by.
type Digest = [20]byte

type bucket struct {
	mu sync.Mutex
	m  map[Digest]*flowrecord.Record
}

// Map is the sharded flow map. All exported methods are safe for
// concurrent use; concurrent calls that hash to different buckets never
// contend on the same lock (testable property #2).
type Map struct {
	buckets []*bucket
}

// New creates a Map with n buckets (default DefaultBucketCount if n <= 0).
// The bucket array is created here and destroyed only when the Map is
// garbage collected; its size never changes afterwards.
func New(n int) *Map {
	if n <= 0 {
		n = DefaultBucketCount
	}
	m := &Map{buckets: make([]*bucket, n)}
	for i := range m.buckets {
		m.buckets[i] = &bucket{m: make(map[Digest]*flowrecord.Record)}
	}
	return m
}

// NumBuckets returns the (fixed) number of buckets.
func (m *Map) NumBuckets() int {
	return len(m.buckets)
}

// BucketOf returns the bucket index for a given primary digest:
// first_byte(d) mod B.
func (m *Map) BucketOf(d Digest) int {
	return int(d[0]) % len(m.buckets)
}

// Lookup returns the flow referenced by d, if any. If acquire is true, the
// caller inherits the bucket's lock and must later call Release(d); this
// lets a capture worker perform a lookup-then-maybe-insert sequence
// atomically. If acquire is false, the lookup is a short, self-contained
// critical section.
func (m *Map) Lookup(d Digest, acquire bool) (*flowrecord.Record, bool) {
	b := m.buckets[m.BucketOf(d)]
	b.mu.Lock()
	rec, ok := b.m[d]
	if !acquire {
		b.mu.Unlock()
	}
	return rec, ok
}

// Insert adds flow under d, returning true iff this was a new entry (an
// existing entry is left untouched). If locked is true, the caller already
// holds the bucket's lock (via a prior Lookup(d, true) call) and Insert
// does not lock again; the caller must still Release(d) afterwards.
func (m *Map) Insert(d Digest, flow *flowrecord.Record, locked bool) bool {
	b := m.buckets[m.BucketOf(d)]
	if !locked {
		b.mu.Lock()
		defer b.mu.Unlock()
	}

	if _, exists := b.m[d]; exists {
		return false
	}
	b.m[d] = flow
	return true
}

// Delete removes the flow keyed by d, reporting whether it was present.
func (m *Map) Delete(d Digest) bool {
	b := m.buckets[m.BucketOf(d)]
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.m[d]; !exists {
		return false
	}
	delete(b.m, d)
	return true
}

// Release unlocks the bucket owning d. Must be paired with a prior
// Lookup(d, true) or Insert(d, _, true) call on the same goroutine.
func (m *Map) Release(d Digest) {
	m.buckets[m.BucketOf(d)].mu.Unlock()
}

// Bucket is a locked handle on a single shard, used by sweep operations
// (the update tick) that need to iterate a whole bucket.
type Bucket struct {
	index int
	b     *bucket
}

// Index returns the bucket's index within the map.
func (bk *Bucket) Index() int { return bk.index }

// Range iterates over the bucket's entries. fn must not call back into the
// Map for the same bucket index (it already holds the lock).
func (bk *Bucket) Range(fn func(d Digest, flow *flowrecord.Record)) {
	for d, flow := range bk.b.m {
		fn(d, flow)
	}
}

// Delete removes d from the bucket being iterated. Safe to call from
// within Range's callback.
func (bk *Bucket) Delete(d Digest) {
	delete(bk.b.m, d)
}

// Len returns the number of entries in the bucket.
func (bk *Bucket) Len() int { return len(bk.b.m) }

// AcquireBucket locks and returns bucket i for iteration. The caller must
// call ReleaseBucket(i) when done.
func (m *Map) AcquireBucket(i int) *Bucket {
	b := m.buckets[i]
	b.mu.Lock()
	return &Bucket{index: i, b: b}
}

// ReleaseBucket unlocks bucket i, previously locked via AcquireBucket.
func (m *Map) ReleaseBucket(i int) {
	m.buckets[i].mu.Unlock()
}

// Len returns the total number of flows across all buckets. It locks each
// bucket in turn; callers needing a point-in-time total under heavy
// concurrent mutation should treat the result as approximate.
func (m *Map) Len() int {
	total := 0
	for i := range m.buckets {
		bk := m.AcquireBucket(i)
		total += bk.Len()
		m.ReleaseBucket(i)
	}
	return total
}
