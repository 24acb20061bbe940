package fhc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(b byte) [digestSize]byte {
	var d [digestSize]byte
	d[0] = b
	return d
}

// TestLRUEviction verifies testable property #3: after cap+1 distinct
// pushes, at least one of the first cap/purgeDivisor entries is gone.
func TestLRUEviction(t *testing.T) {
	const cap = 20
	const divisor = 5
	c := New(cap, divisor)

	for i := 0; i < cap; i++ {
		c.Push(digest(byte(i)), digest(byte(i)))
	}
	require.Equal(t, cap, c.Len())

	// one more push forces an eviction of cap/divisor = 4 tail entries
	c.Push(digest(byte(cap)), digest(byte(cap)))

	evictedCount := 0
	for i := 0; i < cap/divisor; i++ {
		if _, ok := c.Pop(digest(byte(i))); !ok {
			evictedCount++
		}
	}
	assert.Greater(t, evictedCount, 0)
}

func TestPushIdempotentOnDuplicate(t *testing.T) {
	c := New(10, 2)
	c.Push(digest(1), digest(1))
	c.Push(digest(1), digest(99)) // should be ignored

	got, ok := c.Pop(digest(1))
	require.True(t, ok)
	assert.Equal(t, digest(1), got)
}

func TestPopPromotesToFront(t *testing.T) {
	c := New(3, 3)
	c.Push(digest(1), digest(1))
	c.Push(digest(2), digest(2))
	c.Push(digest(3), digest(3))

	// touch 1 so it isn't the LRU victim
	_, ok := c.Pop(digest(1))
	require.True(t, ok)

	// force eviction of 1 entry (3/3 = 1): should evict the actual LRU tail (2)
	c.Push(digest(4), digest(4))

	_, ok = c.Pop(digest(2))
	assert.False(t, ok)
	_, ok = c.Pop(digest(1))
	assert.True(t, ok)
}

// TestSaveLoadRoundTrip verifies testable property #4.
func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(100, 10)
	keys := make([][digestSize]byte, 0, 50)
	for i := 0; i < 50; i++ {
		k := digest(byte(i))
		v := digest(byte(i + 1))
		c.Push(k, v)
		keys = append(keys, k)
	}

	path := filepath.Join(t.TempDir(), "fhc.bin")
	require.NoError(t, c.Save(path))

	loaded := New(100, 10)
	require.NoError(t, loaded.Load(path))

	for _, k := range keys {
		want, ok := c.Pop(k)
		require.True(t, ok)
		got, ok := loaded.Pop(k)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := New(10, 2)
	err := c.Load(filepath.Join(t.TempDir(), "nope.bin"))
	assert.Error(t, err)
}

func TestSaveCreatesParentlessFile(t *testing.T) {
	c := New(10, 2)
	c.Push(digest(5), digest(6))
	path := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, c.Save(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(recordSize), info.Size())
}
