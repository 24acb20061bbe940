package dhc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpiry verifies testable property #5: lookup after t+T+eps returns
// empty and purge removes the entry.
func TestExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)

	base := time.Now()
	var cur time.Time = base
	c.now = func() time.Time { return cur }

	c.Insert("203.0.113.9", "example.test")

	host, ok := c.Lookup("203.0.113.9")
	require.True(t, ok)
	assert.Equal(t, "example.test", host)

	cur = base.Add(11 * time.Millisecond)
	_, ok = c.Lookup("203.0.113.9")
	assert.False(t, ok)

	removed := c.Purge()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestLookupDoesNotRefreshExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	base := time.Now()
	cur := base
	c.now = func() time.Time { return cur }

	c.Insert("k", "host")
	cur = base.Add(5 * time.Millisecond)
	_, ok := c.Lookup("k")
	require.True(t, ok)

	cur = base.Add(11 * time.Millisecond)
	_, ok = c.Lookup("k")
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(time.Hour)
	c.Insert("10.0.0.1", "router.lan")
	c.Insert("10.0.0.2", "printer.lan")

	path := filepath.Join(t.TempDir(), "dhc.csv")
	require.NoError(t, c.Save(path))

	loaded := New(time.Hour)
	require.NoError(t, loaded.Load(path))

	host, ok := loaded.Lookup("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "router.lan", host)

	host, ok = loaded.Lookup("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, "printer.lan", host)
}
