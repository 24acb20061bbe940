package flowmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

func digestWithFirstByte(b byte) Digest {
	var d Digest
	d[0] = b
	d[1] = b // keep remaining bytes distinct-ish but deterministic
	return d
}

func newTestRecord() *flowrecord.Record {
	return flowrecord.New(flowrecord.Identity{IfaceName: "eth0"}, 0)
}

func TestInsertLookupDelete(t *testing.T) {
	m := New(4)
	d := digestWithFirstByte(1)
	rec := newTestRecord()

	isNew := m.Insert(d, rec, false)
	require.True(t, isNew)

	isNew = m.Insert(d, rec, false)
	assert.False(t, isNew)

	got, ok := m.Lookup(d, false)
	require.True(t, ok)
	assert.Same(t, rec, got)

	assert.True(t, m.Delete(d))
	assert.False(t, m.Delete(d))
}

func TestAcquireReleaseSequence(t *testing.T) {
	m := New(4)
	d := digestWithFirstByte(2)

	_, ok := m.Lookup(d, true)
	require.False(t, ok)
	isNew := m.Insert(d, newTestRecord(), true)
	require.True(t, isNew)
	m.Release(d)

	got, ok := m.Lookup(d, false)
	require.True(t, ok)
	assert.NotNil(t, got)
}

// TestBucketLocality verifies testable property #2: flows in different
// buckets never contend on the same lock, demonstrated by holding one
// bucket's lock indefinitely while another bucket's operations proceed
// without delay.
func TestBucketLocality(t *testing.T) {
	m := New(4)

	dA := digestWithFirstByte(0) // bucket 0
	dB := digestWithFirstByte(1) // bucket 1
	require.NotEqual(t, m.BucketOf(dA), m.BucketOf(dB))

	bk := m.AcquireBucket(m.BucketOf(dA))
	defer m.ReleaseBucket(bk.Index())

	done := make(chan struct{})
	go func() {
		m.Insert(dB, newTestRecord(), false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("insert into a different bucket blocked while another bucket's lock was held")
	}
}

func TestBucketRangeAndDelete(t *testing.T) {
	m := New(2)
	var digests []Digest
	for i := 0; i < 10; i++ {
		d := digestWithFirstByte(byte(i % 2))
		d[2] = byte(i)
		digests = append(digests, d)
		m.Insert(d, newTestRecord(), false)
	}

	assert.Equal(t, 10, m.Len())

	bk := m.AcquireBucket(0)
	var toDelete []Digest
	bk.Range(func(d Digest, flow *flowrecord.Record) {
		toDelete = append(toDelete, d)
	})
	for _, d := range toDelete {
		bk.Delete(d)
	}
	m.ReleaseBucket(0)

	assert.Equal(t, 10-len(toDelete), m.Len())
}

func TestConcurrentDifferentBucketsNoRace(t *testing.T) {
	m := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := digestWithFirstByte(b)
				d[3] = byte(j)
				m.Insert(d, newTestRecord(), false)
				m.Lookup(d, false)
				m.Delete(d)
			}
		}(byte(i))
	}
	wg.Wait()
}
