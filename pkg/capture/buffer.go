package capture

import (
	"sync"
	"unsafe"

	"github.com/fako1024/slimcap/capture"
	"golang.org/x/sys/unix"
)

const (
	// bufElementAddSize denotes the required fixed size component for the pktType and pktSize
	// values per element: 1 (pktType) + 4 (uint32)
	bufElementAddSize = 5

	// DefaultLocalBufferNumBuffers bounds how many released buffers the pool
	// retains for reuse; further buffers are allocated on demand.
	DefaultLocalBufferNumBuffers = 8

	// DefaultLocalBufferSizeLimit caps how large a single local buffer may
	// grow while draining packets captured during a lock window.
	DefaultLocalBufferSizeLimit = 64 * 1024 * 1024
)

var (
	// Initial size of a buffer
	initialBufferSize = unix.Getpagesize()

	// Global (limited) memory pool used to minimize allocations
	memPool       = newMemPool(DefaultLocalBufferNumBuffers)
	maxBufferSize = DefaultLocalBufferSizeLimit
)

// bufPool is a small bounded pool of reusable byte slices, handed out to
// LocalBuffer during a lock()/unlock() window so the hot capture loop
// never has to allocate.
type bufPool struct {
	mu   sync.Mutex
	free [][]byte
	cap  int
}

func newMemPool(n int) *memPoolHandle {
	return &memPoolHandle{pool: &bufPool{cap: n}}
}

// memPoolHandle is the handle through which the capture code uses a
// bufPool; Clear() empties the pool's free list in place.
type memPoolHandle struct {
	pool *bufPool
}

// Get returns a buffer from the pool, allocating a new one if the pool is
// currently empty. The size argument is accepted for interface parity with
// size-aware pools but is otherwise unused: buffers grow on demand.
func (h *memPoolHandle) Get(_ int) []byte {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	if n := len(h.pool.free); n > 0 {
		buf := h.pool.free[n-1]
		h.pool.free = h.pool.free[:n-1]
		return buf
	}
	return make([]byte, initialBufferSize)
}

// Put returns a buffer to the pool, dropping it if the pool is already at
// capacity.
func (h *memPoolHandle) Put(buf []byte) {
	if buf == nil {
		return
	}
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	if len(h.pool.free) >= h.pool.cap {
		return
	}
	h.pool.free = append(h.pool.free, buf)
}

// Clear drops every buffer currently held by the pool.
func (h *memPoolHandle) Clear() {
	h.pool.mu.Lock()
	h.pool.free = nil
	h.pool.mu.Unlock()
}

// LocalBuffer denotes a local packet buffer used to temporarily capture packets
// from the source (e.g. during a status read) to avoid a ring / kernel buffer overflow
type LocalBuffer struct {
	data []byte // continuous buffer slice

	snapLen     int // capture length / snaplen for the underlying packet source
	elementSize int // size of an individual element stored in the buffer

	bufPos int // current position in continuous buffer slice
}

// NewLocalBuffer instantiates a new buffer
func NewLocalBuffer(captureHandle capture.SourceZeroCopy) *LocalBuffer {
	p := captureHandle.NewPacket()
	return &LocalBuffer{
		snapLen:     len(p.IPLayer()),
		elementSize: len(p.IPLayer()) + bufElementAddSize, // snaplen + sizes for pktType and pktSize
	}
}

// Assign sets the actual underlying data slice (obtained from a memory pool) of this buffer
func (l *LocalBuffer) Assign(data []byte) {
	l.data = data
}

// Release returns the data slice to the memory pool and resets the buffer position
func (l *LocalBuffer) Release() {
	memPool.Put(l.data)
	l.bufPos = 0
	l.data = nil
}

// Add adds an element to the buffer, returning ok = true if successful
// If the buffer is full / may not grow any further, ok is false
func (l *LocalBuffer) Add(ipLayer capture.IPLayer, pktType byte, pktSize uint32) (ok bool) {

	// Ascertain the current size of the underlying data slice (from the memory pool)
	// and grow if required
	if len(l.data) == 0 {
		l.data = make([]byte, initialBufferSize)
	}

	// If required, grow the buffer
	if l.bufPos+l.elementSize >= len(l.data) {

		// If the buffer size is already at its limit, reject the new element
		if len(l.data) >= maxBufferSize {
			return false
		}

		l.grow(min(maxBufferSize, 2*len(l.data)))
	}

	// Transfer data to the buffer
	copy(l.data[l.bufPos:], ipLayer)
	l.data[l.bufPos+l.snapLen] = pktType
	*(*uint32)(unsafe.Pointer(&l.data[l.bufPos+l.snapLen+1])) = pktSize // #nosec G103

	// Increment buffer position
	l.bufPos += l.elementSize

	return true
}

// Get fetches the i-th element from the buffer (zero-copy)
func (l *LocalBuffer) Get(i int) (capture.IPLayer, byte, uint32) {
	return l.data[i*l.elementSize : i*l.elementSize+l.snapLen], l.data[i*l.elementSize+l.snapLen], *(*uint32)(unsafe.Pointer(&l.data[i*l.elementSize+l.snapLen+1])) // #nosec G103
}

// N returns the number of elements in the buffer
func (l *LocalBuffer) N() int {
	return l.bufPos / l.elementSize
}

// setLocalBuffers sets the number of retained (reusable) buffers and the
// maximum size of the local memory buffers (globally, not per interface)
func setLocalBuffers(nBuffers, sizeLimit int) {
	if memPool != nil {
		memPool.Clear()
	}
	memPool = newMemPool(nBuffers)
	maxBufferSize = sizeLimit
}

func (l *LocalBuffer) grow(newSize int) {
	newData := make([]byte, newSize)
	copy(newData, l.data)
	l.data = newData
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
