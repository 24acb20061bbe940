package updatetick

import (
	"sync"

	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

// slot is one per-second bucket of the sliding rate window.
type slot struct {
	bytesLowerToUpper   uint64
	bytesUpperToLower   uint64
	packetsLowerToUpper uint64
	packetsUpperToLower uint64
	set                 bool
}

type window struct {
	slots []slot
}

// RateWindow maintains one sliding per-second window per flow, keyed by
// primary digest, as described in §4.8 step 9. It is owned and advanced
// exclusively by the update tick; flows themselves hold only the raw
// delta counters consumed into it each tick.
type RateWindow struct {
	mu      sync.Mutex
	size    int
	windows map[flowmap.Digest]*window
}

// NewRateWindow constructs a RateWindow with the given number of
// per-second slots (normally update_interval in seconds). A size <= 0
// falls back to 1.
func NewRateWindow(size int) *RateWindow {
	if size <= 0 {
		size = 1
	}
	return &RateWindow{size: size, windows: make(map[flowmap.Digest]*window)}
}

// Record distributes sample into the slot for nowMs, per
// floor(now_ms/1000) mod size.
func (rw *RateWindow) Record(digest flowmap.Digest, sample flowrecord.RateSample, nowMs int64) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	w, ok := rw.windows[digest]
	if !ok {
		w = &window{slots: make([]slot, rw.size)}
		rw.windows[digest] = w
	}

	idx := int((nowMs / 1000) % int64(rw.size))
	w.slots[idx] = slot{
		bytesLowerToUpper:   sample.BytesLowerToUpper,
		bytesUpperToLower:   sample.BytesUpperToLower,
		packetsLowerToUpper: sample.PacketsLowerToUpper,
		packetsUpperToLower: sample.PacketsUpperToLower,
		set:                 true,
	}
}

// MeanRate returns the mean bytes/sec and packets/sec (per direction)
// across this flow's non-zero slots. ok is false if the flow has no
// recorded samples.
func (rw *RateWindow) MeanRate(digest flowmap.Digest) (sample flowrecord.RateSample, ok bool) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	w, found := rw.windows[digest]
	if !found {
		return sample, false
	}

	var n uint64
	var sumBL, sumBU, sumPL, sumPU uint64
	for _, s := range w.slots {
		if !s.set {
			continue
		}
		n++
		sumBL += s.bytesLowerToUpper
		sumBU += s.bytesUpperToLower
		sumPL += s.packetsLowerToUpper
		sumPU += s.packetsUpperToLower
	}
	if n == 0 {
		return sample, false
	}
	return flowrecord.RateSample{
		BytesLowerToUpper:   sumBL / n,
		BytesUpperToLower:   sumBU / n,
		PacketsLowerToUpper: sumPL / n,
		PacketsUpperToLower: sumPU / n,
	}, true
}

// Forget drops a flow's window, called once it is purged from the flow
// map.
func (rw *RateWindow) Forget(digest flowmap.Digest) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	delete(rw.windows, digest)
}
