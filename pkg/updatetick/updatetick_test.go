package updatetick

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrytap/sentrytap/pkg/category"
	"github.com/sentrytap/sentrytap/pkg/detect"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/dpi"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
)

type stubStats struct{}

func (stubStats) ProcessStats() ProcessStats { return ProcessStats{} }
func (stubStats) CaptureStats() map[string]CaptureStats {
	return map[string]CaptureStats{"eth0": {PacketsReceived: 10}}
}
func (stubStats) Interfaces() []InterfaceSnapshot { return []InterfaceSnapshot{{Name: "eth0", Up: true}} }

// noopEngine always concludes immediately, just enough to let the
// detection pool's expiring-flow final pass run without blocking tests
// on real dissection logic.
type noopState struct{}
type noopEngine struct{}

func (noopEngine) NewState() dpi.State                                          { return &noopState{} }
func (noopEngine) Dissect(dpi.State, uint8, uint16, uint16, []byte) dpi.Verdict { return dpi.Verdict{Done: true} }
func (noopEngine) ExtractMetadata(dpi.State) dpi.Metadata                       { return dpi.Metadata{} }
func (noopEngine) Release(dpi.State)                                           {}

func newTestPool(t *testing.T) *detect.Pool {
	t.Helper()
	pool := detect.NewPool(context.Background(), detect.Config{WorkerCount: 1, QueueDepth: 16}, 0,
		noopEngine{}, fhc.New(100, 10), dhc.New(time.Minute), &category.Store{}, pluginbus.New())
	return pool
}

func newFlowAt(nowMs int64, ipProto uint8) (*flowrecord.Record, flowmap.Digest) {
	id := flowrecord.Identity{
		IfaceName: "eth0",
		LowerIP:   netip.MustParseAddr("10.0.0.1"),
		UpperIP:   netip.MustParseAddr("10.0.0.2"),
		LowerPort: 5000,
		UpperPort: 53,
		IPProto:   ipProto,
	}
	flow := flowrecord.New(id, nowMs)
	var digest flowmap.Digest
	digest[0] = 1
	return flow, digest
}

func TestFireBroadcastsInOrder(t *testing.T) {
	bus := pluginbus.New()
	var order []string
	for _, e := range []string{
		pluginbus.EventUpdateInit, pluginbus.EventPktCaptureStats, pluginbus.EventPktGlobalStats,
		pluginbus.EventFlowMap, pluginbus.EventUpdateComplete, pluginbus.EventStatusUpdate,
	} {
		bus.Subscribe(e, "rec", func(_ context.Context, e string, _ any) { order = append(order, e) })
	}

	flows := flowmap.New(4)
	pool := newTestPool(t)
	defer pool.Close()
	ticker := NewTicker(Config{}, flows, dhc.New(time.Minute), bus, stubStats{}, pool, func() int { return 1 })
	ticker.fire(context.Background(), time.Now())

	assert.Equal(t, []string{
		pluginbus.EventStatusUpdate,
		pluginbus.EventUpdateInit,
		pluginbus.EventPktCaptureStats,
		pluginbus.EventPktGlobalStats,
		pluginbus.EventFlowMap,
		pluginbus.EventUpdateComplete,
	}, order)
}

func TestIdleUDPFlowMarkedExpiringThenPurged(t *testing.T) {
	bus := pluginbus.New()
	var expireCount int
	bus.Subscribe(pluginbus.EventFlowExpire, "rec", func(context.Context, string, any) { expireCount++ })

	flows := flowmap.New(4)
	startMs := time.Now().UnixMilli()
	flow, digest := newFlowAt(startMs, 17)
	flows.Insert(digest, flow, false)

	pool := newTestPool(t)
	ticker := NewTicker(Config{IdleTTL: 10 * time.Millisecond}, flows, dhc.New(time.Minute), bus, stubStats{}, pool, func() int { return 1 })

	laterMs := startMs + 50
	ticker.sweepBuckets(context.Background(), laterMs)
	// drain the pool's async final pass before asserting.
	pool.Close()

	require.True(t, flow.Flags.Expiring())
	require.True(t, flow.Flags.Expired())

	ticker.sweepBuckets(context.Background(), laterMs+1)

	assert.Equal(t, 1, expireCount)
	_, found := flows.Lookup(digest, false)
	assert.False(t, found)
}

func TestActiveFlowNotExpired(t *testing.T) {
	bus := pluginbus.New()
	flows := flowmap.New(4)
	startMs := time.Now().UnixMilli()
	flow, digest := newFlowAt(startMs, 17)
	flows.Insert(digest, flow, false)

	pool := newTestPool(t)
	defer pool.Close()
	ticker := NewTicker(Config{IdleTTL: time.Hour}, flows, dhc.New(time.Minute), bus, stubStats{}, pool, func() int { return 1 })
	ticker.sweepBuckets(context.Background(), startMs+1)

	assert.False(t, flow.Flags.Expiring())
	assert.False(t, flow.Flags.Expired())
}

func TestTCPIdleThresholdDiffersByFinAck(t *testing.T) {
	flows := flowmap.New(4)
	bus := pluginbus.New()
	pool := newTestPool(t)
	defer pool.Close()
	ticker := NewTicker(Config{IdleTTL: 10 * time.Millisecond, TCPIdleTTL: time.Hour}, flows, dhc.New(time.Minute), bus, stubStats{}, pool, func() int { return 1 })

	startMs := time.Now().UnixMilli()
	withFinAck, _ := newFlowAt(startMs, 6)
	withFinAck.Flags.SetTCPFinAck()
	noFinAck, _ := newFlowAt(startMs, 6)

	assert.Equal(t, ticker.cfg.IdleTTL, ticker.idleThreshold(withFinAck))
	assert.Equal(t, ticker.cfg.TCPIdleTTL, ticker.idleThreshold(noFinAck))
}
