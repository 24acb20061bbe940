package detect

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrytap/sentrytap/pkg/category"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/dpi"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
)

// stubState/stubEngine is a minimal dpi.Engine that concludes after N
// packets, used to exercise the worker's budget and completion paths
// without depending on the heuristic engine's byte-pattern matching.
type stubState struct{ seen int }

type stubEngine struct {
	concludeAfter int
	protocolID    uint32
}

func (e *stubEngine) NewState() dpi.State { return &stubState{} }

func (e *stubEngine) Dissect(state dpi.State, _ uint8, _, _ uint16, _ []byte) dpi.Verdict {
	st := state.(*stubState)
	st.seen++
	if st.seen >= e.concludeAfter {
		return dpi.Verdict{Done: true, ProtocolID: e.protocolID}
	}
	return dpi.Verdict{Done: false, ProtocolID: e.protocolID}
}

func (e *stubEngine) ExtractMetadata(dpi.State) dpi.Metadata {
	return dpi.Metadata{Host: "example.test"}
}

func (e *stubEngine) Release(dpi.State) {}

func newTestFlow() *flowrecord.Record {
	id := flowrecord.Identity{
		IfaceName: "eth0",
		LowerIP:   netip.MustParseAddr("10.0.0.1"),
		UpperIP:   netip.MustParseAddr("93.184.216.34"),
		LowerPort: 51234,
		UpperPort: 443,
		IPProto:   6,
	}
	return flowrecord.New(id, time.Now().UnixMilli())
}

func newTestPool(t *testing.T, engine dpi.Engine) (*Pool, *pluginbus.Bus) {
	t.Helper()
	bus := pluginbus.New()
	pool := NewPool(context.Background(), Config{WorkerCount: 2, QueueDepth: 2 * int(DefaultMaxDetectionPkts), EmitDPIUpdates: true}, 0,
		engine, fhc.New(100, 10), dhc.New(time.Minute), &category.Store{}, bus)
	t.Cleanup(pool.Close)
	return pool, bus
}

func TestDetectionConcludesAndEmitsEvents(t *testing.T) {
	var events []string
	pool, bus := newTestPool(t, &stubEngine{concludeAfter: 2, protocolID: 42})
	bus.Subscribe(pluginbus.EventFlowNew, "rec", func(_ context.Context, e string, _ any) { events = append(events, e) })
	bus.Subscribe(pluginbus.EventFlowDPIComplete, "rec", func(_ context.Context, e string, _ any) { events = append(events, e) })

	flow := newTestFlow()
	digest := Digest{1}

	pool.Dispatch(Item{Digest: digest, Flow: flow, IPProto: 6, SrcPort: 51234, DstPort: 443, Payload: []byte("a")})
	pool.Dispatch(Item{Digest: digest, Flow: flow, IPProto: 6, SrcPort: 51234, DstPort: 443, Payload: []byte("b")})
	pool.Close()

	assert.True(t, flow.Flags.DetectionInit())
	assert.True(t, flow.Flags.DetectionComplete())
	assert.False(t, flow.Flags.DetectionGuessed())
	assert.EqualValues(t, 42, flow.DetectedProtocolID)
	assert.Equal(t, "example.test", flow.DNSHostName)
	assert.Equal(t, []string{pluginbus.EventFlowNew, pluginbus.EventFlowDPIComplete}, events)
}

func TestDetectionBudgetForcesGuessedClassification(t *testing.T) {
	pool, _ := newTestPool(t, &stubEngine{concludeAfter: 1000, protocolID: 7})
	flow := newTestFlow()
	digest := Digest{2}

	for i := 0; i < int(DefaultMaxDetectionPkts); i++ {
		pool.Dispatch(Item{Digest: digest, Flow: flow, Payload: []byte{byte(i)}})
	}
	pool.Close()

	require.True(t, flow.Flags.DetectionComplete())
	assert.True(t, flow.Flags.DetectionGuessed())
	assert.EqualValues(t, DefaultMaxDetectionPkts, flow.DetectionPackets.Load())
}

func TestExpiringItemRunsFinalPassAndMarksExpired(t *testing.T) {
	pool, bus := newTestPool(t, &stubEngine{concludeAfter: 1, protocolID: 9})
	var gotExpiring bool
	bus.Subscribe(pluginbus.EventFlowExpiring, "rec", func(context.Context, string, any) { gotExpiring = true })

	flow := newTestFlow()
	digest := Digest{3}
	pool.Dispatch(Item{Digest: digest, Flow: flow, Payload: []byte("last"), Expiring: true})
	pool.Close()

	assert.True(t, gotExpiring)
	assert.True(t, flow.Flags.Expired())
}

// TestFHCHitSkipsEngineAndReusesMetadataDigest exercises the worker's side
// of an FHC hit. The lookup itself now happens on the capture worker before
// a new flow is ever dispatched (so flow_new already carries the hit); this
// test simulates that by pre-marking the flow the way capture.addToFlowMap
// does, and checks the detection worker still never touches the engine and
// still publishes flow_dpi_complete exactly once.
func TestFHCHitSkipsEngineAndReusesMetadataDigest(t *testing.T) {
	digest := Digest{4}
	cachedMetadata := Digest{5}

	bus := pluginbus.New()
	var events []string
	bus.Subscribe(pluginbus.EventFlowDPIComplete, "rec", func(_ context.Context, e string, _ any) { events = append(events, e) })

	pool := NewPool(context.Background(), Config{WorkerCount: 1, QueueDepth: 4}, 0,
		&stubEngine{concludeAfter: 1, protocolID: 1}, fhc.New(100, 10), dhc.New(time.Minute), &category.Store{}, bus)
	t.Cleanup(pool.Close)

	flow := newTestFlow()
	flow.MetadataDigest = cachedMetadata
	flow.Flags.SetFHCHit()
	flow.Flags.SetDetectionComplete()

	pool.Dispatch(Item{Digest: digest, Flow: flow, Payload: []byte("x")})
	pool.Close()

	assert.True(t, flow.Flags.FHCHit())
	assert.Equal(t, cachedMetadata, flow.MetadataDigest)
	assert.EqualValues(t, 0, flow.DetectedProtocolID)
	assert.Equal(t, []string{pluginbus.EventFlowDPIComplete}, events)
}

func TestWorkerForIsSticky(t *testing.T) {
	pool, _ := newTestPool(t, &stubEngine{concludeAfter: 1})
	d := Digest{7}
	assert.Equal(t, pool.WorkerFor(d), pool.WorkerFor(d))
}
