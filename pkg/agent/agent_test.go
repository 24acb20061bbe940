package agent

import (
	"context"
	"sync"
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
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
	"github.com/sentrytap/sentrytap/pkg/updatetick"
)

type nopState struct{}
type nopEngine struct{}

func (nopEngine) NewState() dpi.State                                          { return &nopState{} }
func (nopEngine) Dissect(dpi.State, uint8, uint16, uint16, []byte) dpi.Verdict { return dpi.Verdict{Done: true} }
func (nopEngine) ExtractMetadata(dpi.State) dpi.Metadata                       { return dpi.Metadata{} }
func (nopEngine) Release(dpi.State)                                           {}

func testCollaborators(t *testing.T) (Collaborators, *pluginbus.Bus) {
	t.Helper()
	bus := pluginbus.New()
	pool := detect.NewPool(context.Background(), detect.Config{WorkerCount: 1, QueueDepth: 4}, 0,
		nopEngine{}, fhc.New(10, 10), dhc.New(time.Minute), &category.Store{}, bus)
	t.Cleanup(pool.Close)

	flows := flowmap.New(4)
	ticker := updatetick.NewTicker(updatetick.Config{Interval: time.Hour}, flows, dhc.New(time.Minute), bus,
		testStats{}, pool, func() int { return 1 })

	var mu sync.Mutex
	started, stopped := map[string]bool{}, map[string]bool{}

	deps := Collaborators{
		Bus:    bus,
		Ticker: ticker,
		StartCapture: func(_ context.Context, iface string) error {
			mu.Lock()
			defer mu.Unlock()
			started[iface] = true
			return nil
		},
		StopCapture: func(iface string) error {
			mu.Lock()
			defer mu.Unlock()
			stopped[iface] = true
			return nil
		},
		ReloadConfig:      func() (InterfaceSet, error) { return InterfaceSet{"eth0": {}}, nil },
		DrainNetlink:      func(context.Context) {},
		RefreshSignatures: func(context.Context) error { return nil },
		ForceExpireAll:    func(context.Context) {},
	}
	return deps, bus
}

type testStats struct{}

func (testStats) ProcessStats() updatetick.ProcessStats { return updatetick.ProcessStats{} }
func (testStats) CaptureStats() map[string]updatetick.CaptureStats {
	return map[string]updatetick.CaptureStats{}
}
func (testStats) Interfaces() []updatetick.InterfaceSnapshot { return nil }

func TestInterfaceSetDiff(t *testing.T) {
	before := InterfaceSet{"a": {}, "b": {}}
	after := InterfaceSet{"b": {}, "c": {}}

	added, removed := before.Diff(after)
	assert.ElementsMatch(t, []string{"c"}, added)
	assert.ElementsMatch(t, []string{"a"}, removed)
}

func TestReloadStartsAndStopsDiffOnly(t *testing.T) {
	deps, bus := testCollaborators(t)
	var started, stopped []string
	deps.StartCapture = func(_ context.Context, iface string) error { started = append(started, iface); return nil }
	deps.StopCapture = func(iface string) error { stopped = append(stopped, iface); return nil }
	var reloadEvents int
	bus.Subscribe(pluginbus.EventReload, "rec", func(context.Context, string, any) { reloadEvents++ })

	a := New(Config{}, deps, InterfaceSet{"eth1": {}})
	a.reload(context.Background())

	assert.Equal(t, []string{"eth0"}, started)
	assert.Equal(t, []string{"eth1"}, stopped)
	assert.Equal(t, 1, reloadEvents)
	assert.Equal(t, InterfaceSet{"eth0": {}}, a.ifset)
}

func TestTerminateStopsAllInterfacesAndIsIdempotent(t *testing.T) {
	deps, _ := testCollaborators(t)
	var stopped []string
	deps.StopCapture = func(iface string) error { stopped = append(stopped, iface); return nil }
	a := New(Config{}, deps, InterfaceSet{"eth0": {}, "eth1": {}})

	a.terminate(context.Background())
	assert.True(t, a.stopped)
	assert.ElementsMatch(t, []string{"eth0", "eth1"}, stopped)

	// second call must not panic or double-stop the ticker
	require.NotPanics(t, func() { a.terminate(context.Background()) })
	assert.Len(t, stopped, 2)
}

func TestSignalQueueDropsWhenFull(t *testing.T) {
	deps, _ := testCollaborators(t)
	a := New(Config{}, deps, InterfaceSet{})
	for i := 0; i < 100; i++ {
		a.Signal(SignalUpdate)
	}
	assert.LessOrEqual(t, len(a.sig), cap(a.sig))
}

func TestRunExitsOnTerminateSignal(t *testing.T) {
	deps, _ := testCollaborators(t)
	a := New(Config{}, deps, InterfaceSet{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan int, 1)
	go func() { done <- a.Run(ctx) }()

	a.Signal(SignalTerminate)

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after terminate signal")
	}
}
