package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentrytap/sentrytap/pkg/addrclass"
	"github.com/sentrytap/sentrytap/pkg/capture/capturetypes"
	"github.com/sentrytap/sentrytap/pkg/config"
	"github.com/sentrytap/sentrytap/pkg/detect"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/logging"
	"github.com/sentrytap/sentrytap/pkg/updatetick"
	"golang.org/x/exp/slog"
)

// Manager manages a set of Capture instances, one per configured
// interface, all dispatching into a single shared flow map and detection
// pool. Each interface can be associated with up to one Capture.
type Manager struct {
	sync.RWMutex

	flows *flowmap.Map
	pool  *detect.Pool

	maxDetectionPkts uint32

	captures     *captures
	sourceInitFn sourceInitFn
	natDetector  natDetectorFn
	addrSource   addrSourceFn
	fhcCache     *fhc.Cache
	dhcCache     *dhc.Cache

	lastAppliedConfig config.Ifaces

	startedAt time.Time
}

// InitManager initializes a Manager and starts a Capture for every
// interface present in config.Interfaces. Used as the primary entrypoint
// for the daemon and for integration tests.
func InitManager(ctx context.Context, cfg *config.Config, flows *flowmap.Map, pool *detect.Pool, opts ...ManagerOption) (*Manager, error) {
	captureManager := NewManager(flows, pool, cfg.MaxDetectionPkts, opts...)

	_, _, _, err := captureManager.Update(ctx, cfg.Interfaces)
	if err != nil {
		return nil, err
	}

	captureManager.startedAt = time.Now()

	return captureManager, nil
}

// NewManager creates a new Manager.
func NewManager(flows *flowmap.Map, pool *detect.Pool, maxDetectionPkts uint32, opts ...ManagerOption) *Manager {
	if maxDetectionPkts == 0 {
		maxDetectionPkts = detect.DefaultMaxDetectionPkts
	}
	captureManager := &Manager{
		flows:            flows,
		pool:             pool,
		maxDetectionPkts: maxDetectionPkts,
		captures:         newCaptures(),
		sourceInitFn:     defaultSourceInitFn,
	}
	for _, opt := range opts {
		opt(captureManager)
	}
	return captureManager
}

// StartedAt returns the timestamp when the capture manager was initialized
func (cm *Manager) StartedAt() (t time.Time) {
	cm.RLock()
	t = cm.startedAt
	cm.RUnlock()

	return
}

// ManagerOption denotes a functional option for any Manager
type ManagerOption func(cm *Manager)

// WithSourceInitFn sets a custom function used to initialize a new capture
func WithSourceInitFn(fn sourceInitFn) ManagerOption {
	return func(cm *Manager) {
		cm.sourceInitFn = fn
	}
}

// WithNATDetector sets the function used to detect NAT'd flows on every
// Capture the Manager starts. Without this option, NAT detection is
// disabled.
func WithNATDetector(fn natDetectorFn) ManagerOption {
	return func(cm *Manager) {
		cm.natDetector = fn
	}
}

// WithAddrSource sets the function used to look up a capture interface's
// address set for the address role classifier (pkg/addrclass) on every
// Capture the Manager starts. Without this option, classification is
// disabled and LowerMap/OtherType stay at their zero value.
func WithAddrSource(fn func(iface string) addrclass.InterfaceAddrs) ManagerOption {
	return func(cm *Manager) {
		cm.addrSource = addrSourceFn(fn)
	}
}

// WithFHCCache sets the flow-hash cache consulted at flow-creation time on
// every Capture the Manager starts.
func WithFHCCache(cache *fhc.Cache) ManagerOption {
	return func(cm *Manager) {
		cm.fhcCache = cache
	}
}

// WithDHCCache sets the DNS-hint cache consulted at flow-creation time on
// every Capture the Manager starts.
func WithDHCCache(cache *dhc.Cache) ManagerOption {
	return func(cm *Manager) {
		cm.dhcCache = cache
	}
}

// Config returns the runtime config of the capture manager for all (or a set of) interfaces
func (cm *Manager) Config(_ context.Context, ifaces ...string) (ifaceConfigs config.Ifaces) {
	cm.RLock()
	defer cm.RUnlock()

	if ifaces = cm.captures.Ifaces(ifaces...); len(ifaces) == 0 {
		return
	}

	ifaceConfigs = make(config.Ifaces)
	for _, iface := range ifaces {
		if cfg, exists := cm.lastAppliedConfig[iface]; exists {
			ifaceConfigs[iface] = cfg
		}
	}
	return
}

// Status fetches the current capture stats from all (or a set of) interfaces
func (cm *Manager) Status(ctx context.Context, ifaces ...string) (statusmap capturetypes.InterfaceStats) {

	logger, t0 := logging.FromContext(ctx), time.Now()

	statusmap = make(capturetypes.InterfaceStats)

	if ifaces = cm.captures.Ifaces(ifaces...); len(ifaces) == 0 {
		return
	}

	var (
		statusmapMutex sync.Mutex
		rg             RunGroup
	)
	for _, iface := range ifaces {
		mc, exists := cm.captures.Get(iface)
		if !exists {
			continue
		}
		rg.Run(func() {
			runCtx := withIfaceContext(ctx, mc.iface)

			mc.lock()
			status, err := mc.status()
			mc.unlock()

			if err != nil {
				logging.FromContext(runCtx).Error("failed to get capture stats", "error", err)
				return
			}

			statusmapMutex.Lock()
			statusmap[mc.iface] = *status
			statusmapMutex.Unlock()
		})
	}
	rg.Wait()

	logger.With(
		"elapsed", time.Since(t0).Round(time.Millisecond).String(),
		"ifaces", ifaces,
	).Debug("retrieved interface status")

	numFlows.WithLabelValues("all").Set(float64(cm.flows.Len()))

	return
}

// StartCapture starts a new capture on iface using the interface
// configuration currently applied, satisfying the agent.Collaborators
// StartCapture contract.
func (cm *Manager) StartCapture(ctx context.Context, iface string) error {
	cm.Lock()
	defer cm.Unlock()

	if _, exists := cm.captures.GetNoLock(iface); exists {
		return nil
	}

	cfg := cm.lastAppliedConfig[iface]

	runCtx := withIfaceContext(ctx, iface)
	logger := logging.FromContext(runCtx)
	logger.Info("initializing capture / running packet processing")

	cap := newCapture(iface, cfg, cm.flows, cm.pool, cm.maxDetectionPkts).
		SetSourceInitFn(cm.sourceInitFn).
		SetNATDetector(cm.natDetector).
		SetAddrSource(cm.addrSource).
		SetFHCCache(cm.fhcCache).
		SetDHCCache(cm.dhcCache)
	if err := cap.run(); err != nil {
		return fmt.Errorf("failed to start capture on %s: %w", iface, err)
	}
	cap.process()

	cm.captures.SetNoLock(iface, cap)
	interfacesCapturing.Set(float64(len(cm.captures.Map)))

	return nil
}

// StopCapture stops and removes the capture on iface, satisfying the
// agent.Collaborators StopCapture contract.
func (cm *Manager) StopCapture(iface string) error {
	cm.Lock()
	defer cm.Unlock()

	mc, exists := cm.captures.GetNoLock(iface)
	if !exists {
		return nil
	}

	if err := mc.close(); err != nil {
		return fmt.Errorf("failed to close capture on %s: %w", iface, err)
	}

	cm.captures.DeleteNoLock(iface)
	interfacesCapturing.Set(float64(len(cm.captures.Map)))

	return nil
}

// Update applies a new interface configuration set, starting, restarting
// or stopping Capture instances as needed.
func (cm *Manager) Update(ctx context.Context, ifaces config.Ifaces) (enabled, updated, disabled []string, err error) {
	if err = ifaces.Validate(); err != nil {
		return
	}

	logger, t0 := logging.FromContext(ctx), time.Now()

	var (
		ifaceSet                                  = make(map[string]struct{})
		enableIfaces, updateIfaces, disableIfaces []string
	)

	cm.Lock()
	for iface, cfg := range ifaces {
		ifaceSet[iface] = struct{}{}
		if _, exists := cm.captures.GetNoLock(iface); !exists {
			enableIfaces = append(enableIfaces, iface)
		} else if runtimeCfg := cm.lastAppliedConfig[iface]; !cfg.Equals(runtimeCfg) {
			updateIfaces = append(updateIfaces, iface)
		}
	}
	for iface := range cm.captures.Map {
		if _, exists := ifaceSet[iface]; !exists {
			disableIfaces = append(disableIfaces, iface)
		}
	}
	cm.lastAppliedConfig = ifaces
	cm.Unlock()

	disable := append(disableIfaces, updateIfaces...)
	enable := append(enableIfaces, updateIfaces...)

	for _, iface := range disable {
		if err := cm.StopCapture(iface); err != nil {
			logger.Error("failed to stop capture", "interface", iface, "error", err)
		}
	}
	for _, iface := range enable {
		if err := cm.StartCapture(ctx, iface); err != nil {
			logger.Error("failed to start capture", "interface", iface, "error", err)
		}
	}

	logger.With(
		"elapsed", time.Since(t0).Round(time.Millisecond).String(),
		slog.Group("ifaces",
			"added", enableIfaces,
			"updated", updateIfaces,
			"removed", disableIfaces,
		),
	).Debug("updated interface configuration")

	return enableIfaces, updateIfaces, disableIfaces, nil
}

// Close stops / closes all (or a set of) interfaces
func (cm *Manager) Close(ctx context.Context, ifaces ...string) {

	logger, t0 := logging.FromContext(ctx), time.Now()

	if ifaces = cm.captures.Ifaces(ifaces...); len(ifaces) == 0 {
		return
	}

	for _, iface := range ifaces {
		if err := cm.StopCapture(iface); err != nil {
			logger.Error("failed to close capture", "interface", iface, "error", err)
		}
	}

	logger.With(
		"elapsed", time.Since(t0).Round(time.Millisecond).String(),
		"ifaces", ifaces,
	).Debug("closed interfaces")
}

// Alive reports how many capture workers are currently running, used by
// the update tick's run_without_sources shutdown check.
func (cm *Manager) Alive() int {
	cm.RLock()
	defer cm.RUnlock()
	return len(cm.captures.Map)
}

// ProcessStats implements updatetick.StatsSource. Process-level resource
// accounting is out of scope here; the zero value is reported.
func (cm *Manager) ProcessStats() updatetick.ProcessStats {
	return updatetick.ProcessStats{}
}

// CaptureStats implements updatetick.StatsSource, returning and resetting
// the per-interface packet counters accumulated since the last tick.
func (cm *Manager) CaptureStats() map[string]updatetick.CaptureStats {
	cm.RLock()
	ifaces := cm.captures.Ifaces()
	cm.RUnlock()

	out := make(map[string]updatetick.CaptureStats, len(ifaces))
	for _, iface := range ifaces {
		mc, exists := cm.captures.Get(iface)
		if !exists {
			continue
		}
		mc.lock()
		stats, err := mc.status()
		mc.unlock()
		if err != nil {
			continue
		}
		out[iface] = updatetick.CaptureStats{
			PacketsReceived: stats.Received,
			PacketsDropped:  stats.Dropped,
		}
		bytesReceived.WithLabelValues(iface).Add(0)
	}
	return out
}

// Interfaces implements updatetick.StatsSource, reporting the currently
// running capture interfaces.
func (cm *Manager) Interfaces() []updatetick.InterfaceSnapshot {
	cm.RLock()
	defer cm.RUnlock()

	out := make([]updatetick.InterfaceSnapshot, 0, len(cm.captures.Map))
	for iface := range cm.captures.Map {
		out = append(out, updatetick.InterfaceSnapshot{Name: iface, Up: true})
	}
	return out
}

// ForceExpireAll marks every flow in the map as expiring, used during
// termination when auto_flow_expiry is set.
func (cm *Manager) ForceExpireAll(ctx context.Context) {
	nowMs := time.Now().UnixMilli()
	for i := 0; i < cm.flows.NumBuckets(); i++ {
		b := cm.flows.AcquireBucket(i)
		b.Range(func(digest flowmap.Digest, flow *flowrecord.Record) {
			if flow.Flags.Expiring() {
				return
			}
			flow.Flags.SetExpiring()
			flow.Acquire()
			cm.pool.Dispatch(detect.Item{
				Digest:   digest,
				Flow:     flow,
				IPProto:  flow.Identity.IPProto,
				SrcPort:  flow.Identity.LowerPort,
				DstPort:  flow.Identity.UpperPort,
				Expiring: true,
			})
		})
		cm.flows.ReleaseBucket(i)
	}
	_ = nowMs
	logging.FromContext(ctx).Info("force-expired all flows")
}

func withIfaceContext(ctx context.Context, iface string) context.Context {
	return logging.WithFields(ctx, slog.String("iface", iface))
}
