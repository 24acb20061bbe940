// Package updatetick implements the update tick / expiry engine (C8): the
// periodic sweep that purges the DNS-hint cache, broadcasts the fixed
// sequence of plugin events, and walks every flow-map bucket to retire
// idle or closed flows. It is grounded on the teacher's capture manager
// status-loop, generalized from a single aggregation sweep to the
// multi-stage broadcast ordering required here.
package updatetick

import (
	"context"
	"time"

	"github.com/sentrytap/sentrytap/pkg/detect"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/logging"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
)

// DefaultInterval is the default tick period (update_interval).
const DefaultInterval = 15 * time.Second

// DefaultIdleTTL is ttl_idle_flow: the idle threshold for non-TCP flows,
// and for TCP flows that have seen a FIN+ACK.
const DefaultIdleTTL = 30 * time.Second

// DefaultTCPIdleTTL is ttl_idle_tcp_flow: the idle threshold for TCP flows
// that have not seen a clean FIN+ACK close.
const DefaultTCPIdleTTL = 300 * time.Second

// ProcessStats is a snapshot of process-level counters taken once per
// tick, per §4.8 step 1.
type ProcessStats struct {
	CPUUserMs   int64
	CPUSystemMs int64
	MaxRSSBytes int64
}

// StatsSource supplies the process-level and per-interface counters a
// tick broadcasts. Implementations are expected to wrap /proc or the
// capture manager's own bookkeeping.
type StatsSource interface {
	ProcessStats() ProcessStats
	CaptureStats() map[string]CaptureStats // keyed by interface name
	Interfaces() []InterfaceSnapshot
}

// CaptureStats is the per-interface packet/byte counters reset each tick.
type CaptureStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
	BytesReceived   uint64
}

// InterfaceSnapshot is one interface's name and link state, refreshed
// once per tick.
type InterfaceSnapshot struct {
	Name string
	Up   bool
}

// Config configures a Ticker.
type Config struct {
	Interval          time.Duration
	IdleTTL           time.Duration
	TCPIdleTTL        time.Duration
	RunWithoutSources bool
}

// Ticker drives the periodic update sweep.
type Ticker struct {
	cfg     Config
	flows   *flowmap.Map
	dhc     *dhc.Cache
	bus     *pluginbus.Bus
	stats   StatsSource
	pool    *detect.Pool
	samples *RateWindow

	capturesAlive func() int

	stop chan struct{}
	done chan struct{}
}

// NewTicker constructs a Ticker. capturesAlive reports how many capture
// workers are currently running, used for the run_without_sources shutdown
// check at the end of each tick.
func NewTicker(cfg Config, flows *flowmap.Map, dhcCache *dhc.Cache, bus *pluginbus.Bus, stats StatsSource, pool *detect.Pool, capturesAlive func() int) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.TCPIdleTTL <= 0 {
		cfg.TCPIdleTTL = DefaultTCPIdleTTL
	}
	return &Ticker{
		cfg:           cfg,
		flows:         flows,
		dhc:           dhcCache,
		bus:           bus,
		stats:         stats,
		pool:          pool,
		samples:       NewRateWindow(int(cfg.Interval / time.Second)),
		capturesAlive: capturesAlive,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run blocks, firing one tick every Interval, until ctx is cancelled or
// Stop is called. shutdown is invoked at most once, when a tick observes
// that no capture threads remain alive and run_without_sources is false.
func (t *Ticker) Run(ctx context.Context, shutdown func()) {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.fire(ctx, now)
			if t.capturesAlive() == 0 && !t.cfg.RunWithoutSources {
				shutdown()
				return
			}
		}
	}
}

// Stop requests the ticker loop to exit; Run returns once the in-flight
// tick (if any) completes.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}

// fire runs exactly one tick, in the fixed order from §4.8.
func (t *Ticker) fire(ctx context.Context, now time.Time) {
	nowMs := now.UnixMilli()
	payloads := make(map[string]any, 8)

	procStats := t.stats.ProcessStats()
	purged := t.dhc.Purge()
	logging.FromContext(ctx).Debug("update tick: DHC purge", "removed", purged)

	payloads[pluginbus.EventStatusUpdate] = procStats
	payloads[pluginbus.EventUpdateInit] = nowMs

	ifaces := t.stats.Interfaces()
	payloads[pluginbus.EventInterfaces] = ifaces

	captureStats := t.stats.CaptureStats()
	payloads[pluginbus.EventPktCaptureStats] = captureStats
	payloads[pluginbus.EventPktGlobalStats] = aggregateGlobal(captureStats)

	payloads[pluginbus.EventFlowMap] = t.flows
	payloads[pluginbus.EventUpdateComplete] = nowMs

	t.bus.PublishOrdered(ctx, payloads)

	t.sweepBuckets(ctx, nowMs)
}

// sweepBuckets walks every bucket, expiring idle/closed flows and purging
// fully expired, unreferenced ones. Each bucket is locked only for the
// duration of its own walk.
func (t *Ticker) sweepBuckets(ctx context.Context, nowMs int64) {
	for i := 0; i < t.flows.NumBuckets(); i++ {
		b := t.flows.AcquireBucket(i)
		t.sweepOneBucket(ctx, b, nowMs)
		t.flows.ReleaseBucket(i)
	}
}

func (t *Ticker) sweepOneBucket(ctx context.Context, b *flowmap.Bucket, nowMs int64) {
	var toDelete []flowmap.Digest

	b.Range(func(digest flowmap.Digest, flow *flowrecord.Record) {
		if flow.Flags.Expired() {
			if flow.RefCount() <= 1 {
				t.bus.Publish(ctx, pluginbus.EventFlowExpire, flow)
				toDelete = append(toDelete, digest)
			}
			return
		}

		if !flow.Flags.Expiring() {
			idleMs := flow.IdleMs(nowMs)
			threshold := t.idleThreshold(flow)
			if idleMs >= threshold.Milliseconds() {
				flow.Flags.SetExpiring()
				flow.Acquire()
				t.pool.Dispatch(detect.Item{
					Digest:   digest,
					Flow:     flow,
					IPProto:  flow.Identity.IPProto,
					SrcPort:  flow.Identity.LowerPort,
					DstPort:  flow.Identity.UpperPort,
					Expiring: true,
				})
			}
		}

		if flow.Flags.DetectionInit() {
			if sample, active := flow.Counters.ConsumeDelta(); active {
				t.samples.Record(digest, sample, nowMs)
			}
		}
	})

	for _, d := range toDelete {
		b.Delete(d)
		t.samples.Forget(d)
	}
}

func (t *Ticker) idleThreshold(flow *flowrecord.Record) time.Duration {
	if flow.Identity.IPProto != 6 { // not TCP
		return t.cfg.IdleTTL
	}
	if flow.Flags.TCPFinAck() {
		return t.cfg.IdleTTL
	}
	return t.cfg.TCPIdleTTL
}

func aggregateGlobal(perIface map[string]CaptureStats) CaptureStats {
	var total CaptureStats
	for _, s := range perIface {
		total.PacketsReceived += s.PacketsReceived
		total.PacketsDropped += s.PacketsDropped
		total.BytesReceived += s.BytesReceived
	}
	return total
}
