// Package detect implements the detection worker pool (C7): a fixed set
// of sticky workers that run the DPI state machine for every flow,
// enforce the per-flow detection budget, and emit the flow lifecycle
// events onto the plugin bus. Sticky dispatch by digest[0] mod worker
// count means a flow is only ever touched by one worker, so classification
// fields need no locking beyond the atomics already on flowrecord.Record.
package detect

import (
	"context"
	"runtime"
	"sync"

	"github.com/sentrytap/sentrytap/pkg/category"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/dpi"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowid"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
	"github.com/sentrytap/sentrytap/pkg/logging"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
)

// DefaultMaxDetectionPkts is the per-flow packet budget before detection
// is forced to a guessed conclusion.
const DefaultMaxDetectionPkts = 32

// DefaultQueueDepth bounds each worker's input queue. Capture workers
// drop items on overflow rather than block, per the capture-worker
// contract (C6).
const DefaultQueueDepth = 4096

// Digest is the primary flow digest used for sticky worker selection.
type Digest = [20]byte

// Item is one unit of dispatch: either a packet to feed to the DPI engine,
// or (Expiring == true) a packet-less signal to run a flow's final pass.
type Item struct {
	Digest   Digest
	Flow     *flowrecord.Record
	IPProto  uint8
	SrcPort  uint16
	DstPort  uint16
	Payload  []byte
	Expiring bool
}

// Config configures a Pool.
type Config struct {
	WorkerCount      int // 0 selects min(NumCPU, configured) via NewPool's cap
	QueueDepth       int
	MaxDetectionPkts uint32
	EmitDPIUpdates   bool // gates flow_dpi_update, which can be chatty
}

// Pool is the fixed-size sticky detection worker pool.
type Pool struct {
	cfg     Config
	workers []*worker
	bus     *pluginbus.Bus
	engine  dpi.Engine
	fhc     *fhc.Cache
	dhc     *dhc.Cache
	cats    *category.Store

	wg sync.WaitGroup
}

// NewPool constructs and starts a detection worker pool. configuredCores
// caps the worker count at NumCPU; a configuredCores <= 0 means "no cap".
func NewPool(ctx context.Context, cfg Config, configuredCores int, engine dpi.Engine, fhcCache *fhc.Cache, dhcCache *dhc.Cache, cats *category.Store, bus *pluginbus.Bus) *Pool {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxDetectionPkts == 0 {
		cfg.MaxDetectionPkts = DefaultMaxDetectionPkts
	}

	n := runtime.NumCPU()
	if configuredCores > 0 && configuredCores < n {
		n = configuredCores
	}
	if cfg.WorkerCount > 0 && cfg.WorkerCount < n {
		n = cfg.WorkerCount
	}
	if n < 1 {
		n = 1
	}

	p := &Pool{cfg: cfg, bus: bus, engine: engine, fhc: fhcCache, dhc: dhcCache, cats: cats}
	p.workers = make([]*worker, n)
	for i := 0; i < n; i++ {
		w := &worker{
			id:     i,
			pool:   p,
			queue:  make(chan Item, cfg.QueueDepth),
			states: make(map[Digest]dpi.State),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(ctx, &p.wg)
	}
	return p
}

// NumWorkers returns the number of running workers.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// WorkerFor returns the index of the sticky worker responsible for digest.
func (p *Pool) WorkerFor(digest Digest) int {
	return int(digest[0]) % len(p.workers)
}

// Dispatch enqueues item on its sticky worker's queue, dropping it (and
// logging) if that queue is full. Dispatch never blocks.
func (p *Pool) Dispatch(item Item) {
	w := p.workers[p.WorkerFor(item.Digest)]
	select {
	case w.queue <- item:
	default:
		logging.Logger().Warn("detection queue full, dropping item",
			"worker", w.id, "digest", item.Digest, "expiring", item.Expiring)
	}
}

// Close closes every worker's queue and waits for drain.
func (p *Pool) Close() {
	for _, w := range p.workers {
		close(w.queue)
	}
	p.wg.Wait()
}

type worker struct {
	id     int
	pool   *Pool
	queue  chan Item
	states map[Digest]dpi.State
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for item := range w.queue {
		w.process(ctx, item)
	}
}

func (w *worker) stateFor(digest Digest) dpi.State {
	st, ok := w.states[digest]
	if !ok {
		st = w.pool.engine.NewState()
		w.states[digest] = st
	}
	return st
}

func (w *worker) dropState(digest Digest) {
	if st, ok := w.states[digest]; ok {
		w.pool.engine.Release(st)
		delete(w.states, digest)
	}
}

func (w *worker) process(ctx context.Context, item Item) {
	flow := item.Flow
	// Balances the extra strong reference the dispatching capture/update-tick
	// worker took before handing this item off (§9 reference-counted
	// ownership): RefCount() falls back to 1 once every in-flight item for
	// this flow has been processed, unblocking the update tick's purge.
	defer flow.Release()

	if item.Expiring {
		if !flow.Flags.DetectionComplete() {
			w.runFinalPass(ctx, item)
		}
		if !flow.Flags.DetectionComplete() {
			// Idle/closed before the engine ever concluded: force a
			// guessed classification so detection_complete <= expiring
			// <= expired holds.
			state := w.stateFor(item.Digest)
			w.finalize(ctx, flow, item.Digest, state,
				dpi.Verdict{ProtocolID: flow.DetectedProtocolID, ApplicationID: flow.DetectedApplication}, true)
		}
		flow.Flags.SetExpired()
		w.pool.bus.Publish(ctx, pluginbus.EventFlowExpiring, flow)
		w.dropState(item.Digest)
		return
	}

	if !flow.Flags.DetectionInit() {
		flow.Flags.SetDetectionInit()
		w.pool.bus.Publish(ctx, pluginbus.EventFlowNew, flow)
	}

	if flow.Flags.DetectionComplete() {
		// Either classification already finished in an earlier item for
		// this flow, or the capture worker found an FHC hit at creation
		// time before ever dispatching -- in which case this is the
		// flow's first and only item, and the completion event still
		// needs to be published from here.
		if flow.Flags.FHCHit() {
			w.pool.bus.Publish(ctx, pluginbus.EventFlowDPIComplete, flow)
			w.dropState(item.Digest)
		}
		return
	}

	state := w.stateFor(item.Digest)
	verdict := w.pool.engine.Dissect(state, item.IPProto, item.SrcPort, item.DstPort, item.Payload)
	flow.DetectionPackets.Add(1)

	budgetExhausted := flow.DetectionPackets.Load() >= w.pool.cfg.MaxDetectionPkts

	switch {
	case verdict.Done:
		w.finalize(ctx, flow, item.Digest, state, verdict, false)
	case budgetExhausted:
		w.finalize(ctx, flow, item.Digest, state, verdict, true)
	default:
		if w.pool.cfg.EmitDPIUpdates {
			w.pool.bus.Publish(ctx, pluginbus.EventFlowDPIUpdate, flow)
		}
	}
}

func (w *worker) runFinalPass(ctx context.Context, item Item) {
	flow := item.Flow
	if flow.Flags.DetectionComplete() || len(item.Payload) == 0 {
		return
	}
	state := w.stateFor(item.Digest)
	verdict := w.pool.engine.Dissect(state, item.IPProto, item.SrcPort, item.DstPort, item.Payload)
	flow.DetectionPackets.Add(1)
	w.finalize(ctx, flow, item.Digest, state, verdict, !verdict.Done)
}

// finalize populates classification fields, pushes into the FHC, assigns
// categories, and emits flow_dpi_complete. guessed is true when the
// engine never reported Done and the budget was spent (or the flow is
// expiring) rather than reaching a conclusive verdict.
func (w *worker) finalize(ctx context.Context, flow *flowrecord.Record, digest Digest, state dpi.State, verdict dpi.Verdict, guessed bool) {
	flow.DetectedProtocolID = verdict.ProtocolID
	flow.DetectedApplication = verdict.ApplicationID
	flow.ProtocolName = dpi.Name(verdict.ProtocolID)
	flow.ApplicationName = dpi.Name(verdict.ApplicationID)
	if guessed {
		flow.Flags.SetDetectionGuessed()
	}

	meta := w.pool.engine.ExtractMetadata(state)
	flow.ProtoMeta = meta.Proto

	hostname := meta.Host
	if hostname == "" {
		if hint, ok := w.pool.dhc.Lookup(flow.Identity.UpperIP.String()); ok {
			hostname = hint
			flow.Flags.SetDHCHit()
		}
	} else {
		w.pool.dhc.Insert(flow.Identity.UpperIP.String(), hostname)
	}
	flow.DNSHostName = hostname
	flow.Category.Domain = hostname

	var infoHash string
	if flow.ProtoMeta.BitTorrent != nil {
		infoHash = flow.ProtoMeta.BitTorrent.InfoHash
	}

	flow.MetadataDigest = flowid.Metadata(digest, verdict.ProtocolID, verdict.ApplicationID, hostname, infoHash)
	w.pool.fhc.Push(digest, flow.MetadataDigest)

	w.assignCategories(flow)

	flow.Flags.SetDetectionComplete()
	w.pool.bus.Publish(ctx, pluginbus.EventFlowDPIComplete, flow)
	w.dropState(digest)
}

func (w *worker) assignCategories(flow *flowrecord.Record) {
	apps, protos, dni := w.pool.cats.Snapshot()
	if apps != nil {
		if _, ok := apps.CategoryID(flow.ApplicationName); ok {
			flow.Category.Application = flow.ApplicationName
		}
	}
	if protos != nil {
		if _, ok := protos.CategoryID(flow.ProtocolName); ok {
			flow.Category.Protocol = flow.ProtocolName
		}
	}
	if dni != nil {
		if flow.DNSHostName != "" {
			if catID, ok := dni.LookupDomain(flow.DNSHostName); ok {
				if tag, ok := categoryTag(apps, protos, catID); ok {
					flow.Category.Domain = tag
				}
			}
		}
		if catID, ok := dni.LookupNetwork(flow.Identity.UpperIP); ok {
			if tag, ok := categoryTag(apps, protos, catID); ok {
				flow.Category.Network = tag
			}
		}
	}
	flow.Flags.SetRisksChecked()
}

// categoryTag resolves a DomainNetworkIndex category id back to its tag.
// The id's namespace (application or protocol) isn't recorded alongside
// the match, so both indexes are tried, mirroring the tag resolution order
// sigupdate.Client.Refresh uses when it builds the index in the first
// place (applications preferred over protocols).
func categoryTag(apps, protos *category.Index, id uint32) (string, bool) {
	if apps != nil {
		if tag, ok := apps.Tag(id); ok {
			return tag, true
		}
	}
	if protos != nil {
		return protos.Tag(id)
	}
	return "", false
}
