// Package agent implements the instance supervisor (C9): the single
// long-running task that owns the capture/detection/update-tick pipeline
// and reacts to five internal IPC signals. Its signal loop is grounded on
// the daemon's signal.NotifyContext-based shutdown handling, generalized
// from OS signals alone to an internal Signal channel so config reload,
// update triggers and signature refresh can be requested the same way a
// terminate request is.
package agent

import (
	"context"
	"sync"

	"github.com/sentrytap/sentrytap/pkg/logging"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
	"github.com/sentrytap/sentrytap/pkg/updatetick"
)

// Signal identifies one of the five internal IPC events the supervisor
// reacts to.
type Signal int

const (
	// SignalNetlinkIO requests draining and applying queued interface
	// up/down and address-change notifications.
	SignalNetlinkIO Signal = iota
	// SignalReload requests a diff-based configuration reload.
	SignalReload
	// SignalTerminate requests a graceful shutdown.
	SignalTerminate
	// SignalUpdate is logged by the supervisor; ticks run only on the
	// ticker's own interval.
	SignalUpdate
	// SignalUpdateAPI requests a signature/category database refresh.
	SignalUpdateAPI
)

func (s Signal) String() string {
	switch s {
	case SignalNetlinkIO:
		return "netlink_io"
	case SignalReload:
		return "reload"
	case SignalTerminate:
		return "terminate"
	case SignalUpdate:
		return "update"
	case SignalUpdateAPI:
		return "update_api"
	default:
		return "unknown"
	}
}

// InterfaceSet is a snapshot of the configured capture interfaces.
type InterfaceSet map[string]struct{}

// Diff returns the interfaces present in next but not in is (added) and
// present in is but not in next (removed). Identical entries are left
// untouched by the caller, per the diff-based reload contract.
func (is InterfaceSet) Diff(next InterfaceSet) (added, removed []string) {
	for name := range next {
		if _, ok := is[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range is {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, removed
}

// Collaborators bundles the pipeline components the supervisor drives in
// response to signals. All fields are required.
type Collaborators struct {
	Bus    *pluginbus.Bus
	Ticker *updatetick.Ticker

	// StartCapture / StopCapture manage individual interface workers as
	// part of a diff-based reload.
	StartCapture func(ctx context.Context, iface string) error
	StopCapture  func(iface string) error

	// ReloadConfig re-reads configuration and returns the new interface
	// set, or an error if the new configuration is invalid (in which case
	// the supervisor keeps running on the prior configuration).
	ReloadConfig func() (InterfaceSet, error)

	// DrainNetlink applies queued interface state changes.
	DrainNetlink func(ctx context.Context)

	// RefreshSignatures triggers the external signature/category update
	// collaborator (A7).
	RefreshSignatures func(ctx context.Context) error

	// ForceExpireAll force-expires every remaining flow, used during
	// terminate when auto_flow_expiry is set.
	ForceExpireAll func(ctx context.Context)
}

// Config configures an Agent.
type Config struct {
	AutoFlowExpiry bool
	TerminateForce bool
}

// Agent is the instance supervisor.
type Agent struct {
	cfg   Config
	deps  Collaborators
	sig   chan Signal
	ifset InterfaceSet

	mu       sync.Mutex
	stopped  bool
	stopCode int
}

// New constructs an Agent with the given initial interface set.
func New(cfg Config, deps Collaborators, initial InterfaceSet) *Agent {
	return &Agent{cfg: cfg, deps: deps, sig: make(chan Signal, 16), ifset: initial}
}

// Signal enqueues sig for processing by Run. Never blocks: the channel is
// buffered, and a full buffer drops the signal (mirroring the "supervisor
// blocks in a signal wait with a 1-second timeout" contract -- a
// supervisor that is behind on signals sheds new ones rather than
// building unbounded backlog).
func (a *Agent) Signal(sig Signal) {
	select {
	case a.sig <- sig:
	default:
		logging.Logger().Warn("supervisor signal queue full, dropping", "signal", sig.String())
	}
}

// Run blocks processing signals until ctx is cancelled or a terminate
// signal is handled. It returns the process exit code recorded by
// Terminate handling (0 on a clean shutdown).
func (a *Agent) Run(ctx context.Context) int {
	go a.deps.Ticker.Run(ctx, func() { a.Signal(SignalTerminate) })

	for {
		select {
		case <-ctx.Done():
			a.terminate(ctx)
			return a.exitCode()
		case sig := <-a.sig:
			if a.handle(ctx, sig) {
				return a.exitCode()
			}
		}
	}
}

// handle processes one signal, returning true if the supervisor should
// stop running.
func (a *Agent) handle(ctx context.Context, sig Signal) bool {
	logger := logging.FromContext(ctx)
	switch sig {
	case SignalNetlinkIO:
		a.deps.DrainNetlink(ctx)
	case SignalReload:
		a.reload(ctx)
	case SignalUpdate:
		// The ticker owns its own interval loop. An explicit update
		// request is only logged: it does not fire an out-of-cycle tick.
		logger.Info("update signal received")
	case SignalUpdateAPI:
		if err := a.deps.RefreshSignatures(ctx); err != nil {
			logger.Error("signature refresh failed", "error", err)
		}
	case SignalTerminate:
		a.terminate(ctx)
		return true
	default:
		logger.Warn("unknown supervisor signal", "signal", int(sig))
	}
	return false
}

func (a *Agent) reload(ctx context.Context) {
	logger := logging.FromContext(ctx)
	next, err := a.deps.ReloadConfig()
	if err != nil {
		logger.Error("configuration reload failed, keeping prior configuration", "error", err)
		return
	}

	added, removed := a.ifset.Diff(next)
	for _, iface := range removed {
		if err := a.deps.StopCapture(iface); err != nil {
			logger.Error("failed to stop capture worker", "interface", iface, "error", err)
		}
	}
	for _, iface := range added {
		if err := a.deps.StartCapture(ctx, iface); err != nil {
			logger.Error("failed to start capture worker", "interface", iface, "error", err)
		}
	}
	a.ifset = next
	a.deps.Bus.Publish(ctx, pluginbus.EventReload, next)
}

func (a *Agent) terminate(ctx context.Context) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	for iface := range a.ifset {
		_ = a.deps.StopCapture(iface)
	}

	if a.cfg.AutoFlowExpiry {
		a.deps.ForceExpireAll(ctx)
	}

	a.deps.Ticker.Stop()
	a.stopCode = 0
}

func (a *Agent) exitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCode
}
