// Package pluginbus implements the plugin event bus (A6): a named-event
// pub/sub registry that the update tick and detection workers broadcast
// lifecycle events on. It follows the registration/lookup pattern of
// plugins.Initializer (register-by-name, panic on duplicate, RWMutex-
// guarded), generalized from a single querier slot to many named event
// topics with multiple subscribers each.
package pluginbus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sentrytap/sentrytap/pkg/logging"
)

// Event names, fixed and stable across releases.
const (
	EventFlowNew         = "flow_new"
	EventFlowDPIUpdate   = "flow_dpi_update"
	EventFlowDPIComplete = "flow_dpi_complete"
	EventFlowExpiring    = "flow_expiring"
	EventFlowExpire      = "flow_expire"
	EventStatusUpdate    = "status_update"
	EventUpdateInit      = "update_init"
	EventUpdateComplete  = "update_complete"
	EventPktCaptureStats = "pkt_capture_stats"
	EventPktGlobalStats  = "pkt_global_stats"
	EventFlowMap         = "flow_map"
	EventInterfaces      = "interfaces"
	EventReload          = "reload"
)

// orderedEvents is the strict broadcast order the update tick must follow
// when multiple event types fire within the same sweep.
var orderedEvents = []string{
	EventStatusUpdate,
	EventUpdateInit,
	EventInterfaces,
	EventPktCaptureStats,
	EventPktGlobalStats,
	EventFlowMap,
	EventFlowNew,
	EventFlowDPIUpdate,
	EventFlowDPIComplete,
	EventFlowExpiring,
	EventFlowExpire,
	EventReload,
	EventUpdateComplete,
}

// Handler receives one event's payload. Handlers run synchronously on the
// calling goroutine (normally the update tick or a detection worker); a
// handler that blocks stalls that caller, so plugins are expected to hand
// off their own work to a queue if it might take a while.
type Handler func(ctx context.Context, event string, payload any)

// Bus is a named-event pub/sub registry. The zero value is not usable;
// construct with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
}

type registration struct {
	name string
	fn   Handler
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]registration)}
}

// Subscribe registers fn under name for event. Subscribing twice under the
// same (event, name) pair panics, mirroring the registry's duplicate-name
// guard elsewhere in the codebase.
func (b *Bus) Subscribe(event, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range b.handlers[event] {
		if r.name == name {
			panic(fmt.Sprintf("pluginbus: %q already subscribed to %q", name, event))
		}
	}
	b.handlers[event] = append(b.handlers[event], registration{name: name, fn: fn})
}

// Unsubscribe removes the handler previously registered under (event,
// name), if any.
func (b *Bus) Unsubscribe(event, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[event]
	for i, r := range regs {
		if r.name == name {
			b.handlers[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the names currently subscribed to event, sorted.
func (b *Bus) Subscribers(event string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers[event]))
	for _, r := range b.handlers[event] {
		names = append(names, r.name)
	}
	sort.Strings(names)
	return names
}

// Publish invokes every handler subscribed to event, in subscription
// order, logging and continuing past any handler panic so one misbehaving
// plugin cannot take down a sweep.
func (b *Bus) Publish(ctx context.Context, event string, payload any) {
	b.mu.RLock()
	regs := make([]registration, len(b.handlers[event]))
	copy(regs, b.handlers[event])
	b.mu.RUnlock()

	for _, r := range regs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.FromContext(ctx).Error("plugin handler panicked",
						"event", event, "plugin", r.name, "recover", rec)
				}
			}()
			r.fn(ctx, event, payload)
		}()
	}
}

// PublishOrdered fires every event in orderedEvents that has an entry in
// payloads (a nil payload is still published), in the fixed broadcast
// order required by the update tick (§7). Events absent from payloads are
// skipped.
func (b *Bus) PublishOrdered(ctx context.Context, payloads map[string]any) {
	for _, event := range orderedEvents {
		payload, ok := payloads[event]
		if !ok {
			continue
		}
		b.Publish(ctx, event, payload)
	}
}
