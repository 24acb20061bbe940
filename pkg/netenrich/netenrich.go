// Package netenrich implements the optional netlink/conntrack enrichment
// component (A11): refreshing each capture interface's address set for
// the address classifier and detecting NAT via conntrack lookups. It is
// grounded on the netlink address management helpers used for interface
// address add/remove/list, generalized from a single-interface HA
// failover tool to a continuously-refreshed multi-interface snapshot
// feeding the update tick.
package netenrich

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/sentrytap/sentrytap/pkg/addrclass"
	"github.com/sentrytap/sentrytap/pkg/logging"
)

// Enricher maintains a live snapshot of every watched interface's address
// set and answers NAT-detection queries via conntrack.
type Enricher struct {
	mu    sync.RWMutex
	addrs map[string]addrclass.InterfaceAddrs

	updates chan netlink.LinkUpdate
	done    chan struct{}
}

// New constructs an Enricher with an empty snapshot.
func New() *Enricher {
	return &Enricher{addrs: make(map[string]addrclass.InterfaceAddrs)}
}

// Refresh re-reads the address set of every named interface directly via
// netlink, replacing the prior snapshot for each. Failing to resolve one
// interface does not abort the refresh of the others.
func (e *Enricher) Refresh(ctx context.Context, interfaces []string) {
	logger := logging.FromContext(ctx)
	next := make(map[string]addrclass.InterfaceAddrs, len(interfaces))

	for _, name := range interfaces {
		ifa, err := readInterfaceAddrs(name)
		if err != nil {
			logger.Warn("netenrich: failed to refresh interface addresses", "interface", name, "error", err)
			e.mu.RLock()
			if prior, ok := e.addrs[name]; ok {
				next[name] = prior
			}
			e.mu.RUnlock()
			continue
		}
		next[name] = ifa
	}

	e.mu.Lock()
	e.addrs = next
	e.mu.Unlock()
}

func readInterfaceAddrs(name string) (addrclass.InterfaceAddrs, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return addrclass.InterfaceAddrs{}, fmt.Errorf("netenrich: interface %s not found: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return addrclass.InterfaceAddrs{}, fmt.Errorf("netenrich: failed to list addresses on %s: %w", name, err)
	}

	var ifa addrclass.InterfaceAddrs
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		ifa.Addrs = append(ifa.Addrs, addr.Unmap())
		if a.IPNet != nil {
			ones, _ := a.IPNet.Mask.Size()
			if prefix, err := addr.Unmap().Prefix(ones); err == nil {
				ifa.Nets = append(ifa.Nets, prefix)
			}
		}
	}
	return ifa, nil
}

// Snapshot returns the current address set for a named interface.
func (e *Enricher) Snapshot(iface string) addrclass.InterfaceAddrs {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addrs[iface]
}

// WatchLinkUpdates subscribes to netlink link state changes and forwards
// them on a channel the supervisor drains in response to SignalNetlinkIO.
// Returns a stop function.
func (e *Enricher) WatchLinkUpdates(ctx context.Context) (<-chan netlink.LinkUpdate, func(), error) {
	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})

	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return nil, nil, fmt.Errorf("netenrich: failed to subscribe to link updates: %w", err)
	}

	stop := func() { close(done) }
	return updates, stop, nil
}

// DetectNAT reports whether the conntrack table shows the observed
// 5-tuple's reply-direction addressing differs from the original
// direction -- the standard signature of NAT translation. A failed
// conntrack listing (permission, table absent) is returned as an error;
// the capture worker treats any error as "no NAT", so enrichment
// failures never escalate.
func DetectNAT(origSrc, origDst netip.Addr, origSrcPort, origDstPort uint16, proto uint8) (bool, error) {
	filter := &netlink.ConntrackFilter{}
	if err := filter.AddProtocol(proto); err != nil {
		return false, fmt.Errorf("netenrich: invalid protocol filter: %w", err)
	}

	flows, err := netlink.ConntrackTableList(netlink.ConntrackTable, netlinkFamilyFor(origSrc))
	if err != nil {
		return false, fmt.Errorf("netenrich: conntrack list failed: %w", err)
	}

	for _, f := range flows {
		if f.Forward.SrcIP.Equal(netToStd(origSrc)) && f.Forward.DstIP.Equal(netToStd(origDst)) &&
			f.Forward.SrcPort == origSrcPort && f.Forward.DstPort == origDstPort {
			return !f.Reverse.DstIP.Equal(netToStd(origSrc)) || !f.Reverse.SrcIP.Equal(netToStd(origDst)), nil
		}
	}
	return false, nil
}

func netlinkFamilyFor(addr netip.Addr) netlink.InetFamily {
	if addr.Is4() {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

func netToStd(addr netip.Addr) []byte {
	b := addr.As16()
	if addr.Is4() {
		b4 := addr.As4()
		return b4[:]
	}
	return b[:]
}
