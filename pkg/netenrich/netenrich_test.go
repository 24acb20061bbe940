package netenrich

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vishvananda/netlink"
)

func TestSnapshotDefaultsToEmpty(t *testing.T) {
	e := New()
	ifa := e.Snapshot("eth0")
	assert.Empty(t, ifa.Addrs)
	assert.Empty(t, ifa.Nets)
}

func TestNetlinkFamilyFor(t *testing.T) {
	assert.Equal(t, netlink.FAMILY_V4, netlinkFamilyFor(netip.MustParseAddr("10.0.0.1")))
	assert.Equal(t, netlink.FAMILY_V6, netlinkFamilyFor(netip.MustParseAddr("fe80::1")))
}

func TestNetToStdRoundTrips(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")
	b := netToStd(addr)
	assert.Len(t, b, 4)
	back, ok := netip.AddrFromSlice(b)
	assert.True(t, ok)
	assert.Equal(t, addr, back)
}
