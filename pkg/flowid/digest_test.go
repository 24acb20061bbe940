package flowid

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

func buildIdentity(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, proto uint8, vlan uint16, iface string) flowrecord.Identity {
	t.Helper()

	src := Endpoint{IP: netip.MustParseAddr(srcIP), Port: srcPort}
	dst := Endpoint{IP: netip.MustParseAddr(dstIP), Port: dstPort}

	lower, upper, origin := Order(src, dst)
	require.NotEqual(t, flowrecord.OriginUnknown, origin)

	return flowrecord.Identity{
		IfaceName: iface,
		IPVersion: 4,
		LowerIP:   lower.IP,
		UpperIP:   upper.IP,
		VLAN:      vlan,
		IPProto:   proto,
		LowerPort: lower.Port,
		UpperPort: upper.Port,
	}
}

// TestCanonicalIdentitySymmetric verifies testable property #1: the primary
// digest of a 5-tuple equals that of the reversed tuple.
func TestCanonicalIdentitySymmetric(t *testing.T) {
	fwd := buildIdentity(t, "10.0.0.5", "93.184.216.34", 51234, 443, 6, 0, "eth0")
	rev := buildIdentity(t, "93.184.216.34", "10.0.0.5", 443, 51234, 6, 0, "eth0")

	dFwd := Primary(fwd, [6]byte{})
	dRev := Primary(rev, [6]byte{})

	assert.Equal(t, dFwd, dRev)
}

func TestOrderTieBreaksOnPort(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.1")
	a := Endpoint{IP: ip, Port: 80}
	b := Endpoint{IP: ip, Port: 8080}

	lower, upper, origin := Order(a, b)
	assert.Equal(t, uint16(80), lower.Port)
	assert.Equal(t, uint16(8080), upper.Port)
	assert.Equal(t, flowrecord.OriginLower, origin)

	lower2, upper2, origin2 := Order(b, a)
	assert.Equal(t, uint16(80), lower2.Port)
	assert.Equal(t, uint16(8080), upper2.Port)
	assert.Equal(t, flowrecord.OriginUpper, origin2)
}

func TestBroadcastMACFoldingDistinguishesClients(t *testing.T) {
	id := buildIdentity(t, "0.0.0.0", "255.255.255.255", 68, 67, 17, 0, "eth0")

	macA := [6]byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	macB := [6]byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}

	dA := Primary(id, macA)
	dB := Primary(id, macB)

	assert.NotEqual(t, dA, dB)
}

func TestMetadataDigestStableForSameInputs(t *testing.T) {
	id := buildIdentity(t, "10.0.0.5", "93.184.216.34", 51234, 443, 6, 0, "eth0")
	p := Primary(id, [6]byte{})

	m1 := Metadata(p, 1, 2, "example.test", "")
	m2 := Metadata(p, 1, 2, "example.test", "")
	m3 := Metadata(p, 1, 3, "example.test", "")

	assert.Equal(t, m1, m2)
	assert.NotEqual(t, m1, m3)
}
