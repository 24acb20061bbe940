package addrclass

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

func ifaceAddrs() InterfaceAddrs {
	return InterfaceAddrs{
		Addrs: []netip.Addr{netip.MustParseAddr("192.168.1.1")},
		Nets:  []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")},
	}
}

func TestClassify(t *testing.T) {
	ifa := ifaceAddrs()

	assert.Equal(t, ClassError, Classify(netip.Addr{}, ifa))
	assert.Equal(t, ClassLocal, Classify(netip.MustParseAddr("192.168.1.1"), ifa))
	assert.Equal(t, ClassLocalNet, Classify(netip.MustParseAddr("192.168.1.42"), ifa))
	assert.Equal(t, ClassMulticast, Classify(netip.MustParseAddr("224.0.0.1"), ifa))
	assert.Equal(t, ClassBroadcast, Classify(netip.MustParseAddr("255.255.255.255"), ifa))
	assert.Equal(t, ClassReserved, Classify(netip.MustParseAddr("10.1.2.3"), ifa))
	assert.Equal(t, ClassOther, Classify(netip.MustParseAddr("93.184.216.34"), ifa))
}

func TestDeriveMappingLocalPair(t *testing.T) {
	lowerMap, otherType := DeriveMapping(ClassLocal, ClassLocalNet)
	assert.Equal(t, flowrecord.LowerMapLocal, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeLocal, otherType)
}

func TestDeriveMappingRemote(t *testing.T) {
	lowerMap, otherType := DeriveMapping(ClassLocal, ClassOther)
	assert.Equal(t, flowrecord.LowerMapLocal, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeRemote, otherType)

	lowerMap, otherType = DeriveMapping(ClassOther, ClassLocal)
	assert.Equal(t, flowrecord.LowerMapOther, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeRemote, otherType)
}

func TestDeriveMappingMulticastAndBroadcast(t *testing.T) {
	lowerMap, otherType := DeriveMapping(ClassLocal, ClassMulticast)
	assert.Equal(t, flowrecord.LowerMapLocal, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeMulticast, otherType)

	lowerMap, otherType = DeriveMapping(ClassOther, ClassBroadcast)
	assert.Equal(t, flowrecord.LowerMapOther, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeBroadcast, otherType)
}

func TestDeriveMappingError(t *testing.T) {
	lowerMap, otherType := DeriveMapping(ClassError, ClassLocal)
	assert.Equal(t, flowrecord.LowerMapError, lowerMap)
	assert.Equal(t, flowrecord.OtherTypeError, otherType)
}
