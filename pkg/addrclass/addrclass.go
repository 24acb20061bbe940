// Package addrclass implements the address role classifier (C1): given an
// address and the set of addresses assigned to local interfaces, it derives
// a coarse role, and combines two such roles into the (lower_map,
// other_type) pair reported on a flow.
package addrclass

import (
	"net/netip"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

// Class is the role assigned to a single address.
type Class uint8

const (
	// ClassError marks an address that could not be classified (e.g. the
	// zero value / an invalid netip.Addr).
	ClassError Class = iota
	ClassLocal
	ClassLocalNet
	ClassReserved
	ClassMulticast
	ClassBroadcast
	ClassOther
)

// InterfaceAddrs is the set of addresses/subnets assigned to a capture
// interface, refreshed by the update tick (§4.8 step 4) or by the
// netlink/conntrack enrichment component.
type InterfaceAddrs struct {
	// Addrs are addresses assigned directly to the interface ("local").
	Addrs []netip.Addr
	// Nets are configured local subnets ("local-net").
	Nets []netip.Prefix
}

// Classify returns the role of addr with respect to the given interface
// address set.
func Classify(addr netip.Addr, ifa InterfaceAddrs) Class {
	if !addr.IsValid() {
		return ClassError
	}

	for _, a := range ifa.Addrs {
		if a == addr {
			return ClassLocal
		}
	}

	if addr.IsMulticast() {
		return ClassMulticast
	}
	if isBroadcast(addr) {
		return ClassBroadcast
	}

	for _, n := range ifa.Nets {
		if n.Contains(addr) {
			return ClassLocalNet
		}
	}

	if isReserved(addr) {
		return ClassReserved
	}

	return ClassOther
}

func isBroadcast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	return addr == netip.AddrFrom4([4]byte{255, 255, 255, 255})
}

// isReserved covers RFC 1918 / RFC 6890 style reserved ranges not already
// captured by the stdlib helpers (loopback, link-local, private).
func isReserved(addr netip.Addr) bool {
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsPrivate() ||
		addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	if addr.Is4() {
		b := addr.As4()
		switch {
		case b[0] == 0: // "this network"
			return true
		case b[0] == 100 && b[1] >= 64 && b[1] <= 127: // 100.64.0.0/10 CGNAT
			return true
		case b[0] == 192 && b[1] == 0 && b[2] == 2: // TEST-NET-1
			return true
		case b[0] == 198 && b[1] == 51 && b[2] == 100: // TEST-NET-2
			return true
		case b[0] == 203 && b[1] == 0 && b[2] == 113: // TEST-NET-3
			return true
		case b[0] >= 240: // reserved for future use
			return true
		}
	}
	if addr.Is6() {
		b := addr.As16()
		if b[0] == 0x00 && b[1] == 0x00 { // ::/8-ish reserved space, excluding loopback/unspecified handled above
			return true
		}
		if b[0] == 0xfc || b[0] == 0xfd { // unique local addresses (RFC 4193)
			return true
		}
	}
	return false
}

// DeriveMapping implements the (lower_map, other_type) derivation table,
// reproduced in full from §4.1. Rows are keyed by (lowerClass, upperClass);
// ties break in favor of the "inside" (LAN) side being lowerMap = local.
// The returned values are flowrecord's own enums so a caller can assign
// them straight onto a Record without any further translation.
func DeriveMapping(lower, upper Class) (lowerMap flowrecord.LowerMap, otherType flowrecord.OtherType) {
	if lower == ClassError || upper == ClassError {
		return flowrecord.LowerMapError, flowrecord.OtherTypeError
	}

	if upper == ClassMulticast {
		if lower == ClassLocal || lower == ClassLocalNet {
			return flowrecord.LowerMapLocal, flowrecord.OtherTypeMulticast
		}
		return flowrecord.LowerMapOther, flowrecord.OtherTypeMulticast
	}
	if lower == ClassMulticast {
		if upper == ClassLocal || upper == ClassLocalNet {
			return flowrecord.LowerMapLocal, flowrecord.OtherTypeMulticast
		}
		return flowrecord.LowerMapOther, flowrecord.OtherTypeMulticast
	}

	if upper == ClassBroadcast {
		if lower == ClassLocal || lower == ClassLocalNet {
			return flowrecord.LowerMapLocal, flowrecord.OtherTypeBroadcast
		}
		return flowrecord.LowerMapOther, flowrecord.OtherTypeBroadcast
	}
	if lower == ClassBroadcast {
		if upper == ClassLocal || upper == ClassLocalNet {
			return flowrecord.LowerMapLocal, flowrecord.OtherTypeBroadcast
		}
		return flowrecord.LowerMapOther, flowrecord.OtherTypeBroadcast
	}

	switch {
	case lower == ClassLocal && (upper == ClassLocal || upper == ClassLocalNet):
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeLocal
	case upper == ClassLocal && lower == ClassLocalNet:
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeLocal
	case lower == ClassReserved && upper == ClassLocal:
		return flowrecord.LowerMapOther, flowrecord.OtherTypeRemote
	case lower == ClassLocal && upper == ClassReserved:
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeRemote
	case lower == ClassOther:
		return flowrecord.LowerMapOther, flowrecord.OtherTypeRemote
	case upper == ClassOther:
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeRemote
	case lower == ClassReserved && upper == ClassReserved:
		// Open Question in spec.md: the source's IPv4/IPv6 asymmetry here
		// is called out as unresolved. We treat both address families
		// identically and break the tie in favor of the LAN side.
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeRemote
	default:
		return flowrecord.LowerMapLocal, flowrecord.OtherTypeRemote
	}
}
