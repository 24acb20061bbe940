// Package flowid implements canonical flow identity (C2): the ordering
// rule that makes a 5-tuple's digest direction-independent, and the two
// SHA-1 fingerprints (primary and metadata) keying the flow map and the
// flow-hash cache respectively.
package flowid

import (
	"crypto/sha1" //nolint:gosec // digest is an identity fingerprint, not a security boundary
	"encoding/binary"
	"net/netip"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

// Endpoint is one side of a flow, pre-ordering.
type Endpoint struct {
	MAC  [6]byte
	IP   netip.Addr
	Port uint16
}

// Order applies the canonicalization rule from §4.2: compare packed IP
// bytes, and on a tie compare port numbers; the smaller side becomes
// "lower". origin records which input side ended up "lower" so the caller
// can recover the arrival direction of a given packet.
func Order(a, b Endpoint) (lower, upper Endpoint, origin flowrecord.Origin) {
	switch compareAddr(a.IP, b.IP) {
	case -1:
		return a, b, flowrecord.OriginLower
	case 1:
		return b, a, flowrecord.OriginUpper
	default:
		if a.Port <= b.Port {
			return a, b, flowrecord.OriginLower
		}
		return b, a, flowrecord.OriginUpper
	}
}

func compareAddr(a, b netip.Addr) int {
	ab, bb := a.As16(), b.As16()
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// broadcastMACFoldRequired reports whether the flow is the IPv4
// 0.0.0.0<->255.255.255.255 DHCP-discovery case, for which the initiating
// MAC must be folded into the primary digest so that concurrent DHCP
// requests from distinct clients yield distinct flows.
func broadcastMACFoldRequired(lowerIP, upperIP netip.Addr) bool {
	if !lowerIP.Is4() || !upperIP.Is4() {
		return false
	}
	zero := netip.AddrFrom4([4]byte{})
	allOnes := netip.AddrFrom4([4]byte{255, 255, 255, 255})
	return (lowerIP == zero && upperIP == allOnes) || (lowerIP == allOnes && upperIP == zero)
}

// Primary computes the 20-byte primary digest of a flow identity. It is
// SHA-1 over: interface name, IP version, IP protocol, VLAN id, lower IP
// bytes, upper IP bytes, lower port, upper port, and -- for the DHCP
// broadcast case -- the initiating client MAC.
func Primary(id flowrecord.Identity, initiatingMAC [6]byte) [20]byte {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(id.IfaceName))
	h.Write([]byte{id.IPVersion, id.IPProto})

	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], id.VLAN)
	h.Write(buf[0:2])

	lb := id.LowerIP.As16()
	ub := id.UpperIP.As16()
	h.Write(lb[:])
	h.Write(ub[:])

	binary.BigEndian.PutUint16(buf[0:2], id.LowerPort)
	binary.BigEndian.PutUint16(buf[2:4], id.UpperPort)
	h.Write(buf[0:4])

	if broadcastMACFoldRequired(id.LowerIP, id.UpperIP) {
		h.Write(initiatingMAC[:])
	}

	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Metadata computes the 20-byte metadata digest: the primary digest's
// inputs plus the detected (protocol, application) pair, the server
// hostname (if any) and the BitTorrent info hash (if any). Computed once
// classification stabilizes.
func Metadata(primary [20]byte, protocolID, applicationID uint32, hostname, infoHash string) [20]byte {
	h := sha1.New() //nolint:gosec
	h.Write(primary[:])

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], protocolID)
	binary.BigEndian.PutUint32(buf[4:8], applicationID)
	h.Write(buf[:])

	h.Write([]byte(hostname))
	h.Write([]byte(infoHash))

	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
