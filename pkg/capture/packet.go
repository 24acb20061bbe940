package capture

import (
	"fmt"
	"net/netip"

	"github.com/fako1024/slimcap/capture"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/sentrytap/sentrytap/pkg/capture/capturetypes"
)

// Enumeration of the IP protocols this module cares about directly.
const (
	protoICMP   uint8 = 0x01
	protoTCP    uint8 = 0x06
	protoUDP    uint8 = 0x11
	protoESP    uint8 = 0x32
	protoICMPv6 uint8 = 0x3A

	ipLayerTypeV4 = 0x04
	ipLayerTypeV6 = 0x06

	tcpFlagFIN byte = 0x01
	tcpFlagACK byte = 0x10
)

// parsedPacket is the result of decoding one IP packet off the wire: enough
// to establish flow identity and hand a transport-layer payload slice to
// the detection pool.
type parsedPacket struct {
	ipVersion uint8
	ipProto   uint8
	srcIP     netip.Addr
	dstIP     netip.Addr
	srcPort   uint16
	dstPort   uint16
	tcpFlags  byte
	payload   []byte
}

// parseIPLayer decodes the IP/transport headers of a zero-copy IP layer
// buffer, grounded on the header-offset arithmetic used throughout the
// packet capture path (IPv4/IPv6 header lengths, TCP/UDP port offsets,
// TCP flag byte).
func parseIPLayer(ipLayer capture.IPLayer) (parsedPacket, capturetypes.ParsingErrno, error) {
	var p parsedPacket

	switch ipLayer.Type() {
	case ipLayerTypeV4:
		if len(ipLayer) < ipv4.HeaderLen {
			return p, capturetypes.ErrnoPacketTruncated, fmt.Errorf("capture: truncated IPv4 packet")
		}
		p.ipVersion = 4
		p.ipProto = ipLayer[9]

		fragOffset := (uint16(0x1f&ipLayer[6]) << 8) | uint16(ipLayer[7])
		if p.ipProto != protoESP && fragOffset != 0 {
			return p, capturetypes.ErrnoPacketFragmentIgnore, nil
		}

		srcIP, _ := netip.AddrFromSlice(ipLayer[12:16])
		dstIP, _ := netip.AddrFromSlice(ipLayer[16:20])
		p.srcIP, p.dstIP = srcIP, dstIP

		if err := parseTransportV4(ipLayer, &p); err != nil {
			return p, capturetypes.ErrnoPacketTruncated, err
		}

	case ipLayerTypeV6:
		if len(ipLayer) < ipv6.HeaderLen {
			return p, capturetypes.ErrnoPacketTruncated, fmt.Errorf("capture: truncated IPv6 packet")
		}
		p.ipVersion = 6
		p.ipProto = ipLayer[6]

		srcIP, _ := netip.AddrFromSlice(ipLayer[8:24])
		dstIP, _ := netip.AddrFromSlice(ipLayer[24:40])
		p.srcIP, p.dstIP = srcIP, dstIP

		if err := parseTransportV6(ipLayer, &p); err != nil {
			return p, capturetypes.ErrnoPacketTruncated, err
		}

	default:
		return p, capturetypes.ErrnoInvalidIPHeader, fmt.Errorf("capture: neither IPv4 nor IPv6 IP header")
	}

	return p, capturetypes.ErrnoOK, nil
}

func parseTransportV4(ipLayer capture.IPLayer, p *parsedPacket) error {
	switch p.ipProto {
	case protoTCP, protoUDP:
		if len(ipLayer) < ipv4.HeaderLen+4 {
			return fmt.Errorf("capture: truncated transport header")
		}
		p.srcPort = be16(ipLayer[ipv4.HeaderLen : ipv4.HeaderLen+2])
		p.dstPort = be16(ipLayer[ipv4.HeaderLen+2 : ipv4.HeaderLen+4])
		if p.ipProto == protoTCP && len(ipLayer) > ipv4.HeaderLen+13 {
			p.tcpFlags = ipLayer[ipv4.HeaderLen+13]
		}
		if p.ipProto == protoTCP {
			if len(ipLayer) > ipv4.HeaderLen+20 {
				p.payload = ipLayer[ipv4.HeaderLen+20:]
			}
		} else if len(ipLayer) > ipv4.HeaderLen+8 {
			p.payload = ipLayer[ipv4.HeaderLen+8:]
		}
	case protoICMP:
		if len(ipLayer) > ipv4.HeaderLen {
			p.payload = ipLayer[ipv4.HeaderLen:]
		}
	}
	return nil
}

func parseTransportV6(ipLayer capture.IPLayer, p *parsedPacket) error {
	switch p.ipProto {
	case protoTCP, protoUDP:
		if len(ipLayer) < ipv6.HeaderLen+4 {
			return fmt.Errorf("capture: truncated transport header")
		}
		p.srcPort = be16(ipLayer[ipv6.HeaderLen : ipv6.HeaderLen+2])
		p.dstPort = be16(ipLayer[ipv6.HeaderLen+2 : ipv6.HeaderLen+4])
		if p.ipProto == protoTCP && len(ipLayer) > ipv6.HeaderLen+13 {
			p.tcpFlags = ipLayer[ipv6.HeaderLen+13]
		}
		if p.ipProto == protoTCP {
			if len(ipLayer) > ipv6.HeaderLen+20 {
				p.payload = ipLayer[ipv6.HeaderLen+20:]
			}
		} else if len(ipLayer) > ipv6.HeaderLen+8 {
			p.payload = ipLayer[ipv6.HeaderLen+8:]
		}
	case protoICMPv6:
		if len(ipLayer) > ipv6.HeaderLen {
			p.payload = ipLayer[ipv6.HeaderLen:]
		}
	}
	return nil
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
