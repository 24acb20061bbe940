package dpi

import (
	"bytes"
	"encoding/binary"

	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

// heuristicState is the per-flow scratch space of the built-in engine.
type heuristicState struct {
	packets int
	proto   uint32
	done    bool
	sni     string
	host    string
	infoHash string
}

// Heuristic is a small, self-contained signature-table engine: it
// recognizes a handful of common protocols from well-known ports and a
// few distinctive byte patterns (TLS ClientHello SNI, HTTP request lines,
// DNS headers, SSH banners, DHCP magic cookie, BitTorrent handshake). It
// exists to drive the rest of the pipeline end-to-end without requiring an
// external nDPI-class dependency; production deployments are expected to
// supply a richer Engine.
type Heuristic struct{}

// NewHeuristic constructs the built-in heuristic engine.
func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) NewState() State {
	return &heuristicState{}
}

func (h *Heuristic) Dissect(state State, ipProto uint8, srcPort, dstPort uint16, payload []byte) Verdict {
	st := state.(*heuristicState)
	st.packets++

	if st.done {
		return Verdict{Done: true, ProtocolID: st.proto}
	}

	switch {
	case looksLikeTLSClientHello(payload):
		st.proto = ProtoTLS
		st.sni = extractSNI(payload)
		st.done = true
	case looksLikeHTTPRequest(payload):
		st.proto = ProtoHTTP
		st.host = extractHTTPHost(payload)
		st.done = true
	case srcPort == 53 || dstPort == 53:
		st.proto = ProtoDNS
		st.done = true
	case looksLikeSSHBanner(payload):
		st.proto = ProtoSSH
		st.done = true
	case (srcPort == 67 || dstPort == 67 || srcPort == 68 || dstPort == 68) && looksLikeDHCP(payload):
		st.proto = ProtoDHCP
		st.done = true
	case looksLikeBitTorrentHandshake(payload):
		st.proto = ProtoBitTorrent
		st.infoHash = extractBitTorrentInfoHash(payload)
		st.done = true
	case srcPort == 5353 || dstPort == 5353:
		st.proto = ProtoMDNS
		st.done = true
	case srcPort == 1900 || dstPort == 1900:
		st.proto = ProtoSSDP
		st.done = true
	case ipProto == 6:
		st.proto = ProtoTCP
	case ipProto == 17:
		st.proto = ProtoUDP
	}

	return Verdict{Done: st.done, ProtocolID: st.proto}
}

func (h *Heuristic) ExtractMetadata(state State) Metadata {
	st := state.(*heuristicState)
	md := Metadata{}
	switch st.proto {
	case ProtoTLS:
		md.Proto.TLS = &flowrecord.TLSMeta{SNI: st.sni}
	case ProtoHTTP:
		md.Proto.HTTP = &flowrecord.HTTPMeta{URL: st.host}
	case ProtoBitTorrent:
		md.Proto.BitTorrent = &flowrecord.BitTorrentMeta{InfoHash: st.infoHash}
	}
	if st.sni != "" {
		md.Host = st.sni
	}
	if st.host != "" {
		md.Host = st.host
	}
	return md
}

func (h *Heuristic) Release(State) {}

func looksLikeTLSClientHello(p []byte) bool {
	// TLS record header: type=handshake(0x16), version, length, then
	// handshake type=ClientHello(0x01)
	return len(p) > 5 && p[0] == 0x16 && p[5] == 0x01
}

func extractSNI(p []byte) string {
	// Minimal SNI scan: look for the server_name extension type (0x00 0x00)
	// followed by a plausible hostname. This is intentionally lightweight;
	// it is not a full TLS parser.
	idx := bytes.Index(p, []byte{0x00, 0x00})
	if idx < 0 || idx+4 >= len(p) {
		return ""
	}
	end := idx + 4
	for end < len(p) && end < idx+4+255 && isHostnameByte(p[end]) {
		end++
	}
	if end <= idx+4 {
		return ""
	}
	return string(p[idx+4 : end])
}

func isHostnameByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '.' || b == '-'
}

func looksLikeHTTPRequest(p []byte) bool {
	methods := [][]byte{[]byte("GET "), []byte("POST "), []byte("HEAD "), []byte("PUT "), []byte("OPTIONS ")}
	for _, m := range methods {
		if bytes.HasPrefix(p, m) {
			return true
		}
	}
	return false
}

func extractHTTPHost(p []byte) string {
	idx := bytes.Index(p, []byte("Host: "))
	if idx < 0 {
		return ""
	}
	rest := p[idx+len("Host: "):]
	if end := bytes.IndexByte(rest, '\r'); end >= 0 {
		rest = rest[:end]
	}
	return string(rest)
}

func looksLikeSSHBanner(p []byte) bool {
	return bytes.HasPrefix(p, []byte("SSH-"))
}

func looksLikeDHCP(p []byte) bool {
	// DHCP magic cookie 0x63825363 sits at a fixed offset (236) in a
	// minimal BOOTP/DHCP packet.
	const magicOffset = 236
	if len(p) < magicOffset+4 {
		return false
	}
	return binary.BigEndian.Uint32(p[magicOffset:magicOffset+4]) == 0x63825363
}

func looksLikeBitTorrentHandshake(p []byte) bool {
	const pstr = "BitTorrent protocol"
	return len(p) > 0 && int(p[0]) == len(pstr) && bytes.HasPrefix(p[1:], []byte(pstr))
}

func extractBitTorrentInfoHash(p []byte) string {
	const pstrLen = 1 + 19 + 8 // pstrlen byte + "BitTorrent protocol" + 8 reserved bytes
	if len(p) < pstrLen+20 {
		return ""
	}
	return string(p[pstrLen : pstrLen+20])
}
