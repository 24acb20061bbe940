// Package dpi defines the deep-packet-inspection engine interface (§6)
// and a built-in heuristic implementation. Real nDPI-grade dissection is
// treated as an external collaborator; this package only needs to expose
// a stable interface plus something concrete enough to drive the rest of
// the pipeline (detection worker budget, flow classification, metadata
// extraction) in tests and in the absence of a richer engine plugin.
package dpi

import "github.com/sentrytap/sentrytap/pkg/flowrecord"

// Protocol/application identifiers for the built-in heuristic engine.
// Real deployments would source these from the signature/category
// database (A5) instead of a fixed enum.
const (
	ProtoUnknown uint32 = iota
	ProtoTCP
	ProtoUDP
	ProtoTLS
	ProtoHTTP
	ProtoDNS
	ProtoSSH
	ProtoDHCP
	ProtoBitTorrent
	ProtoMDNS
	ProtoSSDP
)

var protoNames = map[uint32]string{
	ProtoUnknown:    "Unknown",
	ProtoTCP:        "TCP",
	ProtoUDP:        "UDP",
	ProtoTLS:        "TLS",
	ProtoHTTP:       "HTTP",
	ProtoDNS:        "DNS",
	ProtoSSH:        "SSH",
	ProtoDHCP:       "DHCP",
	ProtoBitTorrent: "BitTorrent",
	ProtoMDNS:       "MDNS",
	ProtoSSDP:       "SSDP",
}

// Name returns the human-readable name of a protocol id known to the
// built-in engine.
func Name(id uint32) string {
	if n, ok := protoNames[id]; ok {
		return n
	}
	return "Unknown"
}

// Verdict is the result of feeding one packet to a DPI engine.
type Verdict struct {
	Done          bool
	Guessed       bool
	ProtocolID    uint32
	ApplicationID uint32
}

// Metadata is the protocol-specific metadata an engine may have extracted
// by the time dissection concluded.
type Metadata struct {
	Proto flowrecord.ProtoMeta
	Host  string // server hostname, e.g. from TLS SNI or HTTP Host header
}

// State is opaque per-flow engine state, released via Engine.Release once
// the flow expires.
type State interface{}

// Engine is the pluggable DPI engine interface from §6.
type Engine interface {
	// NewState allocates fresh per-flow dissection state.
	NewState() State
	// Dissect feeds one packet's payload to the engine and returns the
	// current verdict. payload is the L4 payload (TCP/UDP body).
	Dissect(state State, ipProto uint8, srcPort, dstPort uint16, payload []byte) Verdict
	// ExtractMetadata returns whatever protocol metadata the engine has
	// accumulated for state so far.
	ExtractMetadata(state State) Metadata
	// Release frees any resources associated with state.
	Release(state State)
}
