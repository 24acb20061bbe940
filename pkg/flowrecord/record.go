// Package flowrecord defines the shared flow record, the core data model
// flowing between capture workers, detection workers, the update-tick
// sweep and plugin consumers.
package flowrecord

import (
	"net/netip"
	"sync/atomic"
)

// TunnelType identifies an encapsulation layer observed above L3.
type TunnelType uint8

const (
	TunnelNone TunnelType = iota
	TunnelGTP
)

// IfaceRole is the administratively assigned role of a capture interface.
type IfaceRole uint8

const (
	IfaceRoleUnknown IfaceRole = iota
	IfaceRoleLAN
	IfaceRoleWAN
)

// LowerMap records whether the canonical "lower" endpoint of a flow is the
// locally-facing (LAN) side, as derived by the address classifier.
type LowerMap uint8

const (
	LowerMapUnknown LowerMap = iota
	LowerMapLocal
	LowerMapOther
	LowerMapError
)

// OtherType further qualifies the non-local side of a flow.
type OtherType uint8

const (
	OtherTypeUnknown OtherType = iota
	OtherTypeUnsupported
	OtherTypeLocal
	OtherTypeMulticast
	OtherTypeBroadcast
	OtherTypeRemote
	OtherTypeError
)

// Origin records which canonical side of a flow a given packet arrived
// from, independent of which side is reported as "local" via LowerMap.
type Origin uint8

const (
	OriginUnknown Origin = iota
	OriginLower
	OriginUpper
)

// Category is the triple of category labels assigned once classification
// stabilizes.
type Category struct {
	Application string
	Protocol    string
	Domain      string
	Network     string
}

// Risks carries the detector's risk assessment for a flow.
type Risks struct {
	IDs           []uint32
	ScoreOverall  float64
	ScoreClient   float64
	ScoreServer   float64
}

// TLSMeta carries TLS-specific protocol metadata.
type TLSMeta struct {
	Version      string
	Cipher       string
	SNI          string
	CN           string
	Issuer       string
	Subject      string
	JA3Client    string
	JA3Server    string
}

// HTTPMeta carries HTTP-specific protocol metadata.
type HTTPMeta struct {
	URL       string
	UserAgent string
}

// DHCPMeta carries DHCP-specific protocol metadata.
type DHCPMeta struct {
	Fingerprint string
	ClassIdent  string
}

// SSHMeta carries SSH-specific protocol metadata.
type SSHMeta struct {
	ClientAgent string
	ServerAgent string
}

// BitTorrentMeta carries BitTorrent-specific protocol metadata.
type BitTorrentMeta struct {
	InfoHash string
}

// MDNSMeta carries mDNS-specific protocol metadata.
type MDNSMeta struct {
	Domain string
}

// SSDPMeta carries SSDP-specific protocol metadata.
type SSDPMeta struct {
	Method   string
	Location string
}

// ProtoMeta is the union of protocol-specific metadata attached to a flow.
// Only the fields relevant to the detected protocol are populated; all
// others remain nil. Written exclusively by the flow's sticky detection
// worker.
type ProtoMeta struct {
	TLS        *TLSMeta
	HTTP       *HTTPMeta
	DHCP       *DHCPMeta
	SSH        *SSHMeta
	BitTorrent *BitTorrentMeta
	MDNS       *MDNSMeta
	SSDP       *SSDPMeta
}

// RateSample is a single per-second traffic sample used by the sliding
// rate window maintained by the update tick.
type RateSample struct {
	BytesLowerToUpper   uint64
	BytesUpperToLower   uint64
	PacketsLowerToUpper uint64
	PacketsUpperToLower uint64
}

// Counters holds the direction-aware packet/byte counters of a flow.
// Fields are atomic so that capture workers may update them without
// synchronizing with the sticky detection worker.
type Counters struct {
	BytesLowerToUpper   atomic.Uint64
	BytesUpperToLower   atomic.Uint64
	PacketsLowerToUpper atomic.Uint64
	PacketsUpperToLower atomic.Uint64

	// deltas since the last update-tick reset(), used to feed the sliding
	// rate window and to detect activity for the "active" accounting in §4.8.
	deltaBytesLowerToUpper   atomic.Uint64
	deltaBytesUpperToLower   atomic.Uint64
	deltaPacketsLowerToUpper atomic.Uint64
	deltaPacketsUpperToLower atomic.Uint64
}

// AddLowerToUpper atomically accounts for a packet travelling lower->upper.
func (c *Counters) AddLowerToUpper(nBytes uint32) {
	c.BytesLowerToUpper.Add(uint64(nBytes))
	c.PacketsLowerToUpper.Add(1)
	c.deltaBytesLowerToUpper.Add(uint64(nBytes))
	c.deltaPacketsLowerToUpper.Add(1)
}

// AddUpperToLower atomically accounts for a packet travelling upper->lower.
func (c *Counters) AddUpperToLower(nBytes uint32) {
	c.BytesUpperToLower.Add(uint64(nBytes))
	c.PacketsUpperToLower.Add(1)
	c.deltaBytesUpperToLower.Add(uint64(nBytes))
	c.deltaPacketsUpperToLower.Add(1)
}

// ConsumeDelta atomically reads and clears the bookkeeping deltas used by
// the update tick's rate sampling, reporting whether any activity was
// observed since the last call.
func (c *Counters) ConsumeDelta() (sample RateSample, active bool) {
	sample.BytesLowerToUpper = c.deltaBytesLowerToUpper.Swap(0)
	sample.BytesUpperToLower = c.deltaBytesUpperToLower.Swap(0)
	sample.PacketsLowerToUpper = c.deltaPacketsLowerToUpper.Swap(0)
	sample.PacketsUpperToLower = c.deltaPacketsUpperToLower.Swap(0)
	active = sample.BytesLowerToUpper > 0 || sample.BytesUpperToLower > 0 ||
		sample.PacketsLowerToUpper > 0 || sample.PacketsUpperToLower > 0
	return
}

// Identity is the immutable 5-tuple (plus VLAN/tunnel) identity a Record is
// keyed by. It is set once at construction and never mutated afterwards.
type Identity struct {
	IfaceName string
	IfaceRole IfaceRole

	LowerMAC [6]byte
	UpperMAC [6]byte

	IPVersion  uint8
	LowerIP    netip.Addr
	UpperIP    netip.Addr
	VLAN       uint16
	TunnelType TunnelType

	IPProto   uint8
	LowerPort uint16
	UpperPort uint16
}

// Record is a single flow's state, shared between the capture worker that
// created it, at most one detection worker, and transient readers (status
// sweep, plugins). See Acquire/Release for the reference-counted
// ownership scheme.
type Record struct {
	Identity Identity

	LastTCPSeq atomic.Uint32

	FirstSeenMs atomic.Int64
	LastSeenMs  atomic.Int64

	// Classification fields. Written exclusively by the flow's sticky
	// detection worker; safe for others to read only after observing
	// Flags.DetectionComplete() == true.
	DetectedProtocolID  uint32
	DetectedApplication uint32
	ProtocolName        string
	ApplicationName      string
	Category             Category
	Risks                Risks
	ProtoMeta            ProtoMeta
	DNSHostName          string

	Counters Counters
	Flags    Flags

	// PrivacyLower / PrivacyUpper mark whether the respective endpoint is
	// subject to redaction in emitted output. Set once at creation by the
	// capture worker; read-only afterwards.
	PrivacyLower bool
	PrivacyUpper bool

	LowerMap  LowerMap
	OtherType OtherType
	Origin    Origin

	// PrimaryDigest is stable for the life of the flow. MetadataDigest is
	// the zero value until classification stabilizes.
	PrimaryDigest  [20]byte
	MetadataDigest [20]byte

	// DPIThreadID is the sticky detection worker index chosen at creation.
	DPIThreadID int

	// DetectionPackets counts packets fed to the DPI engine; bounded by
	// the configured per-flow detection budget.
	DetectionPackets atomic.Uint32

	refs atomic.Int32
}

// New creates a Record with a single strong reference (held by the caller,
// conventionally the flow map).
func New(id Identity, nowMs int64) *Record {
	r := &Record{Identity: id}
	r.FirstSeenMs.Store(nowMs)
	r.LastSeenMs.Store(nowMs)
	r.refs.Store(1)
	return r
}

// Acquire takes an additional strong reference to the record.
func (r *Record) Acquire() {
	r.refs.Add(1)
}

// Release drops a strong reference, returning the number of references
// remaining. Callers must not touch the record after observing 0.
func (r *Record) Release() int32 {
	return r.refs.Add(-1)
}

// RefCount returns the current strong reference count.
func (r *Record) RefCount() int32 {
	return r.refs.Load()
}

// Touch updates LastSeenMs to the given packet timestamp.
func (r *Record) Touch(nowMs int64) {
	r.LastSeenMs.Store(nowMs)
}

// IdleMs returns the time since the flow was last observed, relative to nowMs.
func (r *Record) IdleMs(nowMs int64) int64 {
	return nowMs - r.LastSeenMs.Load()
}
