package capture

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/fako1024/slimcap/capture"
	"github.com/fako1024/slimcap/capture/afpacket/afring"
	"github.com/fako1024/slimcap/link"

	"github.com/sentrytap/sentrytap/pkg/addrclass"
	"github.com/sentrytap/sentrytap/pkg/capture/capturetypes"
	"github.com/sentrytap/sentrytap/pkg/config"
	"github.com/sentrytap/sentrytap/pkg/detect"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowid"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/flowrecord"
)

const (
	// MaxIfaces is the maximum number of interfaces we can monitor
	MaxIfaces = 1024

	defaultRingSizeMB  = 6
	ringNumBlocks      = 4
	bytesPerMB         = 1024 * 1024
)

var (
	// ErrLocalBufferOverflow signifies that the local packet buffer is full
	ErrLocalBufferOverflow = errors.New("local packet buffer overflow")

	defaultSourceInitFn = func(c *Capture) (capture.SourceZeroCopy, error) {
		ringSizeMB := c.config.RingSizeMB
		if ringSizeMB <= 0 {
			ringSizeMB = defaultRingSizeMB
		}
		return afring.NewSource(c.iface,
			afring.CaptureLength(link.CaptureLengthMinimalIPv6Transport),
			afring.BufferSize(ringSizeMB*bytesPerMB/ringNumBlocks, ringNumBlocks),
			afring.Promiscuous(c.config.Promiscuous),
		)
	}
)

// sourceInitFn denotes the function used to initialize a capture source,
// providing the ability to override the default behavior, e.g. in mock tests
type sourceInitFn func(*Capture) (capture.SourceZeroCopy, error)

// natDetectorFn reports whether the flow identified by its observed
// (pre-canonicalization) source/destination is subject to network address
// translation, e.g. by consulting conntrack. A nil natDetectorFn disables
// NAT detection entirely.
type natDetectorFn func(origSrc, origDst netip.Addr, origSrcPort, origDstPort uint16, proto uint8) (bool, error)

// addrSourceFn returns the current address set of a capture interface, used
// to feed the address role classifier (pkg/addrclass). A nil addrSourceFn
// disables address-role classification entirely, leaving LowerMap/OtherType
// at their zero value.
type addrSourceFn func(iface string) addrclass.InterfaceAddrs

// Capture captures packets off a given network interface, parses their IP
// and transport headers, and dispatches them into the shared flow map and
// detection pool. For each Capture, a goroutine is spawned at creation
// time. To avoid leaking this goroutine, be sure to call close() when
// you're done with a Capture.
//
// Each capture is associated with a network interface when created. This
// interface can never be changed.
//
// All public methods of Capture are threadsafe.
type Capture struct {
	iface string

	config    config.InterfaceConfig
	ifaceRole flowrecord.IfaceRole

	flows            *flowmap.Map
	pool             *detect.Pool
	maxDetectionPkts uint32

	// stats since the last status() call
	stats capturetypes.CaptureStats

	// Pause/resume synchronization for external status reads
	capLock *captureLock

	// Generic handle / source for packet capture
	captureHandle capture.SourceZeroCopy
	sourceInitFn  sourceInitFn

	// natDetector, if set, is consulted once per newly observed flow
	natDetector natDetectorFn

	// addrSource, if set, supplies this interface's address set to the
	// address role classifier for every newly observed flow
	addrSource addrSourceFn

	// fhc/dhc are consulted once per newly observed flow, before its first
	// packet is ever dispatched to detection, so that flow_new already
	// carries any cache hit
	fhcCache *fhc.Cache
	dhcCache *dhc.Cache

	// privacyNets are the parsed CIDRs from config.InterfaceConfig.PrivacyNets
	privacyNets []netip.Prefix

	// WaitGroup tracking active processing
	wgProc sync.WaitGroup

	// startedAt tracks when the capture was started
	startedAt time.Time
}

// newCapture creates a new Capture associated with the given iface.
func newCapture(iface string, cfg config.InterfaceConfig, flows *flowmap.Map, pool *detect.Pool, maxDetectionPkts uint32) *Capture {
	role := flowrecord.IfaceRoleUnknown
	switch cfg.Role {
	case "lan":
		role = flowrecord.IfaceRoleLAN
	case "wan":
		role = flowrecord.IfaceRoleWAN
	}

	var privacyNets []netip.Prefix
	for _, cidr := range cfg.PrivacyNets {
		if prefix, err := netip.ParsePrefix(cidr); err == nil {
			privacyNets = append(privacyNets, prefix)
		}
	}

	return &Capture{
		iface:            iface,
		config:           cfg,
		ifaceRole:        role,
		flows:            flows,
		pool:             pool,
		maxDetectionPkts: maxDetectionPkts,
		capLock:          newCaptureLock(),
		sourceInitFn:     defaultSourceInitFn,
		privacyNets:      privacyNets,
	}
}

// SetSourceInitFn sets a custom function used to initialize a new capture
func (c *Capture) SetSourceInitFn(fn sourceInitFn) *Capture {
	c.sourceInitFn = fn
	return c
}

// SetNATDetector sets the function used to detect NAT'd flows. A nil fn
// disables NAT detection for this Capture.
func (c *Capture) SetNATDetector(fn natDetectorFn) *Capture {
	c.natDetector = fn
	return c
}

// SetAddrSource sets the function used to look up this interface's address
// set for address-role classification. A nil fn disables classification.
func (c *Capture) SetAddrSource(fn addrSourceFn) *Capture {
	c.addrSource = fn
	return c
}

// SetFHCCache sets the flow-hash cache consulted at flow-creation time. A
// nil cache disables the FHC short-circuit for this Capture.
func (c *Capture) SetFHCCache(cache *fhc.Cache) *Capture {
	c.fhcCache = cache
	return c
}

// SetDHCCache sets the DNS-hint cache consulted at flow-creation time. A
// nil cache disables the DHC hostname hint for this Capture.
func (c *Capture) SetDHCCache(cache *dhc.Cache) *Capture {
	c.dhcCache = cache
	return c
}

// Iface returns the name of the interface
func (c *Capture) Iface() string {
	return c.iface
}

func (c *Capture) run() (err error) {
	c.captureHandle, err = c.sourceInitFn(c)
	if err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}

	c.startedAt = time.Now()

	return
}

func (c *Capture) close() error {
	if err := c.captureHandle.Close(); err != nil {
		return err
	}

	// Wait until processing has concluded
	c.wgProc.Wait()

	// Setting the handle to nil isn't strictly necessary, but it's an additional
	// guard against races (because it allows the race detector to pick up more
	// easily on potential concurrent accesses) and might trigger a crash on any
	// unwanted access
	c.captureHandle = nil
	return nil
}

// process is the heart of the Capture. It listens for network traffic on the
// network interface and dispatches the resulting flows into the flow map.
//
// process keeps running until close() is called on its capture handle or it
// encounters a serious capture error.
func (c *Capture) process() <-chan error {

	captureErrors := make(chan error, 64)

	c.wgProc.Add(1)
	go func() {

		defer func() {
			close(captureErrors)
			c.wgProc.Done()
		}()

		// Main packet capture loop which an interface should be in most of the time
		localBuf := NewLocalBuffer(c.captureHandle)
		for {

			// Since lock confirmation is only done from a single goroutine (this one)
			// tracking if the capture source was unblocked is safe and can act as flag when to
			// read from the lock request channel (which in turn is atomic).
			// Similarly, once this goroutine observes that the channel length is 1 it is guaranteed
			// that there is a request on the channel that can be read on the next line.
			if len(c.capLock.request) > 0 {
				buf := <-c.capLock.request      // Consume the lock request
				c.capLock.confirm <- struct{}{} // Confirm that process() is not processing

				// Claim / assign the shared data from the memory pool for / to this buffer
				localBuf.Assign(buf)

				// Continue fetching packets and add them to the local buffer
				for {
					if len(c.capLock.done) > 0 {
						<-c.capLock.done // Consume the unlock request to continue normal processing
						break
					}

					ipLayer, pktType, pktSize, err := c.captureHandle.NextIPPacketZeroCopy()
					if err != nil {

						// If we receive an unblock event while capturing to buffer, continue
						if errors.Is(err, capture.ErrCaptureUnblocked) { // capture unblocked (during lock)
							continue
						}
						if errors.Is(err, capture.ErrCaptureStopped) { // capture stopped gracefully
							localBuf.Release()
							return
						}

						localBuf.Release()
						captureErrors <- fmt.Errorf("capture error while buffering: %w", err)
						return
					}

					// Try to append to local buffer. In case the buffer is full, stop buffering and
					// wait for the unlock request
					if !localBuf.Add(ipLayer, pktType, pktSize) {
						captureErrors <- ErrLocalBufferOverflow
						<-c.capLock.done // Consume the unlock request to continue normal processing
						break
					}
				}

				// Drain buffer if not empty
				if localBuf.N() > 0 {
					for i := 0; i < localBuf.N(); i++ {
						c.addToFlowMap(localBuf.Get(i))
					}
				}
				localBuf.Release()

				// Advance to the next loop iteration in case there is a pending lock
				continue
			}

			// Fetch the next packet or PPOLL event from the source
			if err := c.capturePacket(); err != nil {
				if errors.Is(err, capture.ErrCaptureUnblocked) { // capture unblocked
					continue
				}
				if errors.Is(err, capture.ErrCaptureStopped) { // capture stopped gracefully
					return
				}

				captureErrors <- err
				return
			}
		}
	}()

	return captureErrors
}

func (c *Capture) capturePacket() error {
	ipLayer, pktType, pktSize, err := c.captureHandle.NextIPPacketZeroCopy()
	if err != nil {
		// NextIPPacketZeroCopy should return ErrCaptureStopped in case the
		// handle is closed or ErrCaptureUnblocked in case the PPOLL was
		// unblocked
		return fmt.Errorf("capture error: %w", err)
	}

	c.addToFlowMap(ipLayer, pktType, pktSize)
	return nil
}

// addToFlowMap parses the IP/transport headers of a captured packet,
// resolves (or creates) its canonical flow record in the shared flow map,
// accounts for it in the correct direction, and hands its payload to the
// detection pool for as long as that flow's detection budget allows.
func (c *Capture) addToFlowMap(ipLayer capture.IPLayer, _ capture.PacketType, pktSize uint32) {
	c.stats.Processed++

	parsed, errno, err := parseIPLayer(ipLayer)
	if err != nil || errno != capturetypes.ErrnoOK {
		if errno.ParsingFailed() {
			c.stats.ParsingErrors[errno]++
		}
		return
	}

	nowMs := time.Now().UnixMilli()

	srcEP := flowid.Endpoint{IP: parsed.srcIP, Port: parsed.srcPort}
	dstEP := flowid.Endpoint{IP: parsed.dstIP, Port: parsed.dstPort}
	lower, upper, origin := flowid.Order(srcEP, dstEP)

	id := flowrecord.Identity{
		IfaceName: c.iface,
		IfaceRole: c.ifaceRole,
		IPVersion: parsed.ipVersion,
		LowerIP:   lower.IP,
		UpperIP:   upper.IP,
		IPProto:   parsed.ipProto,
		LowerPort: lower.Port,
		UpperPort: upper.Port,
	}

	digest := flowid.Primary(id, [6]byte{})

	flow, existed := c.flows.Lookup(digest, true)
	isNewFlow := !existed
	if isNewFlow {
		flow = flowrecord.New(id, nowMs)
		c.flows.Insert(digest, flow, true)

		if c.addrSource != nil {
			ifa := c.addrSource(c.iface)
			lowerClass := addrclass.Classify(lower.IP, ifa)
			upperClass := addrclass.Classify(upper.IP, ifa)
			flow.LowerMap, flow.OtherType = addrclass.DeriveMapping(lowerClass, upperClass)
		}

		// Privacy redaction (§4.6 step 2): mark matching endpoints for
		// redaction in emitted output. The digest above was already
		// computed on the original, unredacted tuple.
		for _, n := range c.privacyNets {
			if n.Contains(lower.IP) {
				flow.PrivacyLower = true
			}
			if n.Contains(upper.IP) {
				flow.PrivacyUpper = true
			}
		}

		if c.natDetector != nil {
			if natted, err := c.natDetector(parsed.srcIP, parsed.dstIP, parsed.srcPort, parsed.dstPort, parsed.ipProto); err == nil && natted {
				flow.Flags.SetIPNat()
			}
		}

		// Consult the DHC and FHC before this flow's first packet is ever
		// dispatched to detection (§4.6 step 6), so that flow_new already
		// carries any cache hit.
		if c.dhcCache != nil {
			if hint, ok := c.dhcCache.Lookup(upper.IP.String()); ok {
				flow.DNSHostName = hint
				flow.Flags.SetDHCHit()
			}
		}
		if c.fhcCache != nil {
			if metadata, hit := c.fhcCache.Pop(digest); hit {
				flow.MetadataDigest = metadata
				flow.Flags.SetFHCHit()
				flow.Flags.SetDetectionComplete()
			}
		}
	}
	c.flows.Release(digest)

	flow.Touch(nowMs)

	if origin == flowrecord.OriginLower {
		flow.Counters.AddLowerToUpper(pktSize)
	} else {
		flow.Counters.AddUpperToLower(pktSize)
	}

	if parsed.ipProto == protoTCP {
		if parsed.tcpFlags&tcpFlagFIN != 0 {
			flow.Flags.SetTCPFin()
			if parsed.tcpFlags&tcpFlagACK != 0 {
				flow.Flags.SetTCPFinAck()
			}
		}
	}

	// The newly created flow's first packet is always dispatched, even if
	// classification already concluded above (an FHC hit), so that
	// flow_new still reaches the plugin bus with the hit recorded on it.
	if isNewFlow || (!flow.Flags.DetectionComplete() && flow.DetectionPackets.Load() < c.maxDetectionPkts) {
		flow.Acquire()
		c.pool.Dispatch(detect.Item{
			Digest:  digest,
			Flow:    flow,
			IPProto: parsed.ipProto,
			SrcPort: parsed.srcPort,
			DstPort: parsed.dstPort,
			Payload: parsed.payload,
		})
	}
}

func (c *Capture) status() (*capturetypes.CaptureStats, error) {

	stats, err := c.captureHandle.Stats()
	if err != nil {
		return nil, err
	}

	c.stats.ReceivedTotal += stats.PacketsReceived
	c.stats.ProcessedTotal += c.stats.Processed
	c.stats.DroppedTotal += stats.PacketsDropped

	packetsProcessed.WithLabelValues(c.iface).Add(float64(c.stats.Processed))
	packetsDropped.WithLabelValues(c.iface).Add(float64(stats.PacketsDropped))
	captureErrors.WithLabelValues(c.iface).Add(float64(c.stats.ParsingErrors.Sum()))

	res := capturetypes.CaptureStats{
		StartedAt:      c.startedAt,
		Received:       stats.PacketsReceived,
		ReceivedTotal:  c.stats.ReceivedTotal,
		Processed:      c.stats.Processed,
		ProcessedTotal: c.stats.ProcessedTotal,
		Dropped:        stats.PacketsDropped,
		DroppedTotal:   c.stats.DroppedTotal,
		ParsingErrors:  c.stats.ParsingErrors,
	}

	c.stats.Processed = 0
	c.stats.ParsingErrors.Reset()

	return &res, nil
}

func (c *Capture) lock() {

	// Fetch data from the pool for the local buffer. If the pool holds no
	// free buffer, a new one is allocated rather than waiting for one
	buf := memPool.Get(0)

	// Notify the capture that a locked interaction is about to begin, then
	// unblock the capture potentially being in a blocking PPOLL syscall.
	// Channel has a depth of one and hence this push is non-blocking. Since
	// we wait for confirmation there is no possibility of repeated attempts
	// or race conditions
	c.capLock.request <- buf
	if err := c.captureHandle.Unblock(); err != nil {
		panic(fmt.Sprintf("unexpectedly failed to unblock capture handle, deadlock inevitable: %s", err))
	}

	// Wait for confirmation of reception from the processing routine
	<-c.capLock.confirm
}

func (c *Capture) unlock() {

	// Signal that the locked interaction is complete, releasing the processing
	// routine. Since the done channel has a depth of one an Unblock() event
	// needs to be sent to ensure that a capture currently waiting for packets
	// in the buffering state continues to the next iteration in order to
	// observe the unlock request
	c.capLock.done <- struct{}{}
	if err := c.captureHandle.Unblock(); err != nil {
		panic(fmt.Sprintf("unexpectedly failed to unblock capture handle, deadlock inevitable: %s", err))
	}
}

type captureLock struct {
	request chan []byte
	confirm chan struct{}
	done    chan struct{}
}

func newCaptureLock() *captureLock {
	return &captureLock{
		request: make(chan []byte, 1),
		confirm: make(chan struct{}),
		done:    make(chan struct{}, 1),
	}
}
