package flowrecord

import "sync/atomic"

// Flags holds the boolean lifecycle markers of a Record as independent
// atomics. Per the flow lifecycle invariant, DetectionInit <= DetectionComplete
// <= Expiring <= Expired: once a flag is set it is never cleared again.
type Flags struct {
	detectionInit     atomic.Bool
	detectionComplete atomic.Bool
	detectionUpdated  atomic.Bool
	detectionGuessed  atomic.Bool
	expiring          atomic.Bool
	expired           atomic.Bool
	dhcHit            atomic.Bool
	fhcHit            atomic.Bool
	risksChecked      atomic.Bool
	softDissector     atomic.Bool
	tcpFin            atomic.Bool
	tcpFinAck         atomic.Bool
	ipNat             atomic.Bool
}

func (f *Flags) DetectionInit() bool     { return f.detectionInit.Load() }
func (f *Flags) DetectionComplete() bool { return f.detectionComplete.Load() }
func (f *Flags) DetectionUpdated() bool  { return f.detectionUpdated.Load() }
func (f *Flags) DetectionGuessed() bool  { return f.detectionGuessed.Load() }
func (f *Flags) Expiring() bool          { return f.expiring.Load() }
func (f *Flags) Expired() bool           { return f.expired.Load() }
func (f *Flags) DHCHit() bool            { return f.dhcHit.Load() }
func (f *Flags) FHCHit() bool            { return f.fhcHit.Load() }
func (f *Flags) RisksChecked() bool      { return f.risksChecked.Load() }
func (f *Flags) SoftDissector() bool     { return f.softDissector.Load() }
func (f *Flags) TCPFin() bool            { return f.tcpFin.Load() }
func (f *Flags) TCPFinAck() bool         { return f.tcpFinAck.Load() }
func (f *Flags) IPNat() bool             { return f.ipNat.Load() }

func (f *Flags) SetDetectionInit()     { f.detectionInit.Store(true) }
func (f *Flags) SetDetectionComplete() { f.detectionComplete.Store(true) }
func (f *Flags) SetDetectionUpdated()  { f.detectionUpdated.Store(true) }
func (f *Flags) SetDetectionGuessed()  { f.detectionGuessed.Store(true) }
func (f *Flags) SetExpiring()          { f.expiring.Store(true) }
func (f *Flags) SetExpired()           { f.expired.Store(true) }
func (f *Flags) SetDHCHit()            { f.dhcHit.Store(true) }
func (f *Flags) SetFHCHit()            { f.fhcHit.Store(true) }
func (f *Flags) SetRisksChecked()      { f.risksChecked.Store(true) }
func (f *Flags) SetSoftDissector()     { f.softDissector.Store(true) }
func (f *Flags) SetTCPFin()            { f.tcpFin.Store(true) }
func (f *Flags) SetTCPFinAck()         { f.tcpFinAck.Store(true) }
func (f *Flags) SetIPNat()             { f.ipNat.Store(true) }
