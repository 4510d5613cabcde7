// Package linkprofile computes link-layer capacity (chunk size, minimum
// send interval) from MTU/PHY/data-length-extension parameters, and holds
// the four operating-mode connection-parameter targets. Everything here
// is a pure function of its inputs, no clocks and no I/O, so the link
// adapter and the engine can recompute it freely whenever GAP events
// change the inputs.
package linkprofile

import "fmt"

// Mode selects a connection-parameter/PHY-preference profile.
type Mode int

const (
	Fast Mode = iota
	Balanced
	LowPower
	LongRange
)

func (m Mode) String() string {
	switch m {
	case Fast:
		return "fast"
	case Balanced:
		return "balanced"
	case LowPower:
		return "low_power"
	case LongRange:
		return "long_range"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// PHY identifies a Bluetooth LE physical layer coding.
type PHY int

const (
	PHY1M PHY = iota
	PHY2M
	PHYCoded
)

func (p PHY) String() string {
	switch p {
	case PHY1M:
		return "1M"
	case PHY2M:
		return "2M"
	case PHYCoded:
		return "coded"
	default:
		return fmt.Sprintf("phy(%d)", int(p))
	}
}

// CodedScheme is the over-the-air coding scheme used on Coded PHY.
type CodedScheme int

const (
	CodedNone CodedScheme = 0
	CodedS2   CodedScheme = 2
	CodedS8   CodedScheme = 8
)

// Link-layer and ATT framing constants.
const (
	ATTHeaderBytes       = 3
	L2CAPHeaderBytes     = 4
	EncryptOverheadBytes = 4
	MinChunkBytes        = 20
	MinMTU               = 23
	MaxMTU               = 517
	MinLLOctets          = 27
	MaxLLOctets          = 251
)

// ConnParams is one mode's GAP connection-parameter target, expressed in
// the units the link layer actually negotiates: 1.25ms units for the
// interval bounds, event counts for slave latency, 10ms units for the
// supervision timeout.
type ConnParams struct {
	MinIntervalUnits        uint16
	MaxIntervalUnits        uint16
	SlaveLatencyEvents      uint16
	SupervisionTimeoutUnits uint16
	PreferredPHY            PHY
	FallbackPHY             PHY
	PreferredCodedScheme    CodedScheme
}

// Profile bundles a mode's connection-parameter target with the slack
// term its min-send-interval computation adds.
type Profile struct {
	Mode        Mode
	ConnParams  ConnParams
	ModeSlackUS uint32
}

// Registry holds the four operating modes with their connection-parameter
// targets and PHY preferences, resolved by Mode. It replaces ad-hoc
// switch statements scattered across the link adapter and the engine with
// one source of truth.
type Registry struct {
	profiles map[Mode]Profile
}

// NewRegistry builds the standard four-mode registry.
func NewRegistry() *Registry {
	return &Registry{
		profiles: map[Mode]Profile{
			Fast: {
				Mode: Fast,
				ConnParams: ConnParams{
					MinIntervalUnits:        intervalUnits(7500),
					MaxIntervalUnits:        intervalUnits(10000),
					SlaveLatencyEvents:      0,
					SupervisionTimeoutUnits: timeoutUnits(4000),
					PreferredPHY:            PHY2M,
					FallbackPHY:             PHY1M,
				},
				ModeSlackUS: 200,
			},
			Balanced: {
				Mode: Balanced,
				ConnParams: ConnParams{
					MinIntervalUnits:        intervalUnits(15000),
					MaxIntervalUnits:        intervalUnits(30000),
					SlaveLatencyEvents:      2,
					SupervisionTimeoutUnits: timeoutUnits(5000),
					PreferredPHY:            PHY1M,
					FallbackPHY:             PHY1M,
				},
				ModeSlackUS: 400,
			},
			LowPower: {
				Mode: LowPower,
				ConnParams: ConnParams{
					MinIntervalUnits:        intervalUnits(60000),
					MaxIntervalUnits:        intervalUnits(120000),
					SlaveLatencyEvents:      8,
					SupervisionTimeoutUnits: timeoutUnits(6000),
					PreferredPHY:            PHY1M,
					FallbackPHY:             PHY1M,
				},
				ModeSlackUS: 2000,
			},
			LongRange: {
				Mode: LongRange,
				ConnParams: ConnParams{
					MinIntervalUnits:        intervalUnits(30000),
					MaxIntervalUnits:        intervalUnits(60000),
					SlaveLatencyEvents:      2,
					SupervisionTimeoutUnits: timeoutUnits(6000),
					PreferredPHY:            PHYCoded,
					FallbackPHY:             PHY1M,
					PreferredCodedScheme:    CodedS2,
				},
				ModeSlackUS: 1000,
			},
		},
	}
}

func intervalUnits(us uint32) uint16 { return uint16(us / 1250) }
func timeoutUnits(ms uint32) uint16  { return uint16(ms / 10) }

// Resolve returns the Profile for mode, or an error for an unknown mode,
// which Begin rejects up front as a configuration mismatch.
func (r *Registry) Resolve(m Mode) (p Profile, err error) {
	p, ok := r.profiles[m]
	if !ok {
		err = fmt.Errorf("linkprofile: unknown mode %v", m)
	}
	return
}

// LinkState is the negotiated link-layer snapshot.
type LinkState struct {
	MTU         uint16
	TXChunkSize uint16
	PHY         PHY
	CodedScheme CodedScheme
	LLOctets    uint16
	LLTimeUS    uint32
	Encrypted   bool
}

// ChunkSize computes the effective notification payload from an
// MTU/LL-octets/encrypted triple: the smaller of the ATT payload and the
// LL-DLE capacity, floored at MinChunkBytes.
func ChunkSize(mtu, llOctets uint16, encrypted bool) uint16 {
	attPayload := int(mtu) - ATTHeaderBytes
	if attPayload < MinChunkBytes {
		attPayload = MinChunkBytes
	}
	llCapacity := int(llOctets) - L2CAPHeaderBytes
	if encrypted {
		llCapacity -= EncryptOverheadBytes
	}
	if llCapacity < MinChunkBytes {
		llCapacity = MinChunkBytes
	}
	chunk := attPayload
	if llCapacity < chunk {
		chunk = llCapacity
	}
	if chunk < MinChunkBytes {
		chunk = MinChunkBytes
	}
	return uint16(chunk)
}

// MinSendIntervalUS computes the floor on the inter-chunk gap: the time a
// chunk occupies the link layer, plus the mode's slack term. llCapacity
// must be the same quantity ChunkSize derived the chunk from, so encrypted
// shaves off the same EncryptOverheadBytes here too.
func MinSendIntervalUS(chunkSize, llOctets uint16, llTimeUS uint32, encrypted bool, modeSlackUS uint32) uint32 {
	llCapacity := int(llOctets) - L2CAPHeaderBytes
	if encrypted {
		llCapacity -= EncryptOverheadBytes
	}
	if llCapacity <= 0 {
		llCapacity = 1
	}
	// ceil(chunkSize * llTimeUS / llCapacity)
	num := uint64(chunkSize) * uint64(llTimeUS)
	den := uint64(llCapacity)
	occupancy := (num + den - 1) / den
	return uint32(occupancy) + modeSlackUS
}

// Recompute derives a full LinkState plus its minimum send interval from raw
// negotiated parameters. modeSlackUS comes from the active Profile. It is
// the one function the engine calls on every MTU/PHY/DLE change.
func Recompute(mtu, llOctets uint16, llTimeUS uint32, phy PHY, scheme CodedScheme, encrypted bool, modeSlackUS uint32) (state LinkState, minIntervalUS uint32, err error) {
	if mtu < MinMTU || mtu > MaxMTU {
		err = fmt.Errorf("linkprofile: mtu %d out of range [%d,%d]", mtu, MinMTU, MaxMTU)
		return
	}
	if llOctets < MinLLOctets || llOctets > MaxLLOctets {
		err = fmt.Errorf("linkprofile: ll_octets %d out of range [%d,%d]", llOctets, MinLLOctets, MaxLLOctets)
		return
	}
	state = LinkState{
		MTU:         mtu,
		PHY:         phy,
		CodedScheme: scheme,
		LLOctets:    llOctets,
		LLTimeUS:    llTimeUS,
		Encrypted:   encrypted,
	}
	state.TXChunkSize = ChunkSize(mtu, llOctets, encrypted)
	minIntervalUS = MinSendIntervalUS(state.TXChunkSize, llOctets, llTimeUS, encrypted, modeSlackUS)
	return
}
