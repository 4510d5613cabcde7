// Package linkadapter implements the RSSI-driven link tuner: it samples
// signal strength, smooths it with an exponential moving average, and,
// subject to hysteresis and a cooldown, advises the engine to request a
// PHY change or a TX-power bump. Every request here is advisory; the
// engine must wait for the host stack's PHY-updated event before trusting
// the new link state.
package linkadapter

import (
	"time"

	"github.com/nusuart/serial/linkprofile"
)

// Sampling, smoothing and threshold tuning.
const (
	SampleInterval  = 500 * time.Millisecond
	ActionCooldown  = 4 * time.Second
	emaAlpha        = 0.25
	hysteresisDB    = 4.0
	txPowerBoostDBm = -80.0
	codedS8DBm      = -82.0
	codedS2DBm      = -75.0
	upgrade2MDBm    = -65.0
)

// Action is the advisory request LinkAdapter asks the engine to forward
// to the host stack's GAP layer.
type Action int

const (
	ActionNone Action = iota
	ActionRequestTXPowerIncrease
	ActionRequestCodedS8
	ActionRequestCodedS2Or1M
	ActionRequest2MOr1M
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRequestTXPowerIncrease:
		return "request_tx_power_increase"
	case ActionRequestCodedS8:
		return "request_coded_s8"
	case ActionRequestCodedS2Or1M:
		return "request_coded_s2_or_1m"
	case ActionRequest2MOr1M:
		return "request_2m_or_1m"
	default:
		return "unknown"
	}
}

// Adapter tracks the smoothed RSSI and issues at most one Action per
// ActionCooldown window. It holds no reference to the engine; the caller
// (TxEngine's pump) is responsible for actually invoking the GAP request
// and for recomputing LinkParameters once the host stack confirms the
// change via its PHY-updated event.
type Adapter struct {
	mode       linkprofile.Mode
	emaDBm     float64
	haveSample bool
	lastAction time.Time
}

// New creates an Adapter for the given operating mode. Mode affects only
// the TX-power-boost condition, which applies in LowPower and LongRange
// only.
func New(mode linkprofile.Mode) *Adapter {
	return &Adapter{mode: mode}
}

// SetMode updates the mode used for the TX-power-boost condition, e.g.
// after a GAP reconfiguration.
func (a *Adapter) SetMode(mode linkprofile.Mode) {
	a.mode = mode
}

// RSSI returns the current exponential moving average, in dBm.
func (a *Adapter) RSSI() float64 {
	return a.emaDBm
}

// Sample feeds one RSSI reading (dBm) through the EMA and decides whether
// to advise a link change, given the PHY currently negotiated on the
// connection. The very first call only seeds the EMA and always returns
// ActionNone, since there is no prior average yet to decide from. It
// returns ActionNone on every later call made within ActionCooldown of a
// previous non-None return.
func (a *Adapter) Sample(rssiDBm float64, currentPHY linkprofile.PHY, now time.Time) Action {
	if !a.haveSample {
		a.emaDBm = rssiDBm
		a.haveSample = true
		return ActionNone
	}
	a.emaDBm += emaAlpha * (rssiDBm - a.emaDBm)

	if !a.lastAction.IsZero() && now.Sub(a.lastAction) < ActionCooldown {
		return ActionNone
	}

	action := a.decide(currentPHY)
	if action != ActionNone {
		a.lastAction = now
	}
	return action
}

// decide picks at most one action. Downgrades (worsening conditions) take
// priority over upgrades so the link degrades conservatively even if a
// reading briefly straddles two bands.
func (a *Adapter) decide(currentPHY linkprofile.PHY) Action {
	rssi := a.emaDBm

	if rssi <= codedS8DBm {
		return ActionRequestCodedS8
	}

	boostEligible := a.mode == linkprofile.LowPower || a.mode == linkprofile.LongRange
	if boostEligible && rssi <= txPowerBoostDBm {
		return ActionRequestTXPowerIncrease
	}

	if currentPHY == linkprofile.PHY2M && rssi <= codedS2DBm {
		return ActionRequestCodedS2Or1M
	}

	// Upgrading back to 2M requires clearing the threshold by the
	// hysteresis margin, so a reading hovering near -65 doesn't flap.
	if currentPHY != linkprofile.PHY2M && rssi >= upgrade2MDBm+hysteresisDB {
		return ActionRequest2MOr1M
	}
	if currentPHY == linkprofile.PHY2M && rssi >= upgrade2MDBm {
		return ActionNone // already there
	}

	return ActionNone
}
