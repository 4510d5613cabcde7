// Package pacer implements the adaptive backoff + probing state machine:
// it decides how long to wait between chunks and continuously searches
// for the shortest interval the link can sustain.
package pacer

import (
	"sync"
	"time"
)

// Outcome is the result of a single dispatched notification.
type Outcome int

const (
	Success Outcome = iota
	Timeout
	HardFailure
)

// Reason identifies why a PacingInfo snapshot was emitted. Values are
// ordered by coalescing priority: when more than one fires within the
// same pump tick, the lower Reason value wins and only that one reaches
// the observer.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDisconnectReset
	ReasonBackoff
	ReasonEscalate
	ReasonChunkShrink
	ReasonMsgSizeFallback
	ReasonProbeStart
	ReasonProbeAccepted
	ReasonRecompute
)

// Strongest returns whichever of a and b has coalescing priority.
// ReasonNone never beats a real reason.
func Strongest(a, b Reason) Reason {
	if a == ReasonNone {
		return b
	}
	if b == ReasonNone {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDisconnectReset:
		return "disconnect_reset"
	case ReasonBackoff:
		return "backoff"
	case ReasonEscalate:
		return "escalate"
	case ReasonChunkShrink:
		return "chunk_shrink"
	case ReasonMsgSizeFallback:
		return "msg_size_fallback"
	case ReasonProbeStart:
		return "probe_start"
	case ReasonProbeAccepted:
		return "probe_accepted"
	case ReasonRecompute:
		return "recompute"
	default:
		return "unknown"
	}
}

// Tuning constants for the probing/backoff state machine.
const (
	ProbeAfterSuccesses   = 64
	ProbeStepUS           = 10 * time.Microsecond
	ProbeStepPct          = 2
	ProbeConfirmSuccesses = 48
	LKGEscalateAfterFails = 3
	EscalateCooldown      = 1 * time.Second
	MaxSendInterval       = 1 * time.Second
	CoolSuccessRequired   = 64
	backoffNumerator      = 6
	backoffDenominator    = 5
	lkgRelaxNumerator     = 103
	lkgRelaxDenominator   = 100
)

// PacingInfo is the immutable snapshot emitted on every pacing change.
type PacingInfo struct {
	SendInterval    time.Duration
	MinSendInterval time.Duration
	LKGInterval     time.Duration
	TXChunkSize     uint16
	MTU             uint16
	LLOctets        uint16
	LLTimeUS        uint32
	Probing         bool
	Reason          Reason
}

type runState int

const (
	stateIdle runState = iota
	stateSteady
	stateProbing
	stateBackedOff
)

// Pacer is the transmit-pacing state machine. All mutating methods are
// intended to be called only from the pump context, so the mutex here
// guards concurrent reads from status accessors, not concurrent writers.
type Pacer struct {
	mu sync.Mutex

	state runState

	minInterval time.Duration
	current     time.Duration
	lkg         time.Duration

	probeSuccesses int
	lkgFailStreak  int
	successStreak  int
	coolSuccesses  int

	lastEscalate time.Time

	lastInfo PacingInfo
}

// New creates a Pacer at the conservative default: current == lkg == min.
func New(minInterval time.Duration) *Pacer {
	p := &Pacer{}
	p.resetLocked(minInterval)
	return p
}

func (p *Pacer) resetLocked(minInterval time.Duration) {
	p.state = stateIdle
	p.minInterval = minInterval
	p.current = minInterval
	p.lkg = minInterval
	p.probeSuccesses = 0
	p.lkgFailStreak = 0
	p.successStreak = 0
	p.coolSuccesses = 0
	p.lastEscalate = time.Time{}
}

// Reset is the disconnect transition: conservative defaults, flags
// cleared, reason DisconnectReset. Rings are untouched; those belong to
// the caller.
func (p *Pacer) Reset(minInterval time.Duration) PacingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(minInterval)
	return p.snapshotLocked(ReasonDisconnectReset)
}

// Activate transitions out of Idle once connected && subscribed becomes
// true, entering Steady at the current interval.
func (p *Pacer) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateIdle {
		p.state = stateSteady
	}
}

// Idle transitions back to Idle (e.g. unsubscribed but still connected).
func (p *Pacer) Idle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateIdle
}

// ReadyNow is the timing half of the send gate; the caller ANDs in
// connected && subscribed, since the Pacer doesn't track those.
func (p *Pacer) ReadyNow(now, lastTxAt time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateIdle {
		return false
	}
	return now.Sub(lastTxAt) >= p.current
}

// SleepTarget returns how long until the pacer would next allow a send,
// for a Task-mode blocking wait.
func (p *Pacer) SleepTarget(now, lastTxAt time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.current - now.Sub(lastTxAt)
	if d < 0 {
		d = 0
	}
	return d
}

// Snapshot returns the most recent PacingInfo without mutating state.
func (p *Pacer) Snapshot() PacingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastInfo
}

func (p *Pacer) snapshotLocked(reason Reason) PacingInfo {
	info := PacingInfo{
		SendInterval:    p.current,
		MinSendInterval: p.minInterval,
		LKGInterval:     p.lkg,
		Probing:         p.state == stateProbing,
		Reason:          reason,
	}
	p.lastInfo = info
	return info
}

// OnOutcome feeds a single send-outcome event into the state machine and
// returns the resulting PacingInfo. now is used for the escalate cooldown.
func (p *Pacer) OnOutcome(outcome Outcome, now time.Time) PacingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch outcome {
	case Success:
		return p.onSuccessLocked(now)
	default:
		// Timeout and HardFailure drive the same backoff path; the type
		// distinction is kept for callers that account them differently.
		return p.onFailureLocked(now)
	}
}

// onSuccessLocked applies one clean send. In Steady, once
// ProbeAfterSuccesses consecutive successes have landed at or above LKG, it
// starts a probe by lowering the interval by the larger of ProbeStepUS and
// ProbeStepPct percent of the current interval, so at small intervals the
// absolute 10µs step applies. The probed interval never goes below the link
// minimum; a pacer already at its minimum does not probe.
func (p *Pacer) onSuccessLocked(now time.Time) PacingInfo {
	reason := ReasonNone

	if p.state == stateBackedOff {
		p.coolSuccesses++
		if p.coolSuccesses >= CoolSuccessRequired {
			p.state = stateSteady
			p.successStreak = 0
			p.coolSuccesses = 0
		}
		return p.snapshotLocked(reason)
	}

	if p.state == stateProbing {
		p.probeSuccesses++
		if p.probeSuccesses >= ProbeConfirmSuccesses {
			p.lkg = p.current
			p.state = stateSteady
			p.probeSuccesses = 0
			reason = ReasonProbeAccepted
		}
		return p.snapshotLocked(reason)
	}

	// Steady.
	p.successStreak++
	if p.current >= p.lkg && p.successStreak >= ProbeAfterSuccesses {
		step := time.Duration(float64(p.current) * ProbeStepPct / 100)
		if step < ProbeStepUS {
			step = ProbeStepUS
		}
		next := p.current - step
		if next < p.minInterval {
			next = p.minInterval
		}
		if next < p.current {
			p.current = next
			p.state = stateProbing
			p.probeSuccesses = 0
			p.successStreak = 0
			reason = ReasonProbeStart
		}
	}
	return p.snapshotLocked(reason)
}

func (p *Pacer) onFailureLocked(now time.Time) PacingInfo {
	reason := ReasonBackoff

	if p.state == stateProbing {
		// Probing -> Backoff: restore to last-known-good first.
		p.current = p.lkg
		p.state = stateSteady
		p.lkgFailStreak++
		if p.lkgFailStreak >= LKGEscalateAfterFails &&
			(p.lastEscalate.IsZero() || now.Sub(p.lastEscalate) >= EscalateCooldown) {
			p.lkg = p.lkg * lkgRelaxNumerator / lkgRelaxDenominator
			p.lkgFailStreak = 0
			p.lastEscalate = now
			// Backoff outranks Escalate in the coalescing table, so the
			// reported reason below still wins over this one.
		}
	}

	p.current = p.current * backoffNumerator / backoffDenominator
	if p.current > MaxSendInterval {
		p.current = MaxSendInterval
	}
	p.state = stateBackedOff
	p.coolSuccesses = 0
	p.successStreak = 0

	return p.snapshotLocked(reason)
}

// OnLinkRecompute is called whenever the link parameters change (MTU,
// PHY, or DLE renegotiation) to fold the new minimum interval into the
// state machine, clamping current/lkg up if the link got slower.
func (p *Pacer) OnLinkRecompute(minInterval time.Duration, reason Reason) PacingInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minInterval = minInterval
	if p.current < minInterval {
		p.current = minInterval
	}
	if p.lkg < minInterval {
		p.lkg = minInterval
	}
	return p.snapshotLocked(reason)
}

// Probing reports whether the pacer is currently trialling a faster
// interval than LKG.
func (p *Pacer) Probing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateProbing
}

// Interval returns the current scheduled inter-chunk gap.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// LKGInterval returns the last interval known to sustain success.
func (p *Pacer) LKGInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lkg
}
