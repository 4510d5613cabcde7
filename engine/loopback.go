package engine

import (
	"sync"
	"time"

	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

// Loopback is a HostStack test double: every dispatched chunk completes
// after a configurable latency and, when Echo is set, is echoed back to
// the rx ring, simulating a peer that receives and retransmits. It lets
// engine tests exercise
// the full pump algorithm without a real BLE controller.
type Loopback struct {
	mu sync.Mutex

	engine *Engine

	// Latency is how long a dispatched notification takes to "confirm".
	// Zero confirms synchronously on the calling goroutine.
	Latency time.Duration

	// Echo, when true, delivers every dispatched chunk whose completion
	// outcome is Success back into the engine's rx ring for round-trip
	// testing.
	Echo bool

	// NextOutcomes lets a test script the completion outcome for
	// upcoming dispatches; when empty, Success is assumed.
	NextOutcomes []pacer.Outcome

	// NextDispatch lets a test script the synchronous DispatchOutcome
	// (Dispatched/QueueFull/DispatchHardFailure) for upcoming Notify
	// calls; when empty, Dispatched is assumed.
	NextDispatch []DispatchOutcome

	mtuRequests  []uint16
	phyRequests  []linkprofile.PHY
	connParamSet []linkprofile.ConnParams
}

// NewLoopback constructs an unattached Loopback. Call Attach once the
// Engine exists, since Begin needs a HostStack before the Engine it would
// reference is constructed.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Attach wires the Loopback to the Engine it serves. Must be called
// exactly once, immediately after Begin returns.
func (l *Loopback) Attach(e *Engine) {
	l.mu.Lock()
	l.engine = e
	l.mu.Unlock()
}

func (l *Loopback) popDispatch() DispatchOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.NextDispatch) == 0 {
		return Dispatched
	}
	d := l.NextDispatch[0]
	l.NextDispatch = l.NextDispatch[1:]
	return d
}

func (l *Loopback) popOutcome() pacer.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.NextOutcomes) == 0 {
		return pacer.Success
	}
	o := l.NextOutcomes[0]
	l.NextOutcomes = l.NextOutcomes[1:]
	return o
}

// Notify implements HostStack.
func (l *Loopback) Notify(chunk []byte) DispatchOutcome {
	dispatch := l.popDispatch()
	if dispatch != Dispatched {
		return dispatch
	}

	l.mu.Lock()
	e := l.engine
	latency := l.Latency
	echo := l.Echo
	l.mu.Unlock()

	outcome := l.popOutcome()
	complete := func() {
		if echo && outcome == pacer.Success {
			e.Deliver(chunk)
		}
		e.CompleteNotify(outcome)
	}
	if latency <= 0 {
		complete()
	} else {
		go func() {
			time.Sleep(latency)
			complete()
		}()
	}
	return Dispatched
}

// RequestMTU implements HostStack: it always "succeeds" at the request
// level and records the ask for test assertions; tests drive the actual
// negotiated value back in via Engine.OnMTUNegotiated.
func (l *Loopback) RequestMTU(n uint16) error {
	l.mu.Lock()
	l.mtuRequests = append(l.mtuRequests, n)
	l.mu.Unlock()
	return nil
}

// SetConnParams implements HostStack.
func (l *Loopback) SetConnParams(p linkprofile.ConnParams) error {
	l.mu.Lock()
	l.connParamSet = append(l.connParamSet, p)
	l.mu.Unlock()
	return nil
}

// RequestPHY implements HostStack.
func (l *Loopback) RequestPHY(phy linkprofile.PHY, scheme linkprofile.CodedScheme) error {
	l.mu.Lock()
	l.phyRequests = append(l.phyRequests, phy)
	l.mu.Unlock()
	return nil
}

// MTURequests returns every MTU value requested so far, for assertions.
func (l *Loopback) MTURequests() []uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint16(nil), l.mtuRequests...)
}

// ConnParamRequests returns every connection-parameter target requested so
// far, for assertions.
func (l *Loopback) ConnParamRequests() []linkprofile.ConnParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkprofile.ConnParams(nil), l.connParamSet...)
}

// PHYRequests returns every PHY requested so far, for assertions.
func (l *Loopback) PHYRequests() []linkprofile.PHY {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkprofile.PHY(nil), l.phyRequests...)
}
