package engine

import (
	"time"

	"github.com/nusuart/serial/linkadapter"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

// OnConnect is invoked by the host stack when a central connects. The
// pacer stays Idle until OnSubscribeChanged(true) follows. The
// active mode's connection-parameter targets are requested immediately;
// the request is advisory and the peer may negotiate something else.
func (e *Engine) OnConnect(handle uint16, mac string) {
	e.mu.Lock()
	e.conn = ConnectionState{Connected: true, ConnHandle: handle, PeerMAC: mac}
	e.mu.Unlock()
	e.connected.Store(true)

	log.Noticef("central %s connected (handle %d), requesting %v connection parameters", mac, handle, e.profile.Mode)
	if err := e.host.SetConnParams(e.profile.ConnParams); err != nil {
		log.Warningf("connection parameter request failed: %v", err)
	}

	if e.obs.OnConnect != nil {
		e.obs.OnConnect(mac)
	}
}

// OnDisconnect handles a peer disconnect: the pacer resets to
// conservative defaults, the pump goes Idle, pending bytes are counted as
// dropped, but the rings are retained untouched.
func (e *Engine) OnDisconnect(reason DisconnectReason) {
	e.mu.Lock()
	e.conn = ConnectionState{}
	if e.pendingLen > 0 {
		e.txDrops.Add(uint64(e.pendingLen))
		e.pendingLen = 0
		e.pendingDispatched = false
	}
	e.mu.Unlock()

	e.connected.Store(false)
	e.subscribed.Store(false)

	// The next central renegotiates MTU/PHY/DLE from scratch, so neither
	// LinkState nor the pacer may carry the old connection's link over.
	if err := e.resetLinkBaseline(); err != nil {
		log.Warningf("baseline link reset failed: %v", err)
	}
	info := e.pacer.Reset(conservativeMinIntervalUS * time.Microsecond)
	e.emitPacing(info)

	log.Noticef("central disconnected: %v", reason)
	if e.obs.OnDisconnect != nil {
		e.obs.OnDisconnect(reason)
	}
	e.wakePump()
}

// OnSubscribeChanged is invoked when the peer subscribes/unsubscribes from
// the TX characteristic's notifications.
func (e *Engine) OnSubscribeChanged(subscribed bool) {
	e.mu.Lock()
	e.conn.Subscribed = subscribed
	e.mu.Unlock()
	e.subscribed.Store(subscribed)

	if subscribed {
		e.pacer.Activate()
	} else {
		e.pacer.Idle()
	}

	if e.obs.OnSubscribeChanged != nil {
		e.obs.OnSubscribeChanged(subscribed)
	}
	e.wakePump()
}

// OnMTUNegotiated is invoked once the host stack reports the ATT MTU the
// peer accepted. The chunk size is re-derived whenever MTU, LL octets, or
// PHY change.
func (e *Engine) OnMTUNegotiated(mtu uint16) {
	e.mu.Lock()
	e.mtuRetries = 0
	e.mu.Unlock()
	e.recomputeLink(func(l *linkprofile.LinkState) { l.MTU = mtu })
	if e.obs.OnMTUChanged != nil {
		e.obs.OnMTUChanged(mtu)
	}
}

// OnDataLengthChanged is invoked when the controller renegotiates the
// link-layer data length extension (octets/time), requiring the same
// recompute as an MTU change.
func (e *Engine) OnDataLengthChanged(llOctets uint16, llTimeUS uint32) {
	e.recomputeLink(func(l *linkprofile.LinkState) {
		l.LLOctets = llOctets
		l.LLTimeUS = llTimeUS
	})
}

// OnPHYChanged is invoked once the host stack confirms a PHY/coding-scheme
// switch the link adapter requested. Until this event arrives the engine
// assumes nothing about an earlier advisory request.
func (e *Engine) OnPHYChanged(phy linkprofile.PHY, scheme linkprofile.CodedScheme) {
	e.recomputeLink(func(l *linkprofile.LinkState) {
		l.PHY = phy
		l.CodedScheme = scheme
	})
}

func (e *Engine) recomputeLink(mutate func(*linkprofile.LinkState)) {
	e.mu.Lock()
	l := e.link
	mutate(&l)
	newLink, minIntervalUS, err := linkprofile.Recompute(
		l.MTU, l.LLOctets, l.LLTimeUS, l.PHY, l.CodedScheme, l.Encrypted, e.profile.ModeSlackUS)
	if err != nil {
		// Malformed parameters from the host stack are ignored rather
		// than corrupting LinkState; the rejection is recorded for
		// diagnostics only.
		e.badDataRetries.Add(1)
		e.mu.Unlock()
		return
	}
	shrinking := newLink.TXChunkSize < e.link.TXChunkSize
	e.link = newLink
	e.chunkSize = newLink.TXChunkSize
	e.minIntervalUS = minIntervalUS
	e.recomputeWaterMarks()
	e.mu.Unlock()

	log.Debugf("link recompute: mtu=%d ll_octets=%d phy=%v chunk=%d min_interval=%dus",
		newLink.MTU, newLink.LLOctets, newLink.PHY, newLink.TXChunkSize, minIntervalUS)

	reason := pacer.ReasonRecompute
	if shrinking {
		reason = pacer.ReasonChunkShrink
	}
	info := e.pacer.OnLinkRecompute(time.Duration(minIntervalUS)*time.Microsecond, reason)
	e.emitPacing(info)
}

// SampleRSSI feeds one RSSI reading into the link adapter and, if it
// recommends a GAP action, forwards the request to the host stack.
// Callers typically invoke it from a periodic RSSI-read callback the host
// stack delivers.
func (e *Engine) SampleRSSI(rssiDBm float64) {
	e.mu.Lock()
	e.rssi = rssiDBm
	currentPHY := e.link.PHY
	e.mu.Unlock()

	if e.adapter == nil {
		return
	}
	action := e.adapter.Sample(rssiDBm, currentPHY, time.Now())
	if action == linkadapter.ActionNone {
		return
	}
	log.Noticef("link adapter advises %v (smoothed rssi %.1f dBm)", action, e.adapter.RSSI())
	e.requestLinkAction(action)
}

// requestLinkAction forwards a link-adapter recommendation to the host
// stack's GAP layer. The request is advisory only: LinkState and the
// pacer's minimum interval are not touched until OnPHYChanged confirms
// the change actually took effect.
func (e *Engine) requestLinkAction(action linkadapter.Action) {
	switch action {
	case linkadapter.ActionRequestCodedS8:
		e.host.RequestPHY(linkprofile.PHYCoded, linkprofile.CodedS8)
	case linkadapter.ActionRequestCodedS2Or1M:
		e.host.RequestPHY(linkprofile.PHYCoded, linkprofile.CodedS2)
	case linkadapter.ActionRequest2MOr1M:
		e.host.RequestPHY(linkprofile.PHY2M, linkprofile.CodedNone)
	case linkadapter.ActionRequestTXPowerIncrease:
		// TX power is a controller-specific knob the host stack adapter
		// owns; the engine has no generic request surface for it.
	}
}

// CompleteNotify is called by the host stack (typically from its own
// event thread) once a previously-dispatched notification resolves.
// It never blocks: the outcome is handed to the pump via a buffered
// channel which the next Update() tick drains.
func (e *Engine) CompleteNotify(outcome pacer.Outcome) {
	select {
	case e.completionCh <- outcome:
	default:
		// A completion is already queued; this should not happen given
		// the engine only ever has one notification in flight, but drop
		// rather than block the host stack's event context.
	}
	e.wakePump()
}

// Deliver is the inbound write sink: it appends the payload to the rx
// ring, tracks drops without ever losing the accounting, and invokes
// OnDataReceived synchronously from the callback context.
func (e *Engine) Deliver(payload []byte) {
	e.mu.Lock()
	written := e.rxRing.Push(payload, false)
	e.mu.Unlock()

	e.bytesRx.Add(uint64(written))
	if written < len(payload) {
		e.rxDrops.Add(uint64(len(payload) - written))
	}

	if e.obs.OnDataReceived != nil {
		e.obs.OnDataReceived(payload)
	}
}

// Read copies up to len(dst) bytes out of the rx ring for the consumer.
func (e *Engine) Read(dst []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rxRing.Pop(dst)
}
