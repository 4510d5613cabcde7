package engine

import "github.com/nusuart/serial/linkprofile"

// Connected reports whether a central is currently connected.
func (e *Engine) Connected() bool { return e.connected.Load() }

// Subscribed reports whether the peer has subscribed to the TX
// characteristic's notifications.
func (e *Engine) Subscribed() bool { return e.subscribed.Load() }

// MTU returns the currently negotiated ATT MTU.
func (e *Engine) MTU() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.link.MTU
}

// Mode returns the operating-mode profile this Engine was configured
// with.
func (e *Engine) Mode() linkprofile.Mode { return e.profile.Mode }

// BytesTx returns the total bytes successfully transmitted.
func (e *Engine) BytesTx() uint64 { return e.bytesTx.Load() }

// BytesRx returns the total bytes accepted into the rx ring.
func (e *Engine) BytesRx() uint64 { return e.bytesRx.Load() }

// RxDrops returns the number of inbound bytes dropped for lack of rx
// ring space.
func (e *Engine) RxDrops() uint64 { return e.rxDrops.Load() }

// TxDrops returns the number of staged-but-unconfirmed bytes abandoned
// to a timeout, hard failure, or disconnect.
func (e *Engine) TxDrops() uint64 { return e.txDrops.Load() }

// BadDataRetries returns the diagnostic-only counter of rejected
// malformed parameter requests. Nothing in the state machine consults it.
func (e *Engine) BadDataRetries() uint64 { return e.badDataRetries.Load() }

// IntervalUS returns the pacer's current scheduled inter-chunk gap, in
// microseconds.
func (e *Engine) IntervalUS() uint32 { return uint32(e.pacer.Interval().Microseconds()) }

// RSSI returns the LinkAdapter's most recent smoothed RSSI reading, in
// dBm.
func (e *Engine) RSSI() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rssi
}

// MAC returns the connected peer's address, or the empty string when not
// connected.
func (e *Engine) MAC() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.PeerMAC
}

// TxBuffered returns the number of bytes currently queued in the tx ring
// (not counting the staged-but-undispatched pending chunk).
func (e *Engine) TxBuffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txRing.Len()
}

// RxBuffered returns the number of bytes currently queued in the rx ring
// awaiting consumption.
func (e *Engine) RxBuffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rxRing.Len()
}

// TxAvailable reports whether the producer-side backpressure gate is
// currently open.
func (e *Engine) TxAvailable() bool { return e.txAvailable.Load() }

// TxLocked reports whether Write is currently rejecting bytes at high
// water.
func (e *Engine) TxLocked() bool { return e.txLocked.Load() }
