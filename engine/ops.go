package engine

import (
	"time"

	"github.com/nusuart/serial"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

// Write enqueues data into the tx ring. It never
// blocks: it returns 0 when tx_locked is set, and otherwise the number of
// bytes actually accepted, which is len(data) when it fits in the ring's
// free space and 0 when it does not (the ring never accepts part of a
// write). The ring is single-producer: callers with more than
// one writer must serialize their Write calls themselves, or interleaved
// multi-byte pushes lose their atomicity.
func (e *Engine) Write(data []byte) int {
	if e.txLocked.Load() {
		return 0
	}
	e.mu.Lock()
	written := e.txRing.Push(data, false)
	e.mu.Unlock()
	e.applyBackpressure()
	e.wakePump()
	return written
}

// WriteByte enqueues a single byte, the write(byte) form of the producer
// API. It returns 1 when the byte was accepted and 0 under backpressure.
func (e *Engine) WriteByte(b byte) int {
	return e.Write([]byte{b})
}

// WriteTimeout polls Write until all of data is accepted or deadline
// passes, yielding the pump at least once per iteration in cooperative
// (Polling) mode, and returns the count actually written.
func (e *Engine) WriteTimeout(data []byte, deadline time.Time) int {
	total := 0
	for total < len(data) {
		n := e.Write(data[total:])
		total += n
		if total >= len(data) {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
		if e.pumpMode == serial.PumpPolling {
			e.Update()
		}
		time.Sleep(time.Millisecond)
	}
	return total
}

// Flush pumps until the tx ring is empty or the link goes down.
func (e *Engine) Flush() {
	for {
		if !e.connected.Load() || !e.subscribed.Load() {
			return
		}
		e.mu.Lock()
		empty := e.txRing.Len() == 0 && e.pendingLen == 0
		e.mu.Unlock()
		if empty {
			return
		}
		e.Update()
		time.Sleep(time.Millisecond)
	}
}

// Update runs exactly one pump tick. It
// is idempotent: calling it twice with no elapsed time and no new events
// produces no observable state change beyond possibly re-emitting the
// last coalesced pacing callback.
func (e *Engine) Update() {
	now := time.Now()

	if !e.readyNow(now) {
		return
	}

	e.mu.Lock()
	pendingLen := e.pendingLen
	dispatched := e.pendingDispatched
	e.mu.Unlock()

	if pendingLen > 0 && dispatched {
		// A prior notification is outstanding; resolve it before
		// considering anything new.
		e.checkPendingCompletion(now)
		return
	}

	if pendingLen > 0 && !dispatched {
		// A previous dispatch attempt hit queue-full; retry with the
		// same staged bytes rather than popping the ring again.
		e.dispatchPending(now)
		return
	}

	// Stage a fresh chunk from the ring.
	e.stageAndDispatch(now)
}

func (e *Engine) readyNow(now time.Time) bool {
	if !e.connected.Load() || !e.subscribed.Load() {
		return false
	}
	return e.pacer.ReadyNow(now, e.lastTxAtSnapshot())
}

func (e *Engine) lastTxAtSnapshot() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTxAt
}

// checkPendingCompletion resolves a prior unconfirmed notification before
// another chunk may be staged. Returns true if it consumed this tick.
func (e *Engine) checkPendingCompletion(now time.Time) bool {
	e.mu.Lock()
	pendingLen := e.pendingLen
	sentAt := e.pendingSentAt
	interval := e.pacer.Interval()
	e.mu.Unlock()

	if pendingLen == 0 {
		return false
	}

	select {
	case outcome := <-e.completionCh:
		e.resolvePending(outcome, pendingLen)
		return true
	default:
	}

	if now.Sub(sentAt) > notifyTimeout(interval) {
		e.resolvePending(pacer.Timeout, pendingLen)
		return true
	}
	return false
}

// stageAndDispatch copies up to chunkSize bytes from the tx ring into the
// pending buffer under the ring critical section, then dispatches outside
// it.
func (e *Engine) stageAndDispatch(now time.Time) {
	e.mu.Lock()
	chunkSize := e.chunkSize
	if int(chunkSize) > len(e.pendingBuf) {
		e.pendingBuf = make([]byte, chunkSize)
	}
	n := e.txRing.Pop(e.pendingBuf[:chunkSize])
	e.pendingLen = n
	e.pendingDispatched = false
	e.mu.Unlock()

	e.applyBackpressure()

	if n == 0 {
		// Ring was empty, nothing to dispatch this tick.
		return
	}

	e.dispatchPending(now)
}

// dispatchPending hands the currently-staged bytes to the host stack.
func (e *Engine) dispatchPending(now time.Time) {
	e.mu.Lock()
	chunk := append([]byte(nil), e.pendingBuf[:e.pendingLen]...)
	e.pendingSentAt = now
	e.lastTxAt = now
	e.mu.Unlock()

	switch e.host.Notify(chunk) {
	case Dispatched:
		e.mu.Lock()
		e.pendingDispatched = true
		e.queueFullStreak = 0
		e.mu.Unlock()
	case QueueFull:
		// Soft failure: bytes stay staged (pendingDispatched left
		// false so the next tick retries the same bytes), pacer sees
		// a Timeout so the interval backs off. A streak of rejections
		// additionally drops the staging size to the floor until a
		// send lands; both reasons fire in this tick, so the stronger
		// one carries the coalesced snapshot.
		info := e.pacer.OnOutcome(pacer.Timeout, now)
		e.mu.Lock()
		e.queueFullStreak++
		fallback := e.queueFullStreak >= queueFullFallbackAfter && e.chunkSize > linkprofile.MinChunkBytes
		if fallback {
			e.chunkSize = linkprofile.MinChunkBytes
			e.queueFullStreak = 0
			e.recomputeWaterMarks()
		}
		e.mu.Unlock()
		if fallback {
			info.Reason = pacer.Strongest(info.Reason, pacer.ReasonMsgSizeFallback)
		}
		e.emitPacing(info)
	case DispatchHardFailure:
		e.resolvePending(pacer.HardFailure, len(chunk))
	}
}

// resolvePending finalizes the staged chunk against outcome and clears
// pending state.
func (e *Engine) resolvePending(outcome pacer.Outcome, length int) {
	e.mu.Lock()
	e.pendingLen = 0
	e.pendingDispatched = false
	e.mu.Unlock()

	switch outcome {
	case pacer.Success:
		e.bytesTx.Add(uint64(length))
		// A confirmed send lifts any message-size fallback: staging
		// returns to the link's negotiated chunk size.
		e.mu.Lock()
		if e.chunkSize != e.link.TXChunkSize {
			e.chunkSize = e.link.TXChunkSize
			e.recomputeWaterMarks()
		}
		e.queueFullStreak = 0
		e.mu.Unlock()
	case pacer.Timeout, pacer.HardFailure:
		e.txDrops.Add(uint64(length))
	}
	e.emitPacing(e.pacer.OnOutcome(outcome, time.Now()))
	e.applyBackpressure()
	e.wakePump()
}

// applyBackpressure drives the high/low water producer gate.
func (e *Engine) applyBackpressure() {
	e.mu.Lock()
	buffered := uint32(e.txRing.Len())
	high := e.highWater
	low := e.lowWater
	e.mu.Unlock()

	if buffered >= high {
		e.txLocked.Store(true)
		e.txAvailable.Store(false)
	} else if buffered <= low {
		e.txLocked.Store(false)
		e.txAvailable.Store(true)
	}
}

// RequestMTU asks the host stack to negotiate a larger MTU. Out-of-range
// requests are rejected immediately with no effect; badDataRetries is
// incremented purely for diagnostics and never consulted by the state
// machine.
func (e *Engine) RequestMTU(n uint16) (submitted bool) {
	const maxMTURetries = 3
	if n < 23 || n > 517 {
		e.badDataRetries.Add(1)
		return false
	}
	e.mu.Lock()
	retries := e.mtuRetries
	e.mu.Unlock()
	if retries >= maxMTURetries {
		return false
	}
	if err := e.host.RequestMTU(n); err != nil {
		e.mu.Lock()
		e.mtuRetries++
		e.mu.Unlock()
		return false
	}
	return true
}

// emitPacing fires the coalesced OnPacingChanged callback: at most one
// per pump tick, carrying the strongest reason. A ReasonNone snapshot is
// swallowed since nothing changed. The pacer itself tracks only timing
// state, so the link-derived fields (MTU, LL octets, LL time, chunk size)
// are merged in here from the current LinkState before the observer sees
// it.
func (e *Engine) emitPacing(info pacer.PacingInfo) {
	if info.Reason == pacer.ReasonNone {
		return
	}
	e.mu.Lock()
	info.TXChunkSize = e.link.TXChunkSize
	info.MTU = e.link.MTU
	info.LLOctets = e.link.LLOctets
	info.LLTimeUS = e.link.LLTimeUS
	e.mu.Unlock()
	if e.obs.OnPacingChanged != nil {
		e.obs.OnPacingChanged(info)
	}
}

func (e *Engine) wakePump() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
