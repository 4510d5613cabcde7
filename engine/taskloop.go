package engine

import "time"

// taskLoop runs the pump as a dedicated background task: it blocks on the
// pacer's current sleep target and wakes early on a ring-push, a
// notification-completion event, or End(). Update itself never suspends;
// only this wrapper loop blocks. It is already launched in its own
// goroutine by Begin, so it runs its body inline rather than fanning out
// a second one.
func (e *Engine) taskLoop() {
	for {
		select {
		case <-e.stopped:
			return
		default:
		}

		e.Update()

		e.mu.Lock()
		idle := e.txRing.Len() == 0 && e.pendingLen == 0
		e.mu.Unlock()
		if idle {
			// Nothing queued and nothing in flight: block until a
			// ring-push, completion event, or disconnect wakes us.
			select {
			case <-e.stopped:
				return
			case <-e.wake:
			}
			continue
		}

		wait := e.pacer.SleepTarget(time.Now(), e.lastTxAtSnapshot())
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-e.stopped:
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
