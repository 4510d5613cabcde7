package engine

import (
	"testing"
	"time"

	"github.com/nusuart/serial"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

func beginLoopback(t *testing.T, id string, cfg serial.Config) (*Engine, *Loopback) {
	t.Helper()
	lb := NewLoopback()
	e, err := Begin(id, cfg, lb, Observer{})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	lb.Attach(e)
	t.Cleanup(e.End)
	return e, lb
}

func connectAndSubscribe(e *Engine) {
	e.OnConnect(1, "AA:BB:CC:DD:EE:FF")
	e.OnSubscribeChanged(true)
}

func TestWriteBuffersWhileDisconnected(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, _ := beginLoopback(t, "t-not-connected", cfg)

	n := e.Write([]byte("hello"))
	if n != len(([]byte("hello"))) {
		t.Fatalf("Write before connect should still accept into the ring: got %d", n)
	}
	e.Update()
	if e.BytesTx() != 0 {
		t.Fatal("pump must not send while disconnected")
	}
}

func TestRoundTripEchoedThroughLoopback(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, lb := beginLoopback(t, "t-roundtrip", cfg)
	lb.Echo = true
	connectAndSubscribe(e)

	payload := []byte("the quick brown fox")
	if n := e.Write(payload); n != len(payload) {
		t.Fatalf("Write = %d, want %d", n, len(payload))
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.RxBuffered() < len(payload) && time.Now().Before(deadline) {
		e.Update()
		time.Sleep(time.Millisecond)
	}

	dst := make([]byte, len(payload))
	n := e.Read(dst)
	if n != len(payload) {
		t.Fatalf("Read = %d, want %d", n, len(payload))
	}
	if string(dst[:n]) != string(payload) {
		t.Fatalf("round-tripped bytes = %q, want %q", dst[:n], payload)
	}
}

func TestMTUUpgradeGrowsChunkSize(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, _ := beginLoopback(t, "t-mtu", cfg)
	connectAndSubscribe(e)

	initialChunk := e.link.TXChunkSize

	// A real MTU negotiation to 247 is accompanied by a DLE renegotiation
	// large enough to carry it.
	e.OnMTUNegotiated(247)
	e.OnDataLengthChanged(251, 2120)

	if e.MTU() != 247 {
		t.Fatalf("MTU() = %d, want 247", e.MTU())
	}
	if e.link.TXChunkSize <= initialChunk {
		t.Fatalf("chunk size should grow with MTU+DLE: before=%d after=%d", initialChunk, e.link.TXChunkSize)
	}
	if e.minIntervalUS == 0 {
		t.Fatal("min_send_interval_us must be recomputed, not left zero, after an MTU/DLE change")
	}
	if e.pacer.Interval() < e.pacer.Snapshot().MinSendInterval {
		t.Fatal("pacer's current interval must never fall below the recomputed minimum")
	}
}

func TestOverflowBackpressureLocksThenReleasesWrite(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.RingCapacity = 64
	e, lb := beginLoopback(t, "t-overflow", cfg)
	lb.Echo = false
	// Do not connect: this scenario is purely about the producer-side
	// ring, independent of link state.

	// Write 2x capacity in a tight loop without pumping, in small chunks
	// so each one either fully fits or is fully rejected (ring.Push is
	// all-or-nothing per chunk).
	chunk := make([]byte, 8)
	accepted := 0
	for i := 0; i < 16; i++ {
		accepted += e.Write(chunk)
	}
	if accepted >= 16*len(chunk) {
		t.Fatalf("expected the ring to reject writes past high water, accepted all %d bytes", accepted)
	}
	if !e.TxLocked() {
		t.Fatal("expected tx_locked once high water is crossed")
	}
	if n := e.Write([]byte("more")); n != 0 {
		t.Fatalf("Write while locked should return 0, got %d", n)
	}

	// Drain manually below low water and confirm the lock releases.
	drained := make([]byte, 60)
	e.mu.Lock()
	e.txRing.Pop(drained)
	e.mu.Unlock()
	e.applyBackpressure()

	if e.TxLocked() {
		t.Fatal("expected tx_locked to clear once buffered bytes fall to low water")
	}
	if n := e.Write([]byte("ok")); n == 0 {
		t.Fatal("Write should succeed again once unlocked")
	}
}

func TestDisconnectMidStreamDropsPendingAndResetsPacer(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, lb := beginLoopback(t, "t-disconnect", cfg)
	lb.Latency = time.Hour // never completes on its own
	connectAndSubscribe(e)

	// Negotiate the link up first, so the reset below demonstrably
	// discards the old connection's state rather than a no-op baseline.
	e.OnMTUNegotiated(247)
	e.OnDataLengthChanged(251, 2120)

	e.Write([]byte("0123456789"))
	e.Update() // stages and dispatches; completion never arrives

	e.mu.Lock()
	pending := e.pendingLen
	e.mu.Unlock()
	if pending == 0 {
		t.Fatal("expected a chunk to be staged and in flight before disconnect")
	}

	before := e.TxDrops()
	e.OnDisconnect(DisconnectSupervisionTimeout)

	if e.TxDrops() <= before {
		t.Fatalf("expected tx_drops to account for the abandoned chunk: before=%d after=%d", before, e.TxDrops())
	}
	if e.Connected() {
		t.Fatal("Connected() should be false after OnDisconnect")
	}
	if e.pacer.Interval() != e.pacer.LKGInterval() {
		t.Fatal("pacer should reset current==lkg on disconnect")
	}
	if e.pacer.Interval() != 200*time.Microsecond {
		t.Fatalf("pacer interval after disconnect = %v, want the conservative 200µs default", e.pacer.Interval())
	}
	if e.MTU() != linkprofile.MinMTU {
		t.Fatalf("MTU after disconnect = %d, want the %d baseline for the next negotiation", e.MTU(), linkprofile.MinMTU)
	}
	e.mu.Lock()
	chunk := e.chunkSize
	e.mu.Unlock()
	if chunk != linkprofile.MinChunkBytes {
		t.Fatalf("chunk size after disconnect = %d, want the %d baseline", chunk, linkprofile.MinChunkBytes)
	}
}

func TestRepeatedQueueFullFallsBackToMinimumChunk(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, lb := beginLoopback(t, "t-queuefull", cfg)
	connectAndSubscribe(e)
	e.OnMTUNegotiated(247)
	e.OnDataLengthChanged(251, 2120)

	lb.NextDispatch = []DispatchOutcome{QueueFull, QueueFull, QueueFull}
	e.Write(make([]byte, 512))

	chunkNow := func() uint16 {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.chunkSize
	}

	deadline := time.Now().Add(2 * time.Second)
	for chunkNow() != linkprofile.MinChunkBytes && time.Now().Before(deadline) {
		e.Update()
		time.Sleep(time.Millisecond)
	}
	if chunkNow() != linkprofile.MinChunkBytes {
		t.Fatalf("chunk size = %d, want fallback to %d after %d queue-full rejections",
			chunkNow(), linkprofile.MinChunkBytes, queueFullFallbackAfter)
	}

	// The scripted rejections are exhausted: the staged bytes dispatch,
	// complete, and the negotiated chunk size is restored.
	for chunkNow() == linkprofile.MinChunkBytes && time.Now().Before(deadline) {
		e.Update()
		time.Sleep(time.Millisecond)
	}
	if chunkNow() == linkprofile.MinChunkBytes {
		t.Fatal("chunk size should restore to the negotiated value once a send lands")
	}
}

func TestTimeoutBacksOffInterval(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, lb := beginLoopback(t, "t-timeout", cfg)
	connectAndSubscribe(e)
	lb.NextOutcomes = []pacer.Outcome{pacer.Timeout}

	before := e.pacer.Interval()
	e.Write([]byte("payload"))
	e.Update()

	deadline := time.Now().Add(time.Second)
	for e.pacer.Interval() == before && time.Now().Before(deadline) {
		e.Update()
		time.Sleep(time.Millisecond)
	}
	if e.pacer.Interval() <= before {
		t.Fatalf("interval should strictly increase after a timeout: before=%v after=%v", before, e.pacer.Interval())
	}
}

func TestRequestMTURejectsOutOfRange(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, _ := beginLoopback(t, "t-mtu-reject", cfg)
	if e.RequestMTU(10) {
		t.Fatal("expected RequestMTU(10) to be rejected, below MinMTU")
	}
	if e.RequestMTU(1000) {
		t.Fatal("expected RequestMTU(1000) to be rejected, above MaxMTU")
	}
	if e.BadDataRetries() < 2 {
		t.Fatalf("expected bad_data_retries to record both rejections, got %d", e.BadDataRetries())
	}
}

func TestSampleRSSIRequestsCodedS8OnWeakSignal(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.Mode = linkprofile.LongRange
	e, lb := beginLoopback(t, "t-rssi", cfg)
	connectAndSubscribe(e)

	e.SampleRSSI(-85)
	time.Sleep(time.Millisecond)
	e.SampleRSSI(-85)

	if len(lb.PHYRequests()) == 0 {
		t.Fatal("expected a PHY request after two weak-signal samples")
	}
}

func TestConnectRequestsModeConnectionParameters(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.Mode = linkprofile.Fast
	e, lb := beginLoopback(t, "t-connparams", cfg)

	connectAndSubscribe(e)

	reqs := lb.ConnParamRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one connection-parameter request on connect, got %d", len(reqs))
	}
	want, err := linkprofile.NewRegistry().Resolve(linkprofile.Fast)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if reqs[0] != want.ConnParams {
		t.Fatalf("requested params = %+v, want the Fast profile target %+v", reqs[0], want.ConnParams)
	}
}

func TestDeliverAccountsBytesRxAndDrops(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.RingCapacity = 32
	e, _ := beginLoopback(t, "t-rx-accounting", cfg)

	var seen []byte
	e.obs.OnDataReceived = func(data []byte) { seen = append(seen, data...) }

	e.Deliver(make([]byte, 32))
	if e.BytesRx() != 32 {
		t.Fatalf("BytesRx = %d, want 32", e.BytesRx())
	}

	// Ring is now full: the next delivery drops entirely but the callback
	// still sees the bytes: incoming data is never discarded without
	// accounting.
	e.Deliver([]byte("overflow"))
	if e.RxDrops() != uint64(len("overflow")) {
		t.Fatalf("RxDrops = %d, want %d", e.RxDrops(), len("overflow"))
	}
	if len(seen) != 32+len("overflow") {
		t.Fatalf("on_data_received saw %d bytes, want %d", len(seen), 32+len("overflow"))
	}
}

func TestIdempotentUpdateWithNoEvents(t *testing.T) {
	cfg := serial.DefaultConfig()
	e, _ := beginLoopback(t, "t-idempotent", cfg)
	before := e.pacer.Snapshot()
	e.Update()
	e.Update()
	after := e.pacer.Snapshot()
	if before != after {
		t.Fatal("Update() with no connection and no new events must not change pacer state")
	}
}
