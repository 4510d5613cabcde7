package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"
	"go.uber.org/atomic"

	"github.com/nusuart/serial"
	"github.com/nusuart/serial/internal/ring"
	"github.com/nusuart/serial/linkadapter"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

var log = logging.MustGetLogger("nusuart.engine")

const conservativeMinIntervalUS = 200

// queueFullFallbackAfter is how many consecutive queue-full rejections of
// the same staged chunk drop the staging size to the minimum, in case the
// controller is choking on the chunk itself rather than the send rate.
const queueFullFallbackAfter = 3

// Engine is the transmit orchestrator: it owns the tx/rx rings, the
// pending staging buffer, the pacer and LinkState, and drives the pump on
// either schedule. One Engine instance corresponds to one GATT
// connection/peripheral role.
type Engine struct {
	id   string
	host HostStack
	obs  Observer

	profiles *linkprofile.Registry
	profile  linkprofile.Profile

	mu            sync.Mutex
	link          linkprofile.LinkState
	minIntervalUS uint32

	pacer   *pacer.Pacer
	adapter *linkadapter.Adapter
	txRing  *ring.Buffer
	rxRing  *ring.Buffer

	conn ConnectionState

	secure bool

	chunkSize       uint16
	highWater       uint32
	lowWater        uint32
	queueFullStreak int

	pendingBuf        []byte
	pendingLen        int
	pendingDispatched bool
	pendingSentAt     time.Time
	completionCh      chan pacer.Outcome

	mtuRetries int

	lastTxAt time.Time

	// Cross-context flags and counters: mutated from the pump on one side
	// and read from public accessors/the host stack's event context on
	// the other, so these use atomics rather than the engine mutex.
	connected      atomic.Bool
	subscribed     atomic.Bool
	txLocked       atomic.Bool
	txAvailable    atomic.Bool
	bytesTx        atomic.Uint64
	bytesRx        atomic.Uint64
	txDrops        atomic.Uint64
	rxDrops        atomic.Uint64
	badDataRetries atomic.Uint64
	rssi           float64 // guarded by mu

	pumpMode serial.PumpMode

	wake    chan struct{}
	stopped chan struct{}
	running atomic.Bool
}

// Begin constructs and activates an Engine for instance id. cfg is
// validated before anything is allocated, so a rejected configuration
// leaves no partial state behind.
func Begin(id string, cfg serial.Config, host HostStack, obs Observer) (e *Engine, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	if _, found := Lookup(id); found {
		return nil, serial.ErrAlreadyBegun
	}

	profiles := linkprofile.NewRegistry()
	profile, err := profiles.Resolve(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", serial.ErrConfigMismatch, err)
	}

	capacity := cfg.EffectiveRingCapacity()

	e = &Engine{
		id:           id,
		host:         host,
		obs:          obs,
		profiles:     profiles,
		profile:      profile,
		pacer:        pacer.New(conservativeMinIntervalUS * time.Microsecond),
		adapter:      linkadapter.New(cfg.Mode),
		txRing:       ring.New(capacity),
		rxRing:       ring.New(capacity),
		completionCh: make(chan pacer.Outcome, 1),
		wake:         make(chan struct{}, 1),
		stopped:      make(chan struct{}),
		pumpMode:     cfg.PumpMode,
	}
	e.txAvailable.Store(true)
	e.secure = cfg.Secure

	if err = e.resetLinkBaseline(); err != nil {
		return nil, fmt.Errorf("%w: %v", serial.ErrConfigMismatch, err)
	}

	register(id, e)

	if cfg.PumpMode == serial.PumpTask {
		e.running.Store(true)
		go e.taskLoop()
	}

	return e, nil
}

// defaultLLTimeUS estimates the LL PDU airtime for llOctets bytes at 1M
// PHY (8 microseconds per byte plus fixed LL overhead), used only to seed
// a conservative starting LinkState before the host stack reports real
// connection-event timing.
func defaultLLTimeUS(llOctets uint16) uint32 {
	return uint32(llOctets)*8 + 80
}

// resetLinkBaseline seeds the conservative LinkState every connection
// starts from: minimum MTU, no DLE, 1M PHY. Begin uses it once, and
// OnDisconnect returns to it so a newly connecting central never inherits
// the previous connection's negotiated MTU/PHY/chunk sizing.
func (e *Engine) resetLinkBaseline() error {
	link, minIntervalUS, err := linkprofile.Recompute(
		linkprofile.MinMTU, linkprofile.MinLLOctets, defaultLLTimeUS(linkprofile.MinLLOctets),
		linkprofile.PHY1M, linkprofile.CodedNone, e.secure, e.profile.ModeSlackUS)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.link = link
	e.chunkSize = link.TXChunkSize
	e.minIntervalUS = minIntervalUS
	e.queueFullStreak = 0
	e.recomputeWaterMarks()
	e.mu.Unlock()
	return nil
}

func (e *Engine) recomputeWaterMarks() {
	ringCap := uint32(e.txRing.Cap())
	hw := ringCap - 2*uint32(e.chunkSize)
	if hw > ringCap {
		hw = 0
	}
	e.highWater = hw
	e.lowWater = uint32(e.chunkSize)
}

// End tears the engine down: pending notification accounting is aborted
// (pending bytes become tx drops), the background task stops, and both
// rings are cleared. The instance id is released from the registry; the
// Engine must not be used afterward.
func (e *Engine) End() {
	e.mu.Lock()
	if e.pendingLen > 0 {
		e.txDrops.Add(uint64(e.pendingLen))
		e.pendingLen = 0
	}
	e.txRing.Reset()
	e.rxRing.Reset()
	e.mu.Unlock()

	if e.running.Load() {
		e.running.Store(false)
		close(e.stopped)
	}
	unregister(e.id)
}

// ID returns the instance identifier this Engine was registered under.
func (e *Engine) ID() string { return e.id }
