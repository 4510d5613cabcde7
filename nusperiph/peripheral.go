// Package nusperiph adapts a concrete BLE peripheral (github.com/currantlabs/ble)
// to the engine.HostStack capability interface, implementing the Nordic
// UART Service. It is the only package in this module that imports a real
// GATT stack; engine stays host-stack-agnostic, so this adapter is a
// thin translation layer holding a non-owning reference to the engine and
// forwarding events to it.
package nusperiph

import (
	"sync"

	"github.com/currantlabs/ble"
	"github.com/op/go-logging"

	"github.com/nusuart/serial/engine"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

var log = logging.MustGetLogger("nusuart.nusperiph")

// Nordic UART Service UUIDs.
var (
	ServiceUUID = ble.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	rxCharUUID  = ble.MustParse("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")
	txCharUUID  = ble.MustParse("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
)

// Peripheral wires a ble.Service exposing the NUS characteristics to an
// engine.Engine: writes on the RX characteristic are forwarded to
// RxPath.Deliver, and the engine's Notify calls are relayed onto the TX
// characteristic's subscribed notifier.
type Peripheral struct {
	mu      sync.Mutex
	engine  *engine.Engine
	service *ble.Service

	notifier   ble.Notifier
	outbox     chan []byte
	subscribed bool
}

// New builds the GATT service but does not start advertising; call
// Attach with the Engine it should feed, then hand Service() and the
// AdvertisingPackets output to the host stack's AddService/Advertise
// calls.
func New() *Peripheral {
	p := &Peripheral{
		outbox: make(chan []byte, 1),
	}

	service := ble.NewService(ServiceUUID)

	rxChar := ble.NewCharacteristic(rxCharUUID)
	rxChar.HandleWrite(ble.WriteHandlerFunc(p.written))
	service.AddCharacteristic(rxChar)

	txChar := ble.NewCharacteristic(txCharUUID)
	txChar.HandleNotify(ble.NotifyHandlerFunc(p.notify))
	service.AddCharacteristic(txChar)

	p.service = service
	return p
}

// Service returns the built GATT service for the host stack to advertise.
func (p *Peripheral) Service() *ble.Service { return p.service }

// Attach wires the Peripheral to the Engine it serves. Call exactly once,
// immediately after engine.Begin returns (the same two-phase construction
// the loopback test double uses, since Begin needs a HostStack before the
// Engine it references exists).
func (p *Peripheral) Attach(e *engine.Engine) {
	p.mu.Lock()
	p.engine = e
	p.mu.Unlock()
}

// written implements the RX characteristic's write handler: every inbound
// write is forwarded synchronously to the engine's Deliver sink.
func (p *Peripheral) written(req ble.Request, rsp ble.ResponseWriter) {
	p.mu.Lock()
	e := p.engine
	p.mu.Unlock()
	if e == nil {
		return
	}
	e.Deliver(req.Data())
}

// notify implements the TX characteristic's notify handler. ble invokes
// this in its own goroutine for the lifetime of the subscription; it
// drains the outbox (fed by Notify, the HostStack method the engine
// calls) and relays each chunk onto the wire, reporting completion back
// to the engine.
func (p *Peripheral) notify(req ble.Request, n ble.Notifier) {
	p.mu.Lock()
	p.notifier = n
	p.subscribed = true
	e := p.engine
	p.mu.Unlock()

	if e != nil {
		e.OnConnect(connHandle(req), req.Conn().RemoteAddr().String())
		e.OnSubscribeChanged(true)
	}

	defer func() {
		p.mu.Lock()
		p.subscribed = false
		p.notifier = nil
		p.mu.Unlock()
		if e != nil {
			e.OnSubscribeChanged(false)
			e.OnDisconnect(engine.DisconnectPeerRequest)
		}
	}()

	for {
		select {
		case <-n.Context().Done():
			return
		case chunk := <-p.outbox:
			_, err := n.Write(chunk)
			if e == nil {
				continue
			}
			if err != nil {
				e.CompleteNotify(pacer.HardFailure)
				continue
			}
			e.CompleteNotify(pacer.Success)
		}
	}
}

// Notify implements engine.HostStack: it hands the chunk to the notify
// goroutine's outbox, returning QueueFull if a previous chunk hasn't been
// drained yet.
func (p *Peripheral) Notify(chunk []byte) engine.DispatchOutcome {
	p.mu.Lock()
	subscribed := p.subscribed
	p.mu.Unlock()
	if !subscribed {
		return engine.DispatchHardFailure
	}
	select {
	case p.outbox <- chunk:
		return engine.Dispatched
	default:
		return engine.QueueFull
	}
}

// RequestMTU implements engine.HostStack. The ble package negotiates MTU
// during connection setup rather than exposing a server-initiated
// renegotiation call; this records the request so a caller polling the
// connection's negotiated MTU can confirm it via OnMTUNegotiated.
func (p *Peripheral) RequestMTU(n uint16) error {
	log.Noticef("mtu %d requested (ble negotiates MTU at connection time)", n)
	return nil
}

// SetConnParams implements engine.HostStack. It logs the requested
// targets and returns nil; no connection parameter update is sent to the
// peer.
func (p *Peripheral) SetConnParams(params linkprofile.ConnParams) error {
	log.Noticef("connection parameter update requested: min=%d max=%d latency=%d timeout=%d",
		params.MinIntervalUnits, params.MaxIntervalUnits, params.SlaveLatencyEvents, params.SupervisionTimeoutUnits)
	return nil
}

// RequestPHY implements engine.HostStack.
func (p *Peripheral) RequestPHY(phy linkprofile.PHY, scheme linkprofile.CodedScheme) error {
	log.Noticef("phy change requested: %v scheme=%v", phy, scheme)
	return nil
}

func connHandle(req ble.Request) uint16 {
	// ble's Request does not expose a numeric connection handle directly;
	// the remote address is the stable identity nusperiph actually needs
	// (it is what Engine.MAC() reports).
	return 0
}
