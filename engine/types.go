// Package engine implements the adaptive transmit engine: the
// orchestrator that owns the tx/rx rings, drives the pacer and link
// adapter, and exposes the public write/flush/update surface plus the six
// observer callbacks. The concrete BLE host stack is a capability the
// engine consumes through the HostStack interface; nusperiph supplies the
// real implementation against an actual GATT stack.
package engine

import (
	"time"

	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/pacer"
)

// DispatchOutcome is the synchronous result of handing a chunk to the host
// stack's notify primitive. It is distinct from the
// asynchronous completion outcome the host stack reports later via
// CompleteNotify: dispatch can fail immediately (queue full) long before
// the controller would ever time out waiting for confirmation.
type DispatchOutcome int

const (
	// Dispatched means the host stack accepted the chunk for transmission;
	// completion arrives later via CompleteNotify.
	Dispatched DispatchOutcome = iota
	// QueueFull is a soft failure: the caller keeps the bytes staged and
	// the pacer treats it as a Timeout.
	QueueFull
	// DispatchHardFailure means the stack rejected the chunk outright
	// (e.g. mid-disconnect); staged bytes are dropped immediately.
	DispatchHardFailure
)

// HostStack is the capability interface the engine consumes to reach the
// concrete BLE/GATT layer. Every method must return promptly; the engine
// never holds the ring lock while calling into it.
type HostStack interface {
	// Notify hands chunk to the controller's notify queue for the TX
	// characteristic. It must not block waiting for peer confirmation.
	Notify(chunk []byte) DispatchOutcome
	// RequestMTU asks the host stack to negotiate a larger ATT MTU.
	RequestMTU(n uint16) error
	// SetConnParams asks the host stack to request new GAP connection
	// parameters from the peer.
	SetConnParams(p linkprofile.ConnParams) error
	// RequestPHY asks the host stack to switch PHY/coding scheme.
	RequestPHY(phy linkprofile.PHY, scheme linkprofile.CodedScheme) error
}

// ConnectionState tracks the current central. The pacing engine is live
// only when Connected && Subscribed.
type ConnectionState struct {
	Connected  bool
	Subscribed bool
	ConnHandle uint16
	PeerMAC    string
}

// Observer bundles the engine's six callback registrations. Any
// field left nil is simply not invoked. Callbacks run on whatever context
// the host stack delivers events from; re-entering Write or Flush from
// inside a callback is allowed but may immediately set tx_locked.
type Observer struct {
	OnConnect          func(mac string)
	OnDisconnect       func(reason DisconnectReason)
	OnMTUChanged       func(mtu uint16)
	OnSubscribeChanged func(subscribed bool)
	OnDataReceived     func(data []byte)
	OnPacingChanged    func(info pacer.PacingInfo)
}

// DisconnectReason classifies why a central disconnected.
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	DisconnectPeerRequest
	DisconnectSupervisionTimeout
	DisconnectLocalRequest
	DisconnectLinkLayerFailure
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectPeerRequest:
		return "peer_request"
	case DisconnectSupervisionTimeout:
		return "supervision_timeout"
	case DisconnectLocalRequest:
		return "local_request"
	case DisconnectLinkLayerFailure:
		return "link_layer_failure"
	default:
		return "unknown"
	}
}

// notifyTimeout returns how long a dispatched chunk may stay unconfirmed
// before the pump treats it as a Timeout.
func notifyTimeout(currentInterval time.Duration) time.Duration {
	d := 4 * currentInterval
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}
