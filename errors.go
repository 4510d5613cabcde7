package serial

import "fmt"

// Sentinel errors for the transport's failure classes. The public API
// never surfaces raw host-stack error codes except through the disconnect
// reason parameter passed to the disconnect callback.
var (
	ErrNotConnected        = fmt.Errorf("serial: no central is connected")
	ErrNotSubscribed       = fmt.Errorf("serial: central has not subscribed to the TX characteristic")
	ErrBufferOverflow      = fmt.Errorf("serial: tx ring is at high water, producer is locked out")
	ErrMalformedMTURequest = fmt.Errorf("serial: requested mtu outside [23,517]")
	ErrConfigMismatch      = fmt.Errorf("serial: invalid configuration")
	ErrAlreadyBegun        = fmt.Errorf("serial: Begin called on an already-active engine")
)
