package serial

import (
	"fmt"

	"github.com/nusuart/serial/linkprofile"
)

// PumpMode selects how the engine's pump is scheduled.
type PumpMode int

const (
	// PumpPolling requires the caller to invoke Update() from its own
	// main loop; Update returns immediately if not ready_now.
	PumpPolling PumpMode = iota
	// PumpTask runs the pump on a dedicated background goroutine that
	// blocks on the pacer's sleep target and wakes early on ring-push,
	// notification-completion, or disconnect.
	PumpTask
)

func (m PumpMode) String() string {
	if m == PumpTask {
		return "task"
	}
	return "polling"
}

const (
	defaultRingCapacity = 4096
	defaultDeviceName   = "NUS-UART"
	defaultLogFile      = ""
)

// Config bundles the knobs passed to Begin. Begin validates the struct
// up front and returns ErrConfigMismatch rather than leaving partial
// state behind.
type Config struct {
	Mode        linkprofile.Mode
	DeviceName  string
	Secure      bool
	LogLevel    LogLevel
	PumpMode    PumpMode
	LogFilePath string

	// RingCapacity overrides the default 4096-byte ring size; must be a
	// power of two if set. Zero selects the default.
	RingCapacity uint32
}

// DefaultConfig returns the conservative Balanced/Polling/insecure
// configuration. Begin does not substitute it for a zero-value Config,
// which fails Validate for its empty DeviceName.
func DefaultConfig() Config {
	return Config{
		Mode:         linkprofile.Balanced,
		DeviceName:   defaultDeviceName,
		Secure:       false,
		LogLevel:     LogLevelNotice,
		PumpMode:     PumpPolling,
		LogFilePath:  defaultLogFile,
		RingCapacity: defaultRingCapacity,
	}
}

// Validate checks the configuration before Begin touches any state. A
// non-nil error here is always wrapped around ErrConfigMismatch so
// callers can match it with errors.Is.
func (c Config) Validate() error {
	switch c.Mode {
	case linkprofile.Fast, linkprofile.Balanced, linkprofile.LowPower, linkprofile.LongRange:
	default:
		return fmt.Errorf("%w: unknown mode %v", ErrConfigMismatch, c.Mode)
	}
	if c.DeviceName == "" {
		return fmt.Errorf("%w: device_name must not be empty", ErrConfigMismatch)
	}
	if len(c.DeviceName) > 26 {
		// Names longer than 26 bytes are rejected. The name is advertised
		// in the scan response after the 6-byte connection-interval
		// field, which leaves room for 23 name bytes; AdvertisingPackets
		// sends a longer name as a shortened name.
		return fmt.Errorf("%w: device_name %q exceeds the advertising payload budget", ErrConfigMismatch, c.DeviceName)
	}
	if c.RingCapacity != 0 && c.RingCapacity&(c.RingCapacity-1) != 0 {
		return fmt.Errorf("%w: ring_capacity %d is not a power of two", ErrConfigMismatch, c.RingCapacity)
	}
	switch c.PumpMode {
	case PumpPolling, PumpTask:
	default:
		return fmt.Errorf("%w: unknown pump_mode %v", ErrConfigMismatch, c.PumpMode)
	}
	return nil
}

// EffectiveRingCapacity returns the ring size Begin allocates,
// substituting the default when the caller left RingCapacity unset.
func (c Config) EffectiveRingCapacity() uint32 {
	if c.RingCapacity == 0 {
		return defaultRingCapacity
	}
	return c.RingCapacity
}
