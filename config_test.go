package serial

import (
	"errors"
	"testing"

	"github.com/nusuart/serial/linkprofile"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate cleanly: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	c := DefaultConfig()
	c.Mode = linkprofile.Mode(99)
	err := c.Validate()
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want wrapped ErrConfigMismatch", err)
	}
}

func TestValidateRejectsEmptyDeviceName(t *testing.T) {
	c := DefaultConfig()
	c.DeviceName = ""
	if err := c.Validate(); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want wrapped ErrConfigMismatch", err)
	}
}

func TestValidateRejectsNonPowerOfTwoRingCapacity(t *testing.T) {
	c := DefaultConfig()
	c.RingCapacity = 4000
	if err := c.Validate(); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want wrapped ErrConfigMismatch", err)
	}
}

func TestRingCapacityDefaultsWhenUnset(t *testing.T) {
	c := DefaultConfig()
	c.RingCapacity = 0
	if got := c.EffectiveRingCapacity(); got != defaultRingCapacity {
		t.Fatalf("EffectiveRingCapacity() = %d, want default %d", got, defaultRingCapacity)
	}
	c.RingCapacity = 8192
	if got := c.EffectiveRingCapacity(); got != 8192 {
		t.Fatalf("EffectiveRingCapacity() = %d, want the explicit 8192", got)
	}
}
