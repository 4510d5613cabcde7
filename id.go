package serial

import "github.com/satori/go.uuid"

// NewInstanceID mints a fresh identifier suitable for engine.Begin's id
// parameter. A caller with multiple peripherals active at once needs
// distinct registry tokens, and a random v4 UUID is the simplest
// collision-free source.
func NewInstanceID() string {
	return uuid.NewV4().String()
}
