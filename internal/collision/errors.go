package collision

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. The concrete error types below
// match them.
var (
	// ErrPortCollision matches every *PortCollisionError.
	ErrPortCollision = errors.New("forwarded port collision")

	// ErrNoUsablePorts matches every *NoUsablePortsError.
	ErrNoUsablePorts = errors.New("no usable ports available")
)

// PortCollisionError reports a host port that is in use while repair is not
// allowed for the rule.
type PortCollisionError struct {
	GuestPort int
	HostPort  int
}

// Error describes the colliding port pair.
func (e *PortCollisionError) Error() string {
	return fmt.Sprintf("forwarded port to host port %d (guest port %d) is already in use on the host",
		e.HostPort, e.GuestPort)
}

// Is reports whether target is ErrPortCollision.
func (e *PortCollisionError) Is(target error) bool {
	return target == ErrPortCollision
}

// NoUsablePortsError reports a collision that could not be repaired because
// the usable port pool is empty.
type NoUsablePortsError struct {
	Machine   string
	GuestPort int
	HostPort  int
}

// Error describes the machine and the port pair that could not be repaired.
func (e *NoUsablePortsError) Error() string {
	return fmt.Sprintf("machine %q: no usable ports left to repair the collision on host port %d (guest port %d)",
		e.Machine, e.HostPort, e.GuestPort)
}

// Is reports whether target is ErrNoUsablePorts.
func (e *NoUsablePortsError) Is(target error) bool {
	return target == ErrNoUsablePorts
}
