// Package mount defines the guide pulse contract the relay drives and a
// dry-run implementation of it.
package mount

import (
	"errors"
	"fmt"
)

// ErrHardware wraps failures reported by a mount controller.
var ErrHardware = errors.New("mount: hardware error")

// ErrDisconnected is returned when a pulse is issued with no mount connected.
var ErrDisconnected = fmt.Errorf("%w: mount not connected", ErrHardware)

// Direction is a guide pulse direction as encoded in the instruction word.
type Direction int

const (
	North Direction = 0
	South Direction = 1
	East  Direction = 2
	West  Direction = 3
)

// String returns the direction name
func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the four pulse directions.
func (d Direction) Valid() bool {
	return d >= North && d <= West
}

// FlipMeridian swaps north and south, as needed after a meridian flip.
func (d Direction) FlipMeridian() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	default:
		return d
	}
}

// Controller is implemented by the device-control client that talks to the
// mount. IssueGuidePulse returns once the pulse has been issued.
type Controller interface {
	IssueGuidePulse(direction Direction, durationMs int) error
	IsMountConnected() bool
}

// HardwareError wraps err so errors.Is(err, ErrHardware) holds.
func HardwareError(err error) error {
	if err == nil || errors.Is(err, ErrHardware) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrHardware, err)
}
