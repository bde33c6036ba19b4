package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the responder did not clear the busy flag in time.
	ErrTimeout = errors.New("guider channel: timeout")
	// ErrProtocolDesync means a ready flag held a value the protocol does not allow.
	ErrProtocolDesync = errors.New("guider channel: protocol desync")
	// ErrMalformedTelemetry means the header described a frame that cannot exist.
	ErrMalformedTelemetry = errors.New("guider channel: malformed telemetry")
	// ErrMalformedResponse means a response window could not be decoded.
	ErrMalformedResponse = errors.New("guider channel: malformed response")
	// ErrProcessUnavailable is returned without waiting when the segment is
	// detached or the autoguider is not running. It matches ErrTimeout.
	ErrProcessUnavailable = &unavailableError{}
)

type unavailableError struct{}

func (e *unavailableError) Error() string {
	return "guider channel: process unavailable"
}

// Is lets callers treat an unavailable process as a timeout.
func (e *unavailableError) Is(target error) bool {
	return target == ErrTimeout
}

// DesyncError records which flag was out of protocol.
type DesyncError struct {
	Flag   string
	Offset int
	Value  byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("%v: %s at %d = 0x%02x", ErrProtocolDesync, e.Flag, e.Offset, e.Value)
}

func (e *DesyncError) Unwrap() error {
	return ErrProtocolDesync
}
