package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached is returned by every access made before Attach or after Detach.
	ErrNotAttached = errors.New("shared channel: not attached")
	// ErrOutOfRange is returned for accesses that cross the segment bounds.
	ErrOutOfRange = errors.New("shared channel: access out of range")
)

// Segment is a fixed-size byte region shared with another process.
type Segment interface {
	// Attach maps the segment into this process, creating it if needed.
	Attach() error
	// Detach unmaps the segment. The contents survive for other attachers.
	Detach() error
	// Destroy detaches and removes the segment from the system.
	Destroy() error
	// Attached reports whether the segment is currently mapped.
	Attached() bool
	// Size returns the segment length in bytes.
	Size() int
	// ReadAt copies n bytes starting at offset.
	ReadAt(offset, n int) ([]byte, error)
	// WriteAt copies b into the segment starting at offset.
	WriteAt(offset int, b []byte) error
	// ZeroAll clears every byte of the segment.
	ZeroAll() error
}

func checkRange(size, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > size {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, offset, offset+n, size)
	}
	return nil
}
