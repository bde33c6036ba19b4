//go:build !linux

package channel

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("shared channel: System V segments are only supported on linux, not " + runtime.GOOS)

// SysV is unavailable on this platform; every call fails.
type SysV struct {
	size int
}

// NewSysV returns a segment whose Attach always fails.
func NewSysV(key, size, perm int) *SysV {
	return &SysV{size: size}
}

func (s *SysV) Attach() error                        { return errUnsupported }
func (s *SysV) Detach() error                        { return nil }
func (s *SysV) Destroy() error                       { return nil }
func (s *SysV) Attached() bool                       { return false }
func (s *SysV) Size() int                            { return s.size }
func (s *SysV) ReadAt(offset, n int) ([]byte, error) { return nil, ErrNotAttached }
func (s *SysV) WriteAt(offset int, b []byte) error   { return ErrNotAttached }
func (s *SysV) ZeroAll() error                       { return ErrNotAttached }
