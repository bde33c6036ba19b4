//go:build linux

package channel

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// SysV is a System V shared memory segment identified by a numeric key.
type SysV struct {
	key  int
	size int
	perm int

	mu   sync.RWMutex
	id   int
	data []byte
}

// NewSysV describes a segment; nothing is created until Attach.
func NewSysV(key, size, perm int) *SysV {
	return &SysV{key: key, size: size, perm: perm, id: -1}
}

// Attach creates the segment if it does not exist and maps it.
func (s *SysV) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data != nil {
		return nil
	}

	id, err := unix.SysvShmGet(s.key, s.size, unix.IPC_CREAT|s.perm)
	if err != nil {
		return fmt.Errorf("shmget key=0x%x size=%d: %w", s.key, s.size, err)
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return fmt.Errorf("shmat id=%d: %w", id, err)
	}
	if len(data) < s.size {
		unix.SysvShmDetach(data)
		return fmt.Errorf("shmat id=%d: mapped %d bytes, want %d", id, len(data), s.size)
	}

	s.id = id
	s.data = data[:s.size]
	return nil
}

// Detach unmaps the segment.
func (s *SysV) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detachLocked()
}

func (s *SysV) detachLocked() error {
	if s.data == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.data)
	s.data = nil
	if err != nil {
		return fmt.Errorf("shmdt id=%d: %w", s.id, err)
	}
	return nil
}

// Destroy unmaps the segment and marks it for removal.
func (s *SysV) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.detachLocked(); err != nil {
		return err
	}
	if s.id < 0 {
		return nil
	}
	if _, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl IPC_RMID id=%d: %w", s.id, err)
	}
	s.id = -1
	return nil
}

// Attached reports whether the segment is mapped.
func (s *SysV) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data != nil
}

// Size returns the segment length.
func (s *SysV) Size() int {
	return s.size
}

// ReadAt copies n bytes out of the mapping.
func (s *SysV) ReadAt(offset, n int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, ErrNotAttached
	}
	if err := checkRange(s.size, offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.data[offset:offset+n])
	return out, nil
}

// WriteAt copies b into the mapping.
func (s *SysV) WriteAt(offset int, b []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return ErrNotAttached
	}
	if err := checkRange(s.size, offset, len(b)); err != nil {
		return err
	}
	copy(s.data[offset:], b)
	return nil
}

// ZeroAll clears the mapping.
func (s *SysV) ZeroAll() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return ErrNotAttached
	}
	clear(s.data)
	return nil
}
