package channel

import "sync"

// Memory is an in-process Segment. It backs dry runs and tests where a
// goroutine plays the autoguider.
type Memory struct {
	mu       sync.RWMutex
	size     int
	data     []byte
	attached bool
}

// NewMemory creates an unattached in-process segment of the given size.
func NewMemory(size int) *Memory {
	return &Memory{size: size}
}

// Attach allocates the backing buffer on first use.
func (m *Memory) Attach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make([]byte, m.size)
	}
	m.attached = true
	return nil
}

// Detach marks the segment unmapped; contents are kept.
func (m *Memory) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached = false
	return nil
}

// Destroy releases the backing buffer.
func (m *Memory) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached = false
	m.data = nil
	return nil
}

// Attached reports whether the segment is mapped.
func (m *Memory) Attached() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attached
}

// Size returns the segment length.
func (m *Memory) Size() int {
	return m.size
}

// ReadAt returns a copy of [offset, offset+n).
func (m *Memory) ReadAt(offset, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.attached {
		return nil, ErrNotAttached
	}
	if err := checkRange(m.size, offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[offset:offset+n])
	return out, nil
}

// WriteAt copies b to offset.
func (m *Memory) WriteAt(offset int, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.attached {
		return ErrNotAttached
	}
	if err := checkRange(m.size, offset, len(b)); err != nil {
		return err
	}
	copy(m.data[offset:], b)
	return nil
}

// ZeroAll clears the segment.
func (m *Memory) ZeroAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.attached {
		return ErrNotAttached
	}
	clear(m.data)
	return nil
}
