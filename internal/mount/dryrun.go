package mount

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pulse is one guide pulse seen by a DryRun controller.
type Pulse struct {
	Direction  Direction
	DurationMs int
	At         time.Time
}

// DryRun accepts pulses without moving anything. It stands in for the mount
// when guiding is exercised without hardware.
type DryRun struct {
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	pulses    []Pulse
	limit     int
}

// NewDryRun returns a connected dry-run controller that keeps the last
// limit pulses.
func NewDryRun(logger *zap.Logger, limit int) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 256
	}
	return &DryRun{logger: logger, connected: true, limit: limit}
}

// IssueGuidePulse records the pulse.
func (d *DryRun) IssueGuidePulse(direction Direction, durationMs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return ErrDisconnected
	}

	d.pulses = append(d.pulses, Pulse{Direction: direction, DurationMs: durationMs, At: time.Now()})
	if len(d.pulses) > d.limit {
		d.pulses = d.pulses[len(d.pulses)-d.limit:]
	}

	d.logger.Debug("Dry-run guide pulse",
		zap.Stringer("direction", direction),
		zap.Int("duration_ms", durationMs),
	)
	return nil
}

// IsMountConnected reports the simulated connection state.
func (d *DryRun) IsMountConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// SetConnected simulates plugging or unplugging the mount.
func (d *DryRun) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// Pulses returns the recorded pulses, oldest first.
func (d *DryRun) Pulses() []Pulse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Pulse(nil), d.pulses...)
}
