package monitoring

import (
	"errors"
	"time"
)

// Status labels shared by the command, relay and supervisor metrics.
const (
	StatusOK          = "ok"
	StatusTimeout     = "timeout"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// StatusOf maps an error onto a status label. The timeout and unavailable
// sentinels are passed in so this package stays free of protocol imports.
func StatusOf(err, timeout, unavailable error) string {
	switch {
	case err == nil:
		return StatusOK
	case unavailable != nil && errors.Is(err, unavailable):
		return StatusUnavailable
	case timeout != nil && errors.Is(err, timeout):
		return StatusTimeout
	default:
		return StatusError
	}
}

// Timer measures one command round trip.
type Timer struct {
	start   time.Time
	metrics *Metrics
	opcode  string
}

// NewTimer starts timing a request for opcode.
func NewTimer(metrics *Metrics, opcode string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		opcode:  opcode,
	}
}

// Stop records the elapsed time under status and returns it.
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordCommand(t.opcode, status, d)
	return d
}
