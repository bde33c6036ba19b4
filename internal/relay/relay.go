// Package relay forwards guide pulse instructions posted by the autoguider
// to the mount and acknowledges them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/logging"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/mount"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// DefaultInterval is the relay cadence.
const DefaultInterval = 5 * time.Millisecond

// ErrInvalidDirection is returned for a direction code outside 0..3. The
// instruction is still cleared and acknowledged.
var ErrInvalidDirection = errors.New("relay: invalid direction")

// Acker acknowledges a completed pulse. *command.Client implements it.
type Acker interface {
	CheckControlAck(sequence uint32) error
}

// Options configures a Relay.
type Options struct {
	Interval     time.Duration
	MeridianFlip bool
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
}

// Event describes the last instruction the relay handled.
type Event struct {
	Instruction protocol.Instruction
	Direction   mount.Direction
	PulseErr    error
	AckErr      error
	At          time.Time
}

// Relay turns instruction words into guide pulses.
type Relay struct {
	ch       *channel.Channel
	mount    mount.Controller
	acker    Acker
	interval time.Duration
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	warn     *logging.Throttle

	flip atomic.Bool
	last atomic.Pointer[Event]

	mu sync.Mutex
}

// New creates a relay reading instructions from ch.
func New(ch *channel.Channel, ctrl mount.Controller, acker Acker, opts Options) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Relay{
		ch:       ch,
		mount:    ctrl,
		acker:    acker,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		warn:     logging.NewThrottle(opts.Logger, time.Second, 5),
	}
	r.flip.Store(opts.MeridianFlip)
	return r
}

// SetMeridianFlip swaps north and south pulses while enabled.
func (r *Relay) SetMeridianFlip(enabled bool) {
	r.flip.Store(enabled)
}

// MeridianFlip reports whether north/south are being swapped.
func (r *Relay) MeridianFlip() bool {
	return r.flip.Load()
}

// LastEvent returns the last handled instruction, or nil.
func (r *Relay) LastEvent() *Event {
	return r.last.Load()
}

// Tick handles at most one pending instruction: pulse, clear the word, ack.
// Pulse and ack failures are returned joined; the word is cleared and the
// ack sent regardless of the pulse outcome.
func (r *Relay) Tick() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	word, err := r.ch.ReadI32(protocol.InstructionWordOffset)
	if err != nil {
		return fmt.Errorf("read instruction word: %w", err)
	}

	ins := protocol.DecodeInstruction(word)
	if !ins.Pending() {
		return nil
	}

	dir := mount.Direction(ins.Direction)
	if r.flip.Load() {
		dir = dir.FlipMeridian()
	}

	pulseErr := r.pulse(dir, int(ins.DurationMs))

	if err := r.ch.WriteI32(protocol.InstructionWordOffset, 0); err != nil {
		return errors.Join(pulseErr, fmt.Errorf("clear instruction word: %w", err))
	}

	ackErr := r.acker.CheckControlAck(uint32(ins.Sequence))
	r.metrics.RecordAck(monitoring.StatusOf(ackErr, protocol.ErrTimeout, protocol.ErrProcessUnavailable))
	if ackErr != nil {
		ackErr = fmt.Errorf("ack %s: %w", ins, ackErr)
	}

	r.last.Store(&Event{
		Instruction: ins,
		Direction:   dir,
		PulseErr:    pulseErr,
		AckErr:      ackErr,
		At:          time.Now(),
	})

	return errors.Join(pulseErr, ackErr)
}

func (r *Relay) pulse(dir mount.Direction, durationMs int) error {
	var err error
	switch {
	case !dir.Valid():
		err = fmt.Errorf("%w: %d", ErrInvalidDirection, int(dir))
	case !r.mount.IsMountConnected():
		err = mount.ErrDisconnected
	default:
		err = mount.HardwareError(r.mount.IssueGuidePulse(dir, durationMs))
	}

	result := monitoring.StatusOK
	if err != nil {
		result = monitoring.StatusError
	}
	r.metrics.RecordPulse(dir.String(), result)
	return err
}

// Run calls Tick every interval until ctx is cancelled. Errors are logged
// and never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Pulse relay started", zap.Duration("interval", r.interval))
	defer r.logger.Info("Pulse relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				r.warn.Warn("Relay tick failed", zap.Error(err))
			}
		}
	}
}
