package command

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/resilience"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTimeout          = 500 * time.Millisecond
	DefaultPollInterval     = 100 * time.Microsecond
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 5 * time.Second
)

// RequestChannel sends one opcoded request and waits for the responder to
// clear the busy flag.
type RequestChannel interface {
	Call(op protocol.Opcode, payload []byte, timeout time.Duration) ([]byte, error)
}

// ProcessChecker reports whether the responder process is alive.
type ProcessChecker interface {
	IsRunning() bool
}

// ProcessFunc adapts a function to ProcessChecker.
type ProcessFunc func() bool

// IsRunning calls f.
func (f ProcessFunc) IsRunning() bool {
	return f()
}

// Options configures a Client.
type Options struct {
	Timeout          time.Duration
	PollInterval     time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Process is consulted before every call; nil means always running.
	Process ProcessChecker
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	// OnBreakerChange is called with the breaker locked.
	OnBreakerChange func(from, to resilience.State)
}

// Client is the request side of the command protocol.
type Client struct {
	ch      *channel.Channel
	opts    Options
	logger  *zap.Logger
	breaker *resilience.Breaker

	// One request slot: relay acks and workflow commands take turns.
	mu sync.Mutex
}

var _ RequestChannel = (*Client)(nil)

// New creates a client over ch.
func New(ch *channel.Channel, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = DefaultBreakerThreshold
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		ch:     ch,
		opts:   opts,
		logger: opts.Logger,
	}

	threshold := opts.BreakerThreshold
	c.breaker = resilience.New("command", resilience.Settings{
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsFailure: func(err error) bool {
			return errors.Is(err, protocol.ErrTimeout)
		},
		OnStateChange: func(_ string, from, to resilience.State) {
			opts.Metrics.SetBreakerState(int(to))
			c.logger.Warn("Command channel breaker changed state",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			if opts.OnBreakerChange != nil {
				opts.OnBreakerChange(from, to)
			}
		},
	})

	return c
}

// Timeout returns the default call timeout.
func (c *Client) Timeout() time.Duration {
	return c.opts.Timeout
}

// BreakerState reports whether calls are being short-circuited.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// ResetBreaker closes the breaker, typically after the process restarted.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// Send issues op with the default timeout.
func (c *Client) Send(op protocol.Opcode, payload []byte) ([]byte, error) {
	return c.Call(op, payload, c.opts.Timeout)
}

// Call writes the request, raises the busy flag and polls until the
// responder clears it. The returned slice is a copy of the response window.
// A timeout leaves the busy flag as the responder left it.
func (c *Client) Call(op protocol.Opcode, payload []byte, timeout time.Duration) ([]byte, error) {
	if len(payload) > protocol.PayloadCapacity {
		return nil, fmt.Errorf("%s: payload of %d bytes exceeds %d", op, len(payload), protocol.PayloadCapacity)
	}

	timer := monitoring.NewTimer(c.opts.Metrics, op.String())

	if !c.available() {
		timer.Stop(monitoring.StatusUnavailable)
		return nil, fmt.Errorf("%s: %w", op, protocol.ErrProcessUnavailable)
	}

	resp, err := resilience.Do(c.breaker, func() ([]byte, error) {
		return c.exchange(op, payload, timeout)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%s: %w", op, protocol.ErrProcessUnavailable)
	}

	elapsed := timer.Stop(monitoring.StatusOf(err, protocol.ErrTimeout, protocol.ErrProcessUnavailable))
	if err != nil {
		c.logger.Debug("Command failed",
			zap.Stringer("opcode", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (c *Client) available() bool {
	if !c.ch.Attached() {
		return false
	}
	return c.opts.Process == nil || c.opts.Process.IsRunning()
}

func (c *Client) exchange(op protocol.Opcode, payload []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeRequest(op, payload); err != nil {
		return nil, fmt.Errorf("%s: write request: %w", op, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		busy, err := c.ch.ReadU8(protocol.BusyFlagOffset)
		if err != nil {
			return nil, fmt.Errorf("%s: read busy flag: %w", op, err)
		}
		if busy == protocol.BusyIdle {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s after %s: %w", op, timeout, protocol.ErrTimeout)
		}
		time.Sleep(c.opts.PollInterval)
	}

	resp, err := c.ch.ReadAt(protocol.PayloadOffset, protocol.PayloadCapacity)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	return resp, nil
}

// writeRequest clears the slot, then writes payload and opcode. The busy
// flag goes last so the responder never sees a half-written request.
func (c *Client) writeRequest(op protocol.Opcode, payload []byte) error {
	if err := c.ch.ZeroRange(protocol.RequestSlotOffset, protocol.RequestSlotSize); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := c.ch.WriteAt(protocol.PayloadOffset, payload); err != nil {
			return err
		}
	}
	if err := c.ch.WriteU8(protocol.OpcodeMSBOffset, op.MSB()); err != nil {
		return err
	}
	if err := c.ch.WriteU8(protocol.OpcodeLSBOffset, op.LSB()); err != nil {
		return err
	}
	return c.ch.WriteU8(protocol.BusyFlagOffset, protocol.BusyPending)
}
