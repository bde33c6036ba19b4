package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/logging"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// DefaultInterval is the telemetry polling cadence.
const DefaultInterval = 10 * time.Millisecond

// LoopOptions configures a Loop.
type LoopOptions struct {
	Interval time.Duration
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
	// OnSample runs on the loop goroutine before subscribers are notified.
	OnSample func(*Sample)
}

// Loop polls the reader on a ticker and fans samples out to subscribers.
type Loop struct {
	reader   *Reader
	interval time.Duration
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	warn     *logging.Throttle
	onSample func(*Sample)

	latest atomic.Pointer[Sample]

	mu     sync.RWMutex
	subs   map[uint64]chan *Sample
	nextID uint64
}

// NewLoop creates a loop over ch.
func NewLoop(ch *channel.Channel, opts LoopOptions) *Loop {
	return NewLoopWithReader(NewReader(ch), opts)
}

// NewLoopWithReader creates a loop around an existing reader.
func NewLoopWithReader(r *Reader, opts LoopOptions) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loop{
		reader:   r,
		interval: opts.Interval,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		warn:     logging.NewThrottle(opts.Logger, time.Second, 5),
		onSample: opts.OnSample,
		subs:     make(map[uint64]chan *Sample),
	}
}

// Reader returns the underlying reader.
func (l *Loop) Reader() *Reader {
	return l.reader
}

// Latest returns the most recent sample, or nil before the first one.
func (l *Loop) Latest() *Sample {
	return l.latest.Load()
}

// Subscribe returns a channel receiving every sample. A subscriber whose
// buffer is full misses samples rather than stalling the loop. The returned
// func unsubscribes and closes the channel.
func (l *Loop) Subscribe(buffer int) (<-chan *Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Sample, buffer)

	l.mu.Lock()
	sid := l.nextID
	l.nextID++
	l.subs[sid] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, sid)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (l *Loop) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Step polls once and publishes the sample, if any.
func (l *Loop) Step() (*Sample, error) {
	s, err := l.reader.Poll()
	if err != nil {
		l.metrics.RecordTelemetryError(errorReason(err))
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	l.latest.Store(s)
	l.metrics.RecordSample(s.RmsTotal, s.Snr, s.StarLost)
	if l.onSample != nil {
		l.onSample(s)
	}
	l.publish(s)
	return s, nil
}

func (l *Loop) publish(s *Sample) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.subs {
		select {
		case ch <- s:
		default:
			l.metrics.IncSubscriberDrops()
		}
	}
}

// Run calls Step every interval until ctx is cancelled. Errors never stop
// the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Telemetry loop started", zap.Duration("interval", l.interval))
	defer l.logger.Info("Telemetry loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.Step(); err != nil {
				l.warn.Warn("Telemetry poll failed", zap.Error(err))
			}
		}
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrProtocolDesync):
		return "desync"
	case errors.Is(err, protocol.ErrMalformedTelemetry):
		return "malformed"
	case errors.Is(err, channel.ErrNotAttached):
		return "detached"
	default:
		return "other"
	}
}
