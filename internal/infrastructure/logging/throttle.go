package logging

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Throttle rate-limits a noisy log site. The telemetry loop ticks every
// 10 ms and the relay every 5 ms, so a persistent fault would otherwise
// flood the log. Suppressed entries are counted and reported on the next
// entry that gets through.
type Throttle struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottle allows burst entries at once and one more every interval.
func NewThrottle(logger *zap.Logger, interval time.Duration, burst int) *Throttle {
	return &Throttle{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warn logs at warn level if the limiter allows it.
func (t *Throttle) Warn(msg string, fields ...zap.Field) bool {
	return t.log(zap.WarnLevel, msg, fields)
}

// Error logs at error level if the limiter allows it.
func (t *Throttle) Error(msg string, fields ...zap.Field) bool {
	return t.log(zap.ErrorLevel, msg, fields)
}

// Suppressed returns the number of entries dropped since the last one logged.
func (t *Throttle) Suppressed() uint64 {
	return t.suppressed.Load()
}

func (t *Throttle) log(level zapcore.Level, msg string, fields []zap.Field) bool {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Uint64("suppressed", n))
	}
	if ce := t.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
	return true
}
