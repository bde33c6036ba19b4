package guider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/resilience"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/tracing"
	"github.com/QHYCCD-QUARCS/guidelink/internal/relay"
	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

// DefaultSettleDelay is how long Recalibrate lets looping settle before
// picking a star.
const DefaultSettleDelay = time.Second

var (
	// ErrNoFrame is returned by operations that need a frame before one arrived.
	ErrNoFrame = errors.New("guider: no frame received yet")
	// ErrInvalidCanvas is returned for a canvas without area.
	ErrInvalidCanvas = errors.New("guider: invalid canvas size")
)

// Commander is the subset of the command client the service drives.
type Commander interface {
	CheckStatus() (uint8, error)
	ClearCalibration() error
	StartLooping() error
	StopLooping() error
	AutoFindStar() error
	StartGuiding() error
	SetExposureTime(ms uint32) error
	SelectCamera(name string) error
	StarClick(x, y int32) error
	SetFocalLength(mm int32) error
	SetMultiStar(enabled bool) error
	SetPixelSize(um float64) error
	SetGain(gain int32) error
	SetCalibrationStep(ms int32) error
	SetRaAggression(percent int32) error
	SetDecAggression(percent int32) error
	BreakerState() resilience.State
}

// Options configures a Service.
type Options struct {
	HistorySize int
	// ProbeStatus asks for the autoguider status after every frame.
	ProbeStatus bool
	SettleDelay time.Duration
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
	// Tracer records a span per workflow and per workflow step.
	Tracer *tracing.Tracer
}

// Status is a snapshot of the guiding session.
type Status struct {
	Guiding       bool            `json:"guiding"`
	Looping       bool            `json:"looping"`
	Phase         string          `json:"phase,omitempty"`
	StarLostAlert bool            `json:"star_lost_alert"`
	LockSelected  bool            `json:"lock_selected"`
	LastFrameID   string          `json:"last_frame_id,omitempty"`
	LastFrameAt   time.Time       `json:"last_frame_at"`
	GuiderStatus  *uint8          `json:"guider_status,omitempty"`
	StatusError   string          `json:"status_error,omitempty"`
	Breaker       string          `json:"breaker"`
	MeridianFlip  bool            `json:"meridian_flip"`
	History       telemetry.Stats `json:"history"`
	LastPulse     *relay.Event    `json:"-"`
}

// Service runs the guiding workflow on top of the command and telemetry
// channels.
type Service struct {
	cmd     Commander
	loop    *telemetry.Loop
	relay   *relay.Relay
	history *telemetry.History
	opts    Options
	logger  *zap.Logger

	mu               sync.RWMutex
	guiding          bool
	looping          bool
	clearCalibration bool
	guiderStatus     *uint8
	statusErr        error

	// workflow commands run one at a time
	workflow sync.Mutex
	sleep    func(ctx context.Context, d time.Duration) error
}

// New wires a service. The telemetry loop is created here so every sample
// feeds the history and the status probe.
func New(cmd Commander, reader *telemetry.Reader, rl *relay.Relay, loopOpts telemetry.LoopOptions, opts Options) *Service {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Service{
		cmd:     cmd,
		relay:   rl,
		history: telemetry.NewHistory(opts.HistorySize),
		opts:    opts,
		logger:  opts.Logger,
		sleep:   sleepContext,
	}

	next := loopOpts.OnSample
	loopOpts.OnSample = func(sample *telemetry.Sample) {
		s.onSample(sample)
		if next != nil {
			next(sample)
		}
	}
	s.loop = telemetry.NewLoopWithReader(reader, loopOpts)
	return s
}

// Loop returns the telemetry loop.
func (s *Service) Loop() *telemetry.Loop {
	return s.loop
}

// History returns the scatter history.
func (s *Service) History() *telemetry.History {
	return s.history
}

// Run drives the telemetry and relay loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.loop.Run(ctx)
	}()
	if s.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.relay.Run(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Service) onSample(sample *telemetry.Sample) {
	s.history.Add(sample)

	if !s.opts.ProbeStatus {
		return
	}
	status, err := s.cmd.CheckStatus()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.statusErr = err
		return
	}
	s.statusErr = nil
	s.guiderStatus = &status
}

// Status returns a snapshot of the session.
func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{
		Guiding: s.guiding,
		Looping: s.looping,
		Breaker: s.cmd.BreakerState().String(),
		History: s.history.Stats(),
	}
	if s.guiderStatus != nil {
		v := *s.guiderStatus
		st.GuiderStatus = &v
	}
	if s.statusErr != nil {
		st.StatusError = s.statusErr.Error()
	}
	s.mu.RUnlock()

	if latest := s.loop.Latest(); latest != nil {
		st.Phase = latest.Phase.String()
		st.LockSelected = latest.Lock.Selected
		st.LastFrameID = latest.ID
		st.LastFrameAt = latest.At
	}
	st.StarLostAlert = s.loop.Reader().StarLostAlert()
	if s.relay != nil {
		st.MeridianFlip = s.relay.MeridianFlip()
		st.LastPulse = s.relay.LastEvent()
	}
	return st
}

// BreakerChanged is meant for command.Options.OnBreakerChange. An open
// breaker means the autoguider stopped answering and only a supervisor
// restart clears it.
func (s *Service) BreakerChanged(from, to resilience.State) {
	switch to {
	case resilience.StateOpen:
		s.logger.Error("Autoguider stopped answering commands, restart it to reset the channel",
			zap.Stringer("from", from),
		)
	case resilience.StateClosed:
		s.logger.Info("Command channel recovered", zap.Stringer("from", from))
	}
}

// Guiding reports whether guiding was started.
func (s *Service) Guiding() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guiding
}

// Looping reports whether exposures were started.
func (s *Service) Looping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.looping
}

// RequestCalibrationClear makes the next guiding start discard the
// calibration first.
func (s *Service) RequestCalibrationClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalibration = true
}

// ToggleGuiding starts guiding when stopped and stops looping when guiding.
// Starting clears a pending calibration and auto-selects a star when none is
// locked. The state only changes when the final command succeeds.
func (s *Service) ToggleGuiding() (bool, error) {
	s.workflow.Lock()
	defer s.workflow.Unlock()

	if s.Guiding() {
		if err := s.cmd.StopLooping(); err != nil {
			return true, fmt.Errorf("stop guiding: %w", err)
		}
		s.setState(false, false)
		s.logger.Info("Guiding stopped")
		return false, nil
	}

	s.mu.Lock()
	reset := s.clearCalibration
	s.clearCalibration = false
	s.mu.Unlock()

	if reset {
		if err := s.cmd.ClearCalibration(); err != nil {
			s.logger.Warn("Failed to clear calibration", zap.Error(err))
		}
	}

	if latest := s.loop.Latest(); latest == nil || !latest.Lock.Selected {
		if err := s.cmd.AutoFindStar(); err != nil {
			s.logger.Warn("Auto find star failed", zap.Error(err))
		}
	}

	if err := s.cmd.StartGuiding(); err != nil {
		return false, fmt.Errorf("start guiding: %w", err)
	}
	s.setState(true, true)
	s.logger.Info("Guiding started", zap.Bool("calibration_cleared", reset))
	return true, nil
}

// ToggleLooping starts or stops exposures. Stopping also ends guiding.
func (s *Service) ToggleLooping() (bool, error) {
	s.workflow.Lock()
	defer s.workflow.Unlock()

	if s.Looping() {
		if err := s.cmd.StopLooping(); err != nil {
			return true, fmt.Errorf("stop looping: %w", err)
		}
		s.setState(false, false)
		return false, nil
	}

	if err := s.cmd.StartLooping(); err != nil {
		return false, fmt.Errorf("start looping: %w", err)
	}
	s.mu.Lock()
	s.looping = true
	s.mu.Unlock()
	return true, nil
}

// Recalibrate clears the calibration, restarts looping, waits for it to
// settle and starts guiding on an auto-selected star.
func (s *Service) Recalibrate(ctx context.Context) (err error) {
	s.workflow.Lock()
	defer s.workflow.Unlock()

	span, ctx := s.opts.Tracer.StartSpan(ctx, "recalibrate")
	defer func() { s.opts.Tracer.End(span, err) }()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"clear calibration", s.cmd.ClearCalibration},
		{"start looping", s.cmd.StartLooping},
		{"settle", func() error { return s.sleep(ctx, s.opts.SettleDelay) }},
		{"auto find star", s.cmd.AutoFindStar},
		{"start guiding", s.cmd.StartGuiding},
	}
	for _, step := range steps {
		child, _ := s.opts.Tracer.StartSpan(ctx, step.name)
		stepErr := step.fn()
		s.opts.Tracer.End(child, stepErr)
		if stepErr != nil {
			return fmt.Errorf("recalibrate: %s: %w", step.name, stepErr)
		}
	}

	s.setState(true, true)
	s.history.Clear()
	s.logger.Info("Recalibration started", zap.String("trace_id", string(span.TraceID)))
	return nil
}

// SetExposure sets the guide exposure in milliseconds.
func (s *Service) SetExposure(ms uint32) error {
	return s.cmd.SetExposureTime(ms)
}

// ClickCanvas maps a click on a canvas of canvasW x canvasH showing the
// latest frame to image coordinates and selects the star there.
func (s *Service) ClickCanvas(canvasW, canvasH, x, y int) error {
	if canvasW <= 0 || canvasH <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidCanvas, canvasW, canvasH)
	}
	latest := s.loop.Latest()
	if latest == nil {
		return ErrNoFrame
	}

	ix, iy := ScaleClick(canvasW, canvasH, int(latest.Width), int(latest.Height), x, y)
	s.logger.Debug("Star click",
		zap.Int("canvas_x", x), zap.Int("canvas_y", y),
		zap.Int32("image_x", ix), zap.Int32("image_y", iy),
	)
	return s.cmd.StarClick(ix, iy)
}

// ScaleClick converts canvas coordinates into image coordinates, truncating
// toward zero.
func ScaleClick(canvasW, canvasH, imageW, imageH, x, y int) (int32, int32) {
	sx := float64(x) * float64(imageW) / float64(canvasW)
	sy := float64(y) * float64(imageH) / float64(canvasH)
	return int32(sx), int32(sy)
}

// ClearHistory drops the scatter history.
func (s *Service) ClearHistory() {
	s.history.Clear()
}

// SetMeridianFlip swaps north and south pulses on the relay.
func (s *Service) SetMeridianFlip(enabled bool) {
	if s.relay != nil {
		s.relay.SetMeridianFlip(enabled)
	}
}

// ClearStarLostAlert acknowledges the star-lost alert until the star is
// lost again.
func (s *Service) ClearStarLostAlert() {
	s.loop.Reader().ClearStarLostAlert()
}

func (s *Service) setState(guiding, looping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guiding = guiding
	s.looping = looping
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
