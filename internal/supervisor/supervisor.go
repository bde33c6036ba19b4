package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/shared/id"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultStartTimeout = 10 * time.Second
	DefaultProbeEvery   = 10 * time.Millisecond
	DefaultStopGrace    = 3 * time.Second
)

var (
	// ErrAlreadyRunning is returned by Start while a process is supervised.
	ErrAlreadyRunning = errors.New("supervisor: autoguider already running")
	// ErrHandshake is returned when the autoguider never answered GetVersion.
	ErrHandshake = errors.New("supervisor: autoguider did not answer")
)

// Handshaker asks the autoguider for its version. *command.Client implements it.
type Handshaker interface {
	Version() (string, error)
	ResetBreaker()
}

// Options configures a Supervisor.
type Options struct {
	Name         string
	Path         string
	Args         []string
	StartTimeout time.Duration
	ProbeEvery   time.Duration
	StopGrace    time.Duration
	KillStale    bool

	Launcher Launcher
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// Session describes the supervised run.
type Session struct {
	ID        id.SessionID `json:"id"`
	Pid       int          `json:"pid"`
	Version   string       `json:"version"`
	StartedAt time.Time    `json:"started_at"`
}

// Supervisor owns the autoguider process and the segment attachment.
type Supervisor struct {
	ch     *channel.Channel
	hs     Handshaker
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	proc    Process
	session *Session
	// ready is set once the handshake answered.
	ready bool
}

// New creates a supervisor. hs is used for the start handshake.
func New(ch *channel.Channel, hs Handshaker, opts Options) *Supervisor {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.ProbeEvery <= 0 {
		opts.ProbeEvery = DefaultProbeEvery
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Launcher == nil {
		opts.Launcher = &PTYLauncher{Logger: opts.Logger.Named("autoguider")}
	}

	return &Supervisor{
		ch:     ch,
		hs:     hs,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Launched reports whether a process is supervised, including one still
// starting up. The command client needs it to run the handshake.
func (s *Supervisor) Launched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc != nil
}

// IsRunning reports whether the supervised process is alive and answered
// the handshake.
func (s *Supervisor) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc != nil && s.ready
}

// Session returns the current session, or nil until the process answered
// the handshake.
func (s *Supervisor) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || !s.ready {
		return nil
	}
	cp := *s.session
	return &cp
}

// Start kills stale instances, prepares the segment, launches the
// autoguider and waits until it answers GetVersion.
func (s *Supervisor) Start(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	if s.opts.KillStale && s.opts.Name != "" {
		if err := s.opts.Launcher.KillStale(ctx, s.opts.Name); err != nil {
			s.logger.Warn("Failed to kill stale autoguider", zap.Error(err))
		}
	}

	if !s.ch.Attached() {
		if err := s.ch.Attach(); err != nil {
			s.mu.Unlock()
			s.opts.Metrics.RecordProcessStart("attach_failed")
			return nil, fmt.Errorf("attach segment: %w", err)
		}
	}
	if err := s.ch.ZeroAll(); err != nil {
		s.mu.Unlock()
		s.opts.Metrics.RecordProcessStart("attach_failed")
		return nil, fmt.Errorf("clear segment: %w", err)
	}

	proc, err := s.opts.Launcher.Launch(ctx, s.opts.Path, s.opts.Args)
	if err != nil {
		s.mu.Unlock()
		s.opts.Metrics.RecordProcessStart("launch_failed")
		return nil, fmt.Errorf("launch %s: %w", s.opts.Path, err)
	}

	session := &Session{
		ID:        id.NewSessionID(),
		Pid:       proc.Pid(),
		StartedAt: time.Now(),
	}
	s.proc = proc
	s.session = session
	s.mu.Unlock()

	logger := s.logger.With(zap.String("session", session.ID.String()), zap.Int("pid", session.Pid))
	logger.Info("Autoguider launched", zap.String("path", s.opts.Path))

	s.hs.ResetBreaker()
	version, err := s.handshake(ctx, proc)
	if err != nil {
		logger.Error("Autoguider handshake failed", zap.Error(err))
		s.opts.Metrics.RecordProcessStart("handshake_failed")
		s.release(proc)
		if stopErr := proc.Stop(s.opts.StopGrace); stopErr != nil {
			logger.Warn("Failed to stop autoguider", zap.Error(stopErr))
		}
		return nil, err
	}

	s.mu.Lock()
	if s.proc != proc {
		// Stopped or exited while the handshake was answering.
		s.mu.Unlock()
		s.opts.Metrics.RecordProcessStart("handshake_failed")
		return nil, fmt.Errorf("%w: process exited during startup", ErrHandshake)
	}
	session.Version = version
	s.ready = true
	s.mu.Unlock()

	s.opts.Metrics.RecordProcessStart(monitoring.StatusOK)
	s.opts.Metrics.SetProcessUp(true)
	logger.Info("Autoguider ready",
		zap.String("version", version),
		zap.Duration("startup", time.Since(session.StartedAt)),
	)

	go s.watch(proc, logger)

	return s.Session(), nil
}

func (s *Supervisor) handshake(ctx context.Context, proc Process) (string, error) {
	deadline := time.NewTimer(s.opts.StartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.ProbeEvery)
	defer ticker.Stop()

	var lastErr error
	for {
		v, err := s.hs.Version()
		if err == nil {
			return v, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-proc.Done():
			return "", fmt.Errorf("%w: process exited during startup", ErrHandshake)
		case <-deadline.C:
			return "", fmt.Errorf("%w within %s: %w", ErrHandshake, s.opts.StartTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) watch(proc Process, logger *zap.Logger) {
	<-proc.Done()
	if s.release(proc) {
		logger.Warn("Autoguider exited unexpectedly")
	}
}

// release forgets proc if it is still the supervised process.
func (s *Supervisor) release(proc Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return false
	}
	s.proc = nil
	s.session = nil
	s.ready = false
	s.opts.Metrics.SetProcessUp(false)
	return true
}

// Stop signals the process, waits for it and detaches the segment.
func (s *Supervisor) Stop() error {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()

	var errs []error
	if proc != nil {
		s.release(proc)
		if err := proc.Stop(s.opts.StopGrace); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("Autoguider stopped")
	}

	if s.ch.Attached() {
		if err := s.ch.Detach(); err != nil {
			errs = append(errs, fmt.Errorf("detach segment: %w", err))
		}
	}
	return errors.Join(errs...)
}
