package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/QHYCCD-QUARCS/guidelink/internal/api/http"
	"github.com/QHYCCD-QUARCS/guidelink/internal/channel"
	"github.com/QHYCCD-QUARCS/guidelink/internal/command"
	"github.com/QHYCCD-QUARCS/guidelink/internal/guider"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/config"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/resilience"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/server"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/tracing"
	"github.com/QHYCCD-QUARCS/guidelink/internal/mount"
	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
	"github.com/QHYCCD-QUARCS/guidelink/internal/relay"
	"github.com/QHYCCD-QUARCS/guidelink/internal/supervisor"
	"github.com/QHYCCD-QUARCS/guidelink/internal/telemetry"
)

// Version is reported by the status server.
var Version = "dev"

// ErrNoMount is returned when hardware guiding is requested but no mount
// controller was supplied.
var ErrNoMount = errors.New("app: no mount controller configured")

// Option customizes how New assembles the application.
type Option func(*options)

type options struct {
	segment  channel.Segment
	mount    mount.Controller
	launcher supervisor.Launcher
	registry *prometheus.Registry
}

// WithSegment replaces the segment selected by the configuration.
func WithSegment(seg channel.Segment) Option {
	return func(o *options) { o.segment = seg }
}

// WithMount drives ctrl instead of the dry-run controller.
func WithMount(ctrl mount.Controller) Option {
	return func(o *options) { o.mount = ctrl }
}

// WithLauncher starts the autoguider through l.
func WithLauncher(l supervisor.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// App owns every long-lived component of the bridge.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	ch     *channel.Channel
	client *command.Client
	sup    *supervisor.Supervisor
	mount  mount.Controller
	relay  *relay.Relay
	guider *guider.Service
	server *server.Server
}

// New assembles the application from cfg. Nothing touches the segment or
// the autoguider until Run.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}

	a.registry = o.registry
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.metrics = monitoring.NewMetrics(a.registry)
	a.tracer = tracing.New("guidelink", logger.Named("trace"))

	seg := o.segment
	if seg == nil {
		seg = newSegment(cfg.Channel)
	}
	a.ch = channel.New(seg)

	cmdOpts := command.Options{
		Timeout:          cfg.Command.Timeout,
		PollInterval:     cfg.Command.PollInterval,
		BreakerThreshold: cfg.Command.BreakerThreshold,
		BreakerTimeout:   cfg.Command.BreakerTimeout,
		Metrics:          a.metrics,
		Logger:           logger.Named("command"),
		OnBreakerChange: func(from, to resilience.State) {
			a.guider.BreakerChanged(from, to)
		},
	}
	if cfg.Process.Managed {
		cmdOpts.Process = command.ProcessFunc(func() bool { return a.sup.Launched() })
	}
	a.client = command.New(a.ch, cmdOpts)

	if cfg.Process.Managed {
		a.sup = supervisor.New(a.ch, a.client, supervisor.Options{
			Name:         cfg.Process.Name,
			Path:         cfg.Process.Path,
			Args:         cfg.Process.Args,
			StartTimeout: cfg.Process.StartTimeout,
			ProbeEvery:   cfg.Process.ProbeEvery,
			KillStale:    cfg.Process.KillStale,
			Launcher:     o.launcher,
			Metrics:      a.metrics,
			Logger:       logger.Named("supervisor"),
		})
	}

	switch {
	case o.mount != nil:
		a.mount = o.mount
	case cfg.Mount.DryRun:
		a.mount = mount.NewDryRun(logger.Named("mount"), 0)
	default:
		a.tracer.Close()
		return nil, ErrNoMount
	}

	a.relay = relay.New(a.ch, a.mount, a.client, relay.Options{
		Interval:     cfg.Relay.Interval,
		MeridianFlip: cfg.Relay.MeridianFlip,
		Metrics:      a.metrics,
		Logger:       logger.Named("relay"),
	})

	a.guider = guider.New(a.client, telemetry.NewReader(a.ch), a.relay,
		telemetry.LoopOptions{
			Interval: cfg.Telemetry.Interval,
			Metrics:  a.metrics,
			Logger:   logger.Named("telemetry"),
		},
		guider.Options{
			HistorySize: cfg.Telemetry.HistorySize,
			ProbeStatus: cfg.Telemetry.ProbeStatus,
			Metrics:     a.metrics,
			Logger:      logger.Named("guider"),
			Tracer:      a.tracer,
		},
	)

	if cfg.Server.Enabled {
		var process apihttp.ProcessView
		if a.sup != nil {
			process = a.sup
		}
		a.server = server.New(cfg.Server, server.Deps{
			Guider:   a.guider,
			Process:  process,
			Control:  a.guider,
			Metrics:  a.metrics,
			Gatherer: a.registry,
			Version:  Version,
			Tracer:   a.tracer,
		}, cfg.Logging.Development, logger.Named("server"))
	}

	return a, nil
}

func newSegment(cfg config.ChannelConfig) channel.Segment {
	if cfg.InMemory {
		return channel.NewMemory(protocol.SegmentSize)
	}
	return channel.NewSysV(cfg.Key, protocol.SegmentSize, protocol.SegmentPerm)
}

// Channel returns the shared channel.
func (a *App) Channel() *channel.Channel { return a.ch }

// Client returns the command client.
func (a *App) Client() *command.Client { return a.client }

// Supervisor returns the process supervisor, or nil when the autoguider is
// started by someone else.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Mount returns the mount controller pulses are sent to.
func (a *App) Mount() mount.Controller { return a.mount }

// Guider returns the guiding service.
func (a *App) Guider() *guider.Service { return a.guider }

// Server returns the status server, or nil when disabled.
func (a *App) Server() *server.Server { return a.server }

// Metrics returns the metrics collector.
func (a *App) Metrics() *monitoring.Metrics { return a.metrics }

// Tracer returns the workflow tracer.
func (a *App) Tracer() *tracing.Tracer { return a.tracer }

// Run connects to the autoguider and drives the guiding loops and the
// status server until ctx is cancelled. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	defer a.tracer.Close()

	if err := a.connect(ctx); err != nil {
		return err
	}
	defer a.disconnect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.guider.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *App) connect(ctx context.Context) error {
	if a.sup != nil {
		session, err := a.sup.Start(ctx)
		if err != nil {
			return fmt.Errorf("start autoguider: %w", err)
		}
		a.logger.Info("Connected to autoguider",
			zap.String("session", session.ID.String()),
			zap.String("version", session.Version),
		)
		return nil
	}

	if err := a.ch.Attach(); err != nil {
		return fmt.Errorf("attach segment: %w", err)
	}
	version, err := a.client.Version()
	if err != nil {
		// An unmanaged autoguider may come up later; the breaker and the
		// status endpoint report it until then.
		a.logger.Warn("Autoguider did not answer", zap.Error(err))
		return nil
	}
	a.logger.Info("Attached to autoguider", zap.String("version", version))
	return nil
}

func (a *App) disconnect() {
	if a.sup != nil {
		if err := a.sup.Stop(); err != nil {
			a.logger.Warn("Failed to stop autoguider", zap.Error(err))
		}
		return
	}
	if err := a.ch.Detach(); err != nil {
		a.logger.Warn("Failed to detach segment", zap.Error(err))
	}
}
