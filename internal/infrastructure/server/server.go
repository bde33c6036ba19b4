package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/QHYCCD-QUARCS/guidelink/internal/api/http"
	"github.com/QHYCCD-QUARCS/guidelink/internal/api/middleware"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/config"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/monitoring"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/tracing"
	"github.com/QHYCCD-QUARCS/guidelink/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// Deps are the components the status surface reads from.
type Deps struct {
	Guider  apihttp.GuiderView
	Process apihttp.ProcessView
	// Control enables the /guider routes; nil leaves the surface read-only.
	Control apihttp.Controller
	Metrics *monitoring.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Version  string
	// Tracer traces every request and backs /traces; nil disables both.
	Tracer *tracing.Tracer
}

// Server wraps the HTTP server and its router.
type Server struct {
	router *gin.Engine
	cfg    config.ServerConfig
	logger *zap.Logger
}

// New builds the router.
func New(cfg config.ServerConfig, deps Deps, development bool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(deps.Metrics))
	if deps.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(deps.Tracer))
	}
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowOrigins...)))

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimit
	rl.Burst = 2 * cfg.RateLimit
	router.Use(middleware.RateLimit(rl))

	handlers := apihttp.NewHandlers(deps.Guider, deps.Process, deps.Metrics, deps.Version)
	stream := ws.NewHandler(deps.Guider.Loop(), nil, logger.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)

	router.GET("/telemetry/latest", handlers.LatestSample)
	router.GET("/telemetry/frame", handlers.LatestFrame)
	router.GET("/telemetry/history", handlers.History)
	router.DELETE("/telemetry/history", handlers.ClearHistory)
	router.GET("/telemetry/stream", stream.HandleConnection)

	if deps.Control != nil {
		control := apihttp.NewControlHandlers(deps.Control)
		g := router.Group("/guider")
		g.POST("/guiding/toggle", control.ToggleGuiding)
		g.POST("/looping/toggle", control.ToggleLooping)
		g.POST("/recalibrate", control.Recalibrate)
		g.POST("/calibration/clear", control.ClearCalibration)
		g.PUT("/exposure", control.SetExposure)
		g.POST("/click", control.Click)
		g.PUT("/camera", control.SelectCamera)
		g.PATCH("/settings", control.UpdateSettings)
		g.PUT("/meridian-flip", control.SetMeridianFlip)
		g.DELETE("/alerts/star-lost", control.ClearStarLostAlert)
	}

	router.GET("/traces", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"spans": deps.Tracer.Recent()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	return &Server{
		router: router,
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down status server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
