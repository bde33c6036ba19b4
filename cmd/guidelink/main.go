package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/QHYCCD-QUARCS/guidelink/internal/app"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/config"
	"github.com/QHYCCD-QUARCS/guidelink/internal/infrastructure/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment.
	shmKey := flag.String("shm-key", fmt.Sprintf("0x%x", cfg.Channel.Key), "System V key of the shared segment")
	inMemory := flag.Bool("in-memory", cfg.Channel.InMemory, "Use an in-process segment (no autoguider)")
	procPath := flag.String("phd2", cfg.Process.Path, "Autoguider executable")
	unmanaged := flag.Bool("unmanaged", !cfg.Process.Managed, "Attach to an autoguider started elsewhere")
	port := flag.String("port", cfg.Server.Port, "Status server port")
	noServer := flag.Bool("no-server", !cfg.Server.Enabled, "Disable the status server")
	flip := flag.Bool("meridian-flip", cfg.Relay.MeridianFlip, "Swap north and south pulses")
	level := flag.String("log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (console logs, debug level)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(app.Version)
		return
	}

	key, err := strconv.ParseInt(*shmKey, 0, 32)
	if err != nil {
		log.Fatalf("Invalid -shm-key %q: %v", *shmKey, err)
	}
	cfg.Channel.Key = int(key)
	cfg.Channel.InMemory = *inMemory
	cfg.Process.Path = *procPath
	cfg.Process.Managed = !*unmanaged
	cfg.Server.Port = *port
	cfg.Server.Enabled = !*noServer
	cfg.Relay.MeridianFlip = *flip
	cfg.Logging.Level = *level
	cfg.Logging.Development = *dev

	if err := run(cfg); err != nil {
		log.Fatalf("guidelink: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger, err := logging.New(logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting guidelink",
		zap.String("version", app.Version),
		zap.String("shm_key", fmt.Sprintf("0x%x", cfg.Channel.Key)),
		zap.Bool("managed", cfg.Process.Managed),
		zap.Bool("in_memory", cfg.Channel.InMemory),
	)

	a, err := app.New(cfg, logger.Logger)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go toggleDebug(ctx, logger, cfg.Logging.Level)

	if err := a.Run(ctx); err != nil {
		logger.Error("Guidelink stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Shut down gracefully")
	return nil
}

// toggleDebug flips between debug and the configured level on SIGUSR1.
func toggleDebug(ctx context.Context, logger *logging.Logger, base string) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			next := "debug"
			if logger.Level() == zapcore.DebugLevel {
				next = base
			}
			if err := logger.SetLevel(next); err != nil {
				logger.Warn("Failed to change log level", zap.Error(err))
				continue
			}
			logger.Info("Log level changed", zap.Stringer("level", logger.Level()))
		}
	}
}
