package config

import (
	"fmt"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable together with the section
// name, e.g. GUIDELINK_LOGGING_LOG_LEVEL. The bare tag (LOG_LEVEL) is accepted
// when the full name is unset.
const Prefix = "GUIDELINK"

// Config holds all application configuration.
type Config struct {
	Channel   ChannelConfig
	Process   ProcessConfig
	Command   CommandConfig
	Telemetry TelemetryConfig
	Relay     RelayConfig
	Mount     MountConfig
	Server    ServerConfig
	Logging   LogConfig
}

// ChannelConfig selects the shared segment.
type ChannelConfig struct {
	Key int `envconfig:"SHM_KEY" default:"0x90"`
	// InMemory backs the channel with process memory instead of System V.
	InMemory bool `envconfig:"SHM_IN_MEMORY" default:"false"`
}

// ProcessConfig describes the external autoguider.
type ProcessConfig struct {
	Name         string        `envconfig:"PROCESS_NAME" default:"phd2"`
	Path         string        `envconfig:"PROCESS_PATH" default:"phd2"`
	Args         []string      `envconfig:"PROCESS_ARGS"`
	StartTimeout time.Duration `envconfig:"PROCESS_START_TIMEOUT" default:"10s"`
	ProbeEvery   time.Duration `envconfig:"PROCESS_PROBE_INTERVAL" default:"10ms"`
	KillStale    bool          `envconfig:"PROCESS_KILL_STALE" default:"true"`
	Managed      bool          `envconfig:"PROCESS_MANAGED" default:"true"`
}

// CommandConfig tunes the request/response exchange.
type CommandConfig struct {
	Timeout          time.Duration `envconfig:"COMMAND_TIMEOUT" default:"500ms"`
	PollInterval     time.Duration `envconfig:"COMMAND_POLL_INTERVAL" default:"100us"`
	BreakerThreshold uint32        `envconfig:"COMMAND_BREAKER_THRESHOLD" default:"5"`
	BreakerTimeout   time.Duration `envconfig:"COMMAND_BREAKER_TIMEOUT" default:"5s"`
}

// TelemetryConfig tunes the telemetry loop.
type TelemetryConfig struct {
	Interval    time.Duration `envconfig:"TELEMETRY_INTERVAL" default:"10ms"`
	HistorySize int           `envconfig:"TELEMETRY_HISTORY" default:"500"`
	ProbeStatus bool          `envconfig:"TELEMETRY_PROBE_STATUS" default:"true"`
}

// RelayConfig tunes the pulse relay loop.
type RelayConfig struct {
	Interval     time.Duration `envconfig:"RELAY_INTERVAL" default:"5ms"`
	MeridianFlip bool          `envconfig:"RELAY_MERIDIAN_FLIP" default:"false"`
}

// MountConfig selects the mount controller.
type MountConfig struct {
	DryRun bool `envconfig:"MOUNT_DRY_RUN" default:"true"`
}

// ServerConfig holds the local status server configuration.
type ServerConfig struct {
	Enabled      bool     `envconfig:"SERVER_ENABLED" default:"true"`
	Host         string   `envconfig:"HOST" default:"127.0.0.1"`
	Port         string   `envconfig:"PORT" default:"8090"`
	AllowOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:8080"`
	RateLimit    int      `envconfig:"RATE_LIMIT_RPS" default:"50"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the protocol cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Command.Timeout <= 0:
		return fmt.Errorf("invalid config: command timeout must be positive")
	case c.Command.PollInterval <= 0 || c.Command.PollInterval > c.Command.Timeout:
		return fmt.Errorf("invalid config: poll interval %s outside (0, %s]", c.Command.PollInterval, c.Command.Timeout)
	case c.Telemetry.Interval <= 0 || c.Relay.Interval <= 0:
		return fmt.Errorf("invalid config: loop intervals must be positive")
	case c.Process.StartTimeout <= 0:
		return fmt.Errorf("invalid config: start timeout must be positive")
	}
	return nil
}

// Addr returns the status server listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Key: 0x90,
		},
		Process: ProcessConfig{
			Name:         "phd2",
			Path:         "phd2",
			StartTimeout: 10 * time.Second,
			ProbeEvery:   10 * time.Millisecond,
			KillStale:    true,
			Managed:      true,
		},
		Command: CommandConfig{
			Timeout:          500 * time.Millisecond,
			PollInterval:     100 * time.Microsecond,
			BreakerThreshold: 5,
			BreakerTimeout:   5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Interval:    10 * time.Millisecond,
			HistorySize: 500,
			ProbeStatus: true,
		},
		Relay: RelayConfig{
			Interval: 5 * time.Millisecond,
		},
		Mount: MountConfig{
			DryRun: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         "8090",
			AllowOrigins: []string{"http://localhost:8080"},
			RateLimit:    50,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
