// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Output goes to stderr so the binary's stdout stays free.
//
// Each guider component takes a *zap.Logger named after itself
// ("command", "telemetry", "relay", "supervisor"). Log sites that run on the
// 5 ms and 10 ms loops go through a Throttle.
//
// Example Usage:
//
//	logger, _ := logging.New(logging.DefaultConfig())
//	relayLog := logger.Component("relay")
//	relayLog.Info("Pulse relayed", zap.Int("direction", 2))
//
//	warn := logging.NewThrottle(relayLog, time.Second, 5)
//	warn.Warn("Mount disconnected", zap.Error(err))
package logging
