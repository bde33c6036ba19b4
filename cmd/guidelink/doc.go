// Package main is the entry point for the guidelink bridge.
//
// guidelink launches the PHD2 autoguider, shares a System V memory segment
// with it, relays its guide pulses to the mount and exposes the guiding
// telemetry on a local status server.
//
// Configuration:
//   - Environment variables (GUIDELINK_ prefix)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Launch and supervise phd2
//	./guidelink -phd2 /usr/bin/phd2
//
//	# Attach to an autoguider that is already running
//	./guidelink -unmanaged -shm-key 0x90
//
//	# Development mode (console logs, debug level)
//	./guidelink -dev -in-memory
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
//   - SIGUSR1: Toggle debug logging
package main
