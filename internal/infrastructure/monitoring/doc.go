/*
Package monitoring provides Prometheus metrics for the guider link.

# Overview

Metrics cover the three protocols sharing the segment: command round trips
per opcode, telemetry samples and skipped ticks, relayed pulses and their
acknowledgements. Process supervision and the local status server are
tracked as well.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	timer := monitoring.NewTimer(metrics, op.String())
	resp, err := send(op, payload)
	timer.Stop(monitoring.StatusOf(err, protocol.ErrTimeout, protocol.ErrProcessUnavailable))

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

A nil *Metrics records nothing.
*/
package monitoring
