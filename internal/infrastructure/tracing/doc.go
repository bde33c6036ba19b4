/*
Package tracing records lightweight spans for guiding workflows and status
requests.

# Overview

A span covers one operation: a recalibration step, a toggle, an HTTP
request. Spans started from a context that already carries a trace join
it as children. Finished spans are logged through zap by a background
collector and the most recent ones are kept for inspection.

# Usage

	tracer := tracing.New("guidelink", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "recalibrate")
	err := work(ctx)
	tracer.End(span, err)

# Propagation

HTTPMiddleware continues a trace named by the X-Trace-ID and X-Span-ID
request headers and echoes the ids of its own span in the response.
*/
package tracing
