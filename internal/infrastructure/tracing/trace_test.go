package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanJoinsTrace(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.NotEmpty(t, root.TraceID)
	assert.Empty(t, root.ParentID)
	assert.Equal(t, root.TraceID, GetTraceID(ctx))
	assert.Equal(t, root.SpanID, GetSpanID(ctx))

	child, _ := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func TestWithTrace(t *testing.T) {
	ctx := WithTrace(context.Background(), "t1", "s1")
	assert.Equal(t, TraceID("t1"), GetTraceID(ctx))
	assert.Equal(t, SpanID("s1"), GetSpanID(ctx))

	ctx = WithTrace(context.Background(), "", "")
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
}

func TestRecent(t *testing.T) {
	tracer := New("test", nil)
	tracer.keep = 2

	for _, name := range []string{"a", "b", "c"} {
		span, _ := tracer.StartSpan(context.Background(), name)
		tracer.End(span, nil)
	}
	failed, _ := tracer.StartSpan(context.Background(), "d")
	tracer.End(failed, errors.New("boom"))
	tracer.Close()

	spans := tracer.Recent()
	require.Len(t, spans, 2)
	assert.Equal(t, "c", spans[0].Name)
	assert.Equal(t, "d", spans[1].Name)
	assert.Equal(t, "boom", spans[1].Error)
	assert.Equal(t, "test", spans[1].Service)

	// Submitting after Close is a no-op.
	late, _ := tracer.StartSpan(context.Background(), "late")
	tracer.End(late, nil)
	assert.Len(t, tracer.Recent(), 2)
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer

	span, ctx := tracer.StartSpan(context.Background(), "op")
	assert.NotEmpty(t, span.TraceID)
	assert.Equal(t, span.SpanID, GetSpanID(ctx))

	tracer.End(span, nil)
	tracer.Close()
	assert.Nil(t, tracer.Recent())
}
