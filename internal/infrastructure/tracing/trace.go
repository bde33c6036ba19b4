package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QHYCCD-QUARCS/guidelink/internal/shared/id"
)

const (
	// DefaultBuffer is how many finished spans may wait for the collector.
	DefaultBuffer = 1000
	// DefaultKeep is how many recent spans Recent can return.
	DefaultKeep = 128
)

type (
	TraceID string
	SpanID  string
)

// Span is one timed step of a workflow or request.
type Span struct {
	TraceID   TraceID           `json:"trace_id"`
	SpanID    SpanID            `json:"span_id"`
	ParentID  SpanID            `json:"parent_id,omitempty"`
	Name      string            `json:"name"`
	Service   string            `json:"service"`
	StartTime time.Time         `json:"start_time"`
	Duration  time.Duration     `json:"duration"`
	Tags      map[string]string `json:"tags,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Finish stamps the duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

func (s *Span) SetTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// SetError keeps the message of a non-nil err.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.Error = err.Error()
}

func (s *Span) logFields() []zap.Field {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields,
		zap.String("name", s.Name),
		zap.String("trace", string(s.TraceID)),
		zap.String("span", string(s.SpanID)),
	)
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent", string(s.ParentID)))
	}
	fields = append(fields, zap.Duration("took", s.Duration))
	if s.Error != "" {
		fields = append(fields, zap.String("error", s.Error))
	}
	return fields
}

// Tracer hands out spans and logs them once submitted. A nil *Tracer is
// valid and records nothing.
type Tracer struct {
	service string
	logger  *zap.Logger
	queue   chan *Span
	stopped chan struct{}

	mu     sync.Mutex
	recent []*Span
	keep   int
	closed bool
}

// New creates a tracer and starts its collector.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracer{
		service: service,
		logger:  logger,
		queue:   make(chan *Span, DefaultBuffer),
		stopped: make(chan struct{}),
		keep:    DefaultKeep,
	}
	go t.collect()
	return t
}

// StartSpan opens a span under the trace carried by ctx, starting a new
// trace when ctx has none. The returned context makes the span the parent
// of later spans.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	parent := fromContext(ctx)
	if parent.trace == "" {
		parent.trace = TraceID(id.Default().Generate().String())
	}

	span := &Span{
		TraceID:   parent.trace,
		SpanID:    SpanID(id.Default().Generate().String()),
		ParentID:  parent.span,
		Name:      name,
		StartTime: time.Now(),
	}
	if t != nil {
		span.Service = t.service
	}

	return span, context.WithValue(ctx, linkKey{}, link{trace: span.TraceID, span: span.SpanID})
}

// End finishes the span with err and submits it.
func (t *Tracer) End(span *Span, err error) {
	span.SetError(err)
	span.Finish()
	t.Submit(span)
}

// Submit queues a finished span. It is dropped when the queue is full or
// the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	select {
	case t.queue <- span:
	default:
		t.logger.Warn("Trace queue full, span dropped", zap.String("name", span.Name))
	}
}

// Recent returns copies of the last collected spans, oldest first.
func (t *Tracer) Recent() []Span {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, 0, len(t.recent))
	for _, s := range t.recent {
		out = append(out, *s)
	}
	return out
}

// Close waits for queued spans to be collected. Later calls return at once.
func (t *Tracer) Close() {
	if t == nil {
		return
	}

	t.mu.Lock()
	first := !t.closed
	if first {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	<-t.stopped
}

func (t *Tracer) collect() {
	defer close(t.stopped)

	for span := range t.queue {
		if span.Error != "" {
			t.logger.Warn("Span failed", span.logFields()...)
		} else {
			t.logger.Debug("Span done", span.logFields()...)
		}
		t.remember(span)
	}
}

func (t *Tracer) remember(span *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recent = append(t.recent, span)
	if over := len(t.recent) - t.keep; over > 0 {
		t.recent = append(t.recent[:0:0], t.recent[over:]...)
	}
}

type linkKey struct{}

// link is what a context carries between spans.
type link struct {
	trace TraceID
	span  SpanID
}

func fromContext(ctx context.Context) link {
	l, _ := ctx.Value(linkKey{}).(link)
	return l
}

// GetTraceID returns the trace ctx belongs to, or "".
func GetTraceID(ctx context.Context) TraceID {
	return fromContext(ctx).trace
}

// GetSpanID returns the innermost span started on ctx, or "".
func GetSpanID(ctx context.Context) SpanID {
	return fromContext(ctx).span
}

// WithTrace returns ctx continuing the given trace under parent. Empty
// values leave what ctx already carries.
func WithTrace(ctx context.Context, traceID TraceID, parent SpanID) context.Context {
	l := fromContext(ctx)
	if traceID != "" {
		l.trace = traceID
	}
	if parent != "" {
		l.span = parent
	}
	if l == (link{}) {
		return ctx
	}
	return context.WithValue(ctx, linkKey{}, l)
}
