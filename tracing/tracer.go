// Package tracing provides explicit scoped instrumentation: a caller opens
// a span around a call region and closes it on every exit path, with
// parent/child nesting carried through context.Context rather than inferred
// from the call stack.
package tracing

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/models"
	"go.uber.org/zap"
)

// Recorder accepts completed spans. The trace collector service implements
// it server-side; a remote client would implement it over HTTP.
type Recorder interface {
	Record(span *models.Span) error
}

// Tracer creates spans bound to a Recorder
type Tracer struct {
	recorder Recorder
	logger   *zap.Logger
}

// NewTracer creates a new Tracer
func NewTracer(recorder Recorder, logger *zap.Logger) *Tracer {
	return &Tracer{
		recorder: recorder,
		logger:   logger,
	}
}

// spanContextKey is the context key carrying the active span
type spanContextKey struct{}

// Span is one open instrumentation interval. End (or EndWithError) must be
// called exactly once; extra calls are ignored so deferred End is safe next
// to an explicit error-path EndWithError.
type Span struct {
	model  *models.Span
	tracer *Tracer
	once   sync.Once
}

// StartSpan opens a span named name. When the context already carries a
// span, the new one nests under it and shares its trace ID; otherwise a new
// trace begins. The returned context carries the new span for children.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	var traceID uuid.UUID
	var parentID *uuid.UUID

	if parent, ok := FromContext(ctx); ok {
		traceID = parent.model.TraceID
		id := parent.model.ID
		parentID = &id
	} else {
		traceID = uuid.New()
	}

	span := &Span{
		model:  models.NewSpan(traceID, parentID, name),
		tracer: t,
	}

	return context.WithValue(ctx, spanContextKey{}, span), span
}

// FromContext returns the active span carried by the context, if any
func FromContext(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(spanContextKey{}).(*Span)
	return span, ok
}

// TraceID returns the trace this span belongs to
func (s *Span) TraceID() uuid.UUID {
	return s.model.TraceID
}

// SpanID returns this span's identifier
func (s *Span) SpanID() uuid.UUID {
	return s.model.ID
}

// SetInput attaches serialized call inputs to the span. Values that fail to
// serialize are dropped with a log line rather than failing the caller.
func (s *Span) SetInput(v interface{}) {
	if raw, err := marshal(v); err != nil {
		s.tracer.logger.Warn("failed to serialize span input", zap.Error(err), zap.String("span", s.model.Name))
	} else {
		s.model.Input = raw
	}
}

// SetOutput attaches serialized call outputs to the span
func (s *Span) SetOutput(v interface{}) {
	if raw, err := marshal(v); err != nil {
		s.tracer.logger.Warn("failed to serialize span output", zap.Error(err), zap.String("span", s.model.Name))
	} else {
		s.model.Output = raw
	}
}

// SetMetadata attaches arbitrary metadata to the span
func (s *Span) SetMetadata(v interface{}) {
	if raw, err := marshal(v); err != nil {
		s.tracer.logger.Warn("failed to serialize span metadata", zap.Error(err), zap.String("span", s.model.Name))
	} else {
		s.model.Metadata = raw
	}
}

// End closes the span successfully and hands it to the recorder
func (s *Span) End() {
	s.end(nil)
}

// EndWithError closes the span as failed. A nil err behaves like End.
func (s *Span) EndWithError(err error) {
	s.end(err)
}

func (s *Span) end(err error) {
	s.once.Do(func() {
		s.model.Finish(err)
		if recErr := s.tracer.recorder.Record(s.model); recErr != nil {
			s.tracer.logger.Warn("failed to record span",
				zap.Error(recErr),
				zap.String("span", s.model.Name),
				zap.String("trace_id", s.model.TraceID.String()))
		}
	})
}

func marshal(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
