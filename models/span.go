package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SpanStatus indicates how a recorded interval ended
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Span is one recorded function-boundary interval, optionally nested under
// a parent span of the same trace.
type Span struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TraceID      uuid.UUID       `json:"trace_id" db:"trace_id"`
	ParentID     *uuid.UUID      `json:"parent_id,omitempty" db:"parent_id"`
	Name         string          `json:"name" db:"name"`
	Input        json.RawMessage `json:"input,omitempty" db:"input"`
	Output       json.RawMessage `json:"output,omitempty" db:"output"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Status       SpanStatus      `json:"status" db:"status"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	EndedAt      time.Time       `json:"ended_at" db:"ended_at"`
	DurationMs   int64           `json:"duration_ms" db:"duration_ms"`
}

// TableName returns the table name for the Span model
func (Span) TableName() string {
	return "spans"
}

// NewSpan creates a started span. EndedAt and DurationMs are filled in by
// Finish (or by the caller) once the interval closes.
func NewSpan(traceID uuid.UUID, parentID *uuid.UUID, name string) *Span {
	return &Span{
		ID:        uuid.New(),
		TraceID:   traceID,
		ParentID:  parentID,
		Name:      name,
		Status:    SpanStatusOK,
		StartedAt: time.Now(),
	}
}

// Finish closes the span, stamping end time and duration. A non-nil err
// marks the span failed and records the message.
func (s *Span) Finish(err error) {
	s.EndedAt = time.Now()
	s.DurationMs = s.EndedAt.Sub(s.StartedAt).Milliseconds()
	if err != nil {
		s.Status = SpanStatusError
		msg := err.Error()
		s.ErrorMessage = &msg
	}
}

// WithInput attaches serialized call inputs to the span
func (s *Span) WithInput(input json.RawMessage) *Span {
	s.Input = input
	return s
}

// WithOutput attaches serialized call outputs to the span
func (s *Span) WithOutput(output json.RawMessage) *Span {
	s.Output = output
	return s
}

// WithMetadata attaches arbitrary metadata to the span
func (s *Span) WithMetadata(metadata json.RawMessage) *Span {
	s.Metadata = metadata
	return s
}
