package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/middleware"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/services"
	"github.com/lumetrace/lumetrace/utils"
	"go.uber.org/zap"
)

// SpanIngestRequest represents a batch of completed spans to ingest
type SpanIngestRequest struct {
	Spans []SpanPayload `json:"spans" validate:"required,min=1,dive"`
}

// SpanPayload is one client-reported span
type SpanPayload struct {
	ID           *uuid.UUID      `json:"id,omitempty"`
	TraceID      uuid.UUID       `json:"trace_id" validate:"required"`
	ParentID     *uuid.UUID      `json:"parent_id,omitempty"`
	Name         string          `json:"name" validate:"required"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Status       string          `json:"status,omitempty" validate:"omitempty,oneof=ok error"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at" validate:"required"`
	EndedAt      time.Time       `json:"ended_at" validate:"required"`
}

// SpanIngestResponse reports how many spans were accepted
type SpanIngestResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// TraceResponse represents a full trace in API responses
type TraceResponse struct {
	TraceID uuid.UUID      `json:"trace_id"`
	Spans   []*models.Span `json:"spans"`
}

// TraceCollector defines the interface for span collection operations
type TraceCollector interface {
	// Record enqueues a span for asynchronous persistence
	Record(span *models.Span) error

	// GetTrace retrieves all spans of a trace
	GetTrace(ctx context.Context, traceID uuid.UUID) ([]*models.Span, error)
}

// TraceHandler handles trace collection HTTP requests
type TraceHandler struct {
	collector TraceCollector
	logger    *zap.Logger
}

// NewTraceHandler creates a new TraceHandler
func NewTraceHandler(collector TraceCollector, logger *zap.Logger) *TraceHandler {
	return &TraceHandler{
		collector: collector,
		logger:    logger,
	}
}

// HandleIngestSpans handles POST /api/v1/traces/spans
// Accepts a batch of completed spans and enqueues them; persistence is
// asynchronous, so the response is 202 Accepted
func (h *TraceHandler) HandleIngestSpans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req SpanIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	accepted, dropped := 0, 0
	for i := range req.Spans {
		span, err := payloadToSpan(&req.Spans[i])
		if err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), map[string]interface{}{"index": i})
			return
		}
		if err := h.collector.Record(span); err != nil {
			dropped++
			continue
		}
		accepted++
	}

	h.logger.Info("spans ingested",
		zap.String("request_id", requestID),
		zap.Int("accepted", accepted),
		zap.Int("dropped", dropped))

	_ = utils.WriteAccepted(w, SpanIngestResponse{
		Accepted: accepted,
		Dropped:  dropped,
	})
}

// HandleGetTrace handles GET /api/v1/traces/{traceID}
func (h *TraceHandler) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	traceID, err := uuid.Parse(chi.URLParam(r, "traceID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid trace ID format", nil)
		return
	}

	spans, err := h.collector.GetTrace(ctx, traceID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if len(spans) == 0 {
		HandleServiceError(w, services.ErrTraceNotFound, h.logger)
		return
	}

	_ = utils.WriteOK(w, TraceResponse{
		TraceID: traceID,
		Spans:   spans,
	})
}

// payloadToSpan converts a client-reported span into the storage model
func payloadToSpan(p *SpanPayload) (*models.Span, error) {
	if p.EndedAt.Before(p.StartedAt) {
		return nil, &queryError{"span ended before it started"}
	}

	id := uuid.New()
	if p.ID != nil {
		id = *p.ID
	}

	status := models.SpanStatusOK
	if p.Status != "" {
		status = models.SpanStatus(p.Status)
	}

	return &models.Span{
		ID:           id,
		TraceID:      p.TraceID,
		ParentID:     p.ParentID,
		Name:         p.Name,
		Input:        p.Input,
		Output:       p.Output,
		Metadata:     p.Metadata,
		Status:       status,
		ErrorMessage: p.ErrorMessage,
		StartedAt:    p.StartedAt,
		EndedAt:      p.EndedAt,
		DurationMs:   p.EndedAt.Sub(p.StartedAt).Milliseconds(),
	}, nil
}
