package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"go.uber.org/zap"
)

// TraceRepository implements the repositories.TraceRepository interface
type TraceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTraceRepository creates a new trace repository
func NewTraceRepository(db *DB, logger *zap.Logger) repositories.TraceRepository {
	return &TraceRepository{
		db:     db,
		logger: logger,
	}
}

// InsertSpan inserts a completed span
func (r *TraceRepository) InsertSpan(ctx context.Context, span *models.Span) error {
	query := `
		INSERT INTO spans (id, trace_id, parent_id, name, input, output, metadata,
			status, error_message, started_at, ended_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		span.ID,
		span.TraceID,
		span.ParentID,
		span.Name,
		nullableJSON(span.Input),
		nullableJSON(span.Output),
		nullableJSON(span.Metadata),
		span.Status,
		span.ErrorMessage,
		span.StartedAt,
		span.EndedAt,
		span.DurationMs,
	)

	if err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}

	r.logger.Debug("span inserted",
		zap.String("id", span.ID.String()),
		zap.String("trace_id", span.TraceID.String()))
	return nil
}

// GetByTraceID retrieves all spans of a trace, parents before children
func (r *TraceRepository) GetByTraceID(ctx context.Context, traceID uuid.UUID) ([]*models.Span, error) {
	query := `
		SELECT id, trace_id, parent_id, name, input, output, metadata,
			status, error_message, started_at, ended_at, duration_ms
		FROM spans
		WHERE trace_id = $1
		ORDER BY started_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer rows.Close()

	var spans []*models.Span
	for rows.Next() {
		span := &models.Span{}
		err := rows.Scan(
			&span.ID,
			&span.TraceID,
			&span.ParentID,
			&span.Name,
			&span.Input,
			&span.Output,
			&span.Metadata,
			&span.Status,
			&span.ErrorMessage,
			&span.StartedAt,
			&span.EndedAt,
			&span.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		spans = append(spans, span)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating span rows: %w", err)
	}

	return spans, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *TraceRepository) WithTx(tx repositories.Transaction) repositories.TraceRepository {
	return &TraceRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// nullableJSON maps an empty RawMessage to SQL NULL
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
