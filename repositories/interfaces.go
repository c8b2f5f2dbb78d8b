package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/lumetrace/lumetrace/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// PromptRepository handles versioned prompt template storage.
//
// Version rows are immutable: InsertVersion only ever adds rows, and the
// (name, version) primary key rejects duplicates. Labels live in a separate
// single-holder index so that moving a label is a plain upsert.
type PromptRepository interface {
	// InsertVersion stores a new immutable prompt version
	InsertVersion(ctx context.Context, prompt *models.Prompt) error

	// GetByVersion retrieves one exact version of a name
	GetByVersion(ctx context.Context, name string, version int) (*models.Prompt, error)

	// GetByLabel resolves a label to its current version of a name
	GetByLabel(ctx context.Context, name string, label string) (*models.Prompt, error)

	// LatestVersion returns the highest version number for a name, 0 when none exist
	LatestVersion(ctx context.Context, name string) (int, error)

	// VersionExists reports whether (name, version) exists
	VersionExists(ctx context.Context, name string, version int) (bool, error)

	// LabelExists reports whether any version of name carries the label
	LabelExists(ctx context.Context, name string, label string) (bool, error)

	// MoveLabel points label at version, detaching it from any previous holder
	MoveLabel(ctx context.Context, name string, label string, version int) error

	// List returns a summary row per name with its newest version and labels
	List(ctx context.Context) ([]*models.PromptSummary, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) PromptRepository
}

// TraceRepository handles span persistence
type TraceRepository interface {
	// InsertSpan inserts a completed span
	InsertSpan(ctx context.Context, span *models.Span) error

	// GetByTraceID retrieves all spans of a trace, parents before children
	GetByTraceID(ctx context.Context, traceID uuid.UUID) ([]*models.Span, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) TraceRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Prompts PromptRepository
	Traces  TraceRepository
}
