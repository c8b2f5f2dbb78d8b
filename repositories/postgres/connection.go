package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/lumetrace/lumetrace/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Immutable prompt versions. A row is written once on create and
		-- never updated; the composite key allocates version uniqueness.
		CREATE TABLE IF NOT EXISTS prompt_versions (
			name VARCHAR(255) NOT NULL,
			version INTEGER NOT NULL,
			type VARCHAR(10) NOT NULL,
			body JSONB NOT NULL,
			config JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (name, version)
		);

		-- Movable label pointers. The primary key guarantees a label points
		-- to exactly one version per name at any instant.
		CREATE TABLE IF NOT EXISTS prompt_labels (
			name VARCHAR(255) NOT NULL,
			label VARCHAR(100) NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (name, label),
			FOREIGN KEY (name, version) REFERENCES prompt_versions(name, version) ON DELETE CASCADE
		);

		-- Completed trace spans
		CREATE TABLE IF NOT EXISTS spans (
			id UUID PRIMARY KEY,
			trace_id UUID NOT NULL,
			parent_id UUID,
			name VARCHAR(255) NOT NULL,
			input JSONB,
			output JSONB,
			metadata JSONB,
			status VARCHAR(20) NOT NULL,
			error_message TEXT,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_prompt_labels_name ON prompt_labels(name);
		CREATE INDEX IF NOT EXISTS idx_prompt_versions_created_at ON prompt_versions(created_at);
		CREATE INDEX IF NOT EXISTS idx_spans_trace_id ON spans(trace_id);
		CREATE INDEX IF NOT EXISTS idx_spans_started_at ON spans(started_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
