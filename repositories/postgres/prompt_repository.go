package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/lumetrace/lumetrace/services"
	"go.uber.org/zap"
)

// uniqueViolation is the postgres error code for a duplicate primary key
const uniqueViolation = "23505"

// PromptRepository implements the repositories.PromptRepository interface
type PromptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPromptRepository creates a new prompt repository
func NewPromptRepository(db *DB, logger *zap.Logger) repositories.PromptRepository {
	return &PromptRepository{
		db:     db,
		logger: logger,
	}
}

// InsertVersion stores a new immutable prompt version
func (r *PromptRepository) InsertVersion(ctx context.Context, prompt *models.Prompt) error {
	query := `
		INSERT INTO prompt_versions (name, version, type, body, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	body, err := prompt.Body.MarshalBody(prompt.Type)
	if err != nil {
		return fmt.Errorf("failed to encode prompt body: %w", err)
	}

	var config interface{}
	if len(prompt.Config) > 0 {
		config = []byte(prompt.Config)
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		prompt.Name,
		prompt.Version,
		prompt.Type,
		[]byte(body),
		config,
		prompt.CreatedAt,
	)

	if err != nil {
		// Two transactions racing on the same name allocate the same next
		// version; the (name, version) primary key rejects the loser.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return services.ErrConcurrentCreate
		}
		return fmt.Errorf("failed to insert prompt version: %w", err)
	}

	r.logger.Debug("prompt version inserted",
		zap.String("name", prompt.Name),
		zap.Int("version", prompt.Version))
	return nil
}

// GetByVersion retrieves one exact version of a name
func (r *PromptRepository) GetByVersion(ctx context.Context, name string, version int) (*models.Prompt, error) {
	query := `
		SELECT name, version, type, body, config, created_at
		FROM prompt_versions
		WHERE name = $1 AND version = $2
	`

	executor := GetExecutor(ctx, r.db)
	prompt, err := r.scanPrompt(executor.QueryRowContext(ctx, query, name, version))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get prompt version: %w", err)
	}

	if err := r.attachLabels(ctx, prompt); err != nil {
		return nil, err
	}

	return prompt, nil
}

// GetByLabel resolves a label to its current version of a name
func (r *PromptRepository) GetByLabel(ctx context.Context, name string, label string) (*models.Prompt, error) {
	query := `
		SELECT v.name, v.version, v.type, v.body, v.config, v.created_at
		FROM prompt_versions v
		JOIN prompt_labels l ON l.name = v.name AND l.version = v.version
		WHERE l.name = $1 AND l.label = $2
	`

	executor := GetExecutor(ctx, r.db)
	prompt, err := r.scanPrompt(executor.QueryRowContext(ctx, query, name, label))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrLabelNotFound
		}
		return nil, fmt.Errorf("failed to get prompt by label: %w", err)
	}

	if err := r.attachLabels(ctx, prompt); err != nil {
		return nil, err
	}

	return prompt, nil
}

// LatestVersion returns the highest version number for a name, 0 when none exist
func (r *PromptRepository) LatestVersion(ctx context.Context, name string) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE name = $1`

	executor := GetExecutor(ctx, r.db)
	var latest int
	if err := executor.QueryRowContext(ctx, query, name).Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to get latest version: %w", err)
	}

	return latest, nil
}

// VersionExists reports whether (name, version) exists
func (r *PromptRepository) VersionExists(ctx context.Context, name string, version int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM prompt_versions WHERE name = $1 AND version = $2)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, name, version).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check version existence: %w", err)
	}

	return exists, nil
}

// LabelExists reports whether any version of name carries the label
func (r *PromptRepository) LabelExists(ctx context.Context, name string, label string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM prompt_labels WHERE name = $1 AND label = $2)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, name, label).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check label existence: %w", err)
	}

	return exists, nil
}

// MoveLabel points label at version, detaching it from any previous holder.
// The (name, label) primary key makes this an upsert: a label held by an
// older version is repointed, a new label is attached.
func (r *PromptRepository) MoveLabel(ctx context.Context, name string, label string, version int) error {
	query := `
		INSERT INTO prompt_labels (name, label, version, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (name, label)
		DO UPDATE SET version = EXCLUDED.version, updated_at = CURRENT_TIMESTAMP
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, name, label, version); err != nil {
		return fmt.Errorf("failed to move label: %w", err)
	}

	r.logger.Debug("label moved",
		zap.String("name", name),
		zap.String("label", label),
		zap.Int("version", version))
	return nil
}

// List returns a summary row per name with its newest version and labels
func (r *PromptRepository) List(ctx context.Context) ([]*models.PromptSummary, error) {
	query := `
		SELECT name, MAX(version)
		FROM prompt_versions
		GROUP BY name
		ORDER BY name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var summaries []*models.PromptSummary
	index := make(map[string]*models.PromptSummary)
	for rows.Next() {
		summary := &models.PromptSummary{}
		if err := rows.Scan(&summary.Name, &summary.LatestVersion); err != nil {
			return nil, fmt.Errorf("failed to scan prompt summary: %w", err)
		}
		summaries = append(summaries, summary)
		index[summary.Name] = summary
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt rows: %w", err)
	}

	labelQuery := `SELECT name, label FROM prompt_labels ORDER BY name, label`
	labelRows, err := executor.QueryContext(ctx, labelQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer labelRows.Close()

	for labelRows.Next() {
		var name, label string
		if err := labelRows.Scan(&name, &label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		if summary, ok := index[name]; ok {
			summary.Labels = append(summary.Labels, label)
		}
	}

	if err := labelRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating label rows: %w", err)
	}

	return summaries, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *PromptRepository) WithTx(tx repositories.Transaction) repositories.PromptRepository {
	return &PromptRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// rowScanner abstracts *sql.Row for single-row scans
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPrompt scans one prompt version row, decoding the JSONB body
func (r *PromptRepository) scanPrompt(row rowScanner) (*models.Prompt, error) {
	prompt := &models.Prompt{}
	var rawBody []byte
	var rawConfig sql.NullString

	err := row.Scan(
		&prompt.Name,
		&prompt.Version,
		&prompt.Type,
		&rawBody,
		&rawConfig,
		&prompt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	body, err := models.UnmarshalBody(prompt.Type, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to decode prompt body: %w", err)
	}
	prompt.Body = body

	if rawConfig.Valid {
		prompt.Config = json.RawMessage(rawConfig.String)
	}

	return prompt, nil
}

// attachLabels loads the labels currently pointing at the prompt's version
func (r *PromptRepository) attachLabels(ctx context.Context, prompt *models.Prompt) error {
	query := `
		SELECT label FROM prompt_labels
		WHERE name = $1 AND version = $2
		ORDER BY label
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, prompt.Name, prompt.Version)
	if err != nil {
		return fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return fmt.Errorf("failed to scan label: %w", err)
		}
		prompt.Labels = append(prompt.Labels, label)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating label rows: %w", err)
	}

	return nil
}
