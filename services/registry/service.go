// Package registry implements the versioned prompt template registry:
// immutable version allocation, movable label pointers and template
// compilation. Storage is abstracted behind repositories.PromptRepository;
// the registry owns the semantics, not the persistence.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumetrace/lumetrace/internal/template"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/lumetrace/lumetrace/services"
	"go.uber.org/zap"
)

// Config holds configuration for the registry service
type Config struct {
	// DefaultLabel is resolved when a fetch names neither label nor version
	DefaultLabel string

	// StrictCompile makes Compile fail on unresolved placeholders instead
	// of passing them through
	StrictCompile bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		DefaultLabel:  models.LabelProduction,
		StrictCompile: false,
	}
}

// Service manages named, versioned prompt templates
type Service struct {
	prompts   repositories.PromptRepository
	txManager repositories.TransactionManager
	logger    *zap.Logger
	config    Config
}

// NewService creates a new registry service
func NewService(prompts repositories.PromptRepository, txManager repositories.TransactionManager, logger *zap.Logger, config Config) *Service {
	if config.DefaultLabel == "" {
		config.DefaultLabel = models.LabelProduction
	}
	return &Service{
		prompts:   prompts,
		txManager: txManager,
		logger:    logger,
		config:    config,
	}
}

// CreateInput describes a new template version to store
type CreateInput struct {
	Name   string
	Type   models.PromptType
	Body   models.PromptBody
	Labels []string
	Config json.RawMessage
}

// Create allocates the next version number for the name (1 when none exist),
// stores the body and config immutably under it and points the requested
// labels at it, detaching each from whichever version held it before. The
// built-in "latest" label always moves to the new version. The whole
// operation runs in one transaction: it fully applies or leaves no trace.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Prompt, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	prompt := &models.Prompt{
		Name:      in.Name,
		Type:      in.Type,
		Body:      in.Body,
		Config:    in.Config,
		CreatedAt: time.Now().UTC(),
	}

	labels := withLatest(in.Labels)

	err := s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		latest, err := s.prompts.LatestVersion(txCtx, in.Name)
		if err != nil {
			return services.WrapInternal("failed to determine next version", err)
		}
		prompt.Version = latest + 1

		if err := s.prompts.InsertVersion(txCtx, prompt); err != nil {
			return services.WrapInternal("failed to store prompt version", err)
		}

		for _, label := range labels {
			if err := s.prompts.MoveLabel(txCtx, in.Name, label, prompt.Version); err != nil {
				return services.WrapInternal("failed to attach label", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	prompt.Labels = labels

	s.logger.Info("prompt version created",
		zap.String("name", prompt.Name),
		zap.Int("version", prompt.Version),
		zap.String("type", string(prompt.Type)),
		zap.Strings("labels", labels))

	return prompt, nil
}

// GetOptions selects which version of a name to fetch. A positive Version
// pins that exact version and ignores Label entirely; otherwise Label is
// resolved, falling back to the configured default label when empty.
type GetOptions struct {
	Label   string
	Version int
}

// Get fetches one version of a named template
func (s *Service) Get(ctx context.Context, name string, opts GetOptions) (*models.Prompt, error) {
	if name == "" {
		return nil, services.ErrEmptyPromptName
	}

	if opts.Version > 0 {
		return s.prompts.GetByVersion(ctx, name, opts.Version)
	}

	label := opts.Label
	if label == "" {
		label = s.config.DefaultLabel
	}

	return s.prompts.GetByLabel(ctx, name, label)
}

// UpdateLabels moves each of newLabels to the given version, detaching it
// from any previous holder. The built-in latest label is reserved and cannot
// be moved by callers. Fails without mutating anything when the version does
// not exist.
func (s *Service) UpdateLabels(ctx context.Context, name string, version int, newLabels []string) error {
	if name == "" {
		return services.ErrEmptyPromptName
	}
	if len(newLabels) == 0 {
		return services.ErrEmptyLabel
	}
	for _, label := range newLabels {
		if label == "" {
			return services.ErrEmptyLabel
		}
		if label == models.LabelLatest {
			return services.ErrReservedLabel
		}
	}

	exists, err := s.prompts.VersionExists(ctx, name, version)
	if err != nil {
		return services.WrapInternal("failed to check version existence", err)
	}
	if !exists {
		return services.ErrVersionNotFound
	}

	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		for _, label := range newLabels {
			if err := s.prompts.MoveLabel(txCtx, name, label, version); err != nil {
				return services.WrapInternal("failed to move label", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("labels updated",
		zap.String("name", name),
		zap.Int("version", version),
		zap.Strings("labels", newLabels))

	return nil
}

// Exists reports whether Get(name, label) would succeed. A missing name or
// label is a false result, not an error; only storage failures surface.
func (s *Service) Exists(ctx context.Context, name string, label string) (bool, error) {
	if name == "" {
		return false, nil
	}
	if label == "" {
		label = s.config.DefaultLabel
	}

	exists, err := s.prompts.LabelExists(ctx, name, label)
	if err != nil {
		return false, services.WrapInternal("failed to check prompt existence", err)
	}

	return exists, nil
}

// List returns a summary per template name
func (s *Service) List(ctx context.Context) ([]*models.PromptSummary, error) {
	summaries, err := s.prompts.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list prompts", err)
	}
	return summaries, nil
}

// Compiled is the result of substituting variables into a template body.
// Text is set for text templates, Messages for chat templates.
type Compiled struct {
	Type     models.PromptType    `json:"type"`
	Text     string               `json:"text,omitempty"`
	Messages []models.ChatMessage `json:"messages,omitempty"`
}

// Compile substitutes {{variable}} placeholders in the prompt body with
// caller-supplied values. Unmatched placeholders are left untouched unless
// the service runs in strict mode, which fails listing the unresolved names.
// Chat bodies are compiled message by message, preserving order and roles.
func (s *Service) Compile(prompt *models.Prompt, variables map[string]interface{}) (*Compiled, error) {
	opts := template.Options{Strict: s.config.StrictCompile}
	out := &Compiled{Type: prompt.Type}

	switch prompt.Type {
	case models.PromptTypeText:
		compiled, err := template.Compile(prompt.Body.Text, variables, opts)
		if err != nil {
			return nil, missingVariableError(err)
		}
		out.Text = compiled

	case models.PromptTypeChat:
		out.Messages = make([]models.ChatMessage, len(prompt.Body.Messages))
		for i, msg := range prompt.Body.Messages {
			compiled, err := template.Compile(msg.Content, variables, opts)
			if err != nil {
				return nil, missingVariableError(err)
			}
			out.Messages[i] = models.ChatMessage{Role: msg.Role, Content: compiled}
		}

	default:
		return nil, services.ErrInvalidPromptType
	}

	return out, nil
}

// validateCreate checks a CreateInput before any storage work
func validateCreate(in CreateInput) error {
	if in.Name == "" {
		return services.ErrEmptyPromptName
	}

	switch in.Type {
	case models.PromptTypeText:
		// Empty text is allowed; the registry does not interpret bodies.
	case models.PromptTypeChat:
		if len(in.Body.Messages) == 0 {
			return services.ErrEmptyChatBody
		}
		for i, msg := range in.Body.Messages {
			if msg.Role == "" || msg.Content == "" {
				return services.NewDomainError(services.ErrorTypeValidation, "chat message requires both role and content", nil).
					WithDetail("index", i)
			}
		}
	default:
		return services.NewDomainError(services.ErrorTypeValidation, "prompt type must be text or chat", nil).
			WithDetail("type", string(in.Type))
	}

	for _, label := range in.Labels {
		if label == "" {
			return services.ErrEmptyLabel
		}
	}

	return nil
}

// withLatest appends the built-in latest label, deduplicating
func withLatest(labels []string) []string {
	out := make([]string, 0, len(labels)+1)
	seen := make(map[string]struct{}, len(labels)+1)
	for _, label := range append(append([]string{}, labels...), models.LabelLatest) {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// missingVariableError converts the template engine's strict-mode error
// into a domain error, passing other errors through
func missingVariableError(err error) error {
	var missing *template.MissingVariablesError
	if errors.As(err, &missing) {
		return services.NewDomainError(services.ErrorTypeMissingVariable, "unresolved template variables", err).
			WithDetail("variables", missing.Variables)
	}
	return services.WrapInternal("failed to compile template", err)
}
