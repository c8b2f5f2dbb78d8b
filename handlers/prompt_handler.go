package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lumetrace/lumetrace/middleware"
	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/services/registry"
	"github.com/lumetrace/lumetrace/tracing"
	"github.com/lumetrace/lumetrace/utils"
	"go.uber.org/zap"
)

// CreatePromptRequest represents a request to store a new template version
type CreatePromptRequest struct {
	Name     string               `json:"name" validate:"required"`
	Type     string               `json:"type" validate:"required,oneof=text chat"`
	Text     string               `json:"text,omitempty"`
	Messages []models.ChatMessage `json:"messages,omitempty"`
	Labels   []string             `json:"labels,omitempty"`
	Config   json.RawMessage      `json:"config,omitempty"`
}

// UpdateLabelsRequest represents a request to move labels to a version
type UpdateLabelsRequest struct {
	Labels []string `json:"labels" validate:"required,min=1,dive,required"`
}

// CompilePromptRequest represents a request to compile a template with variables
type CompilePromptRequest struct {
	Label     string                 `json:"label,omitempty"`
	Version   int                    `json:"version,omitempty" validate:"gte=0"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// PromptResponse represents a template version in API responses
type PromptResponse struct {
	Name      string               `json:"name"`
	Version   int                  `json:"version"`
	Type      models.PromptType    `json:"type"`
	Text      string               `json:"text,omitempty"`
	Messages  []models.ChatMessage `json:"messages,omitempty"`
	Config    json.RawMessage      `json:"config,omitempty"`
	Labels    []string             `json:"labels"`
	CreatedAt string               `json:"created_at"`
}

// ExistsResponse reports whether a prompt resolves under a label
type ExistsResponse struct {
	Name   string `json:"name"`
	Label  string `json:"label,omitempty"`
	Exists bool   `json:"exists"`
}

// RegistryService defines the interface for prompt registry operations
type RegistryService interface {
	// Create stores a new immutable version and attaches labels
	Create(ctx context.Context, in registry.CreateInput) (*models.Prompt, error)

	// Get fetches one version by label or pinned version number
	Get(ctx context.Context, name string, opts registry.GetOptions) (*models.Prompt, error)

	// UpdateLabels moves labels to an existing version
	UpdateLabels(ctx context.Context, name string, version int, labels []string) error

	// Exists reports whether a fetch would resolve
	Exists(ctx context.Context, name string, label string) (bool, error)

	// List returns a summary per template name
	List(ctx context.Context) ([]*models.PromptSummary, error)

	// Compile substitutes variables into a template body
	Compile(prompt *models.Prompt, variables map[string]interface{}) (*registry.Compiled, error)
}

// PromptHandler handles prompt registry HTTP requests
type PromptHandler struct {
	registry RegistryService
	tracer   *tracing.Tracer
	logger   *zap.Logger
}

// NewPromptHandler creates a new PromptHandler
func NewPromptHandler(registry RegistryService, tracer *tracing.Tracer, logger *zap.Logger) *PromptHandler {
	return &PromptHandler{
		registry: registry,
		tracer:   tracer,
		logger:   logger,
	}
}

// HandleCreatePrompt handles POST /api/v1/prompts
func (h *PromptHandler) HandleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	in := registry.CreateInput{
		Name:   req.Name,
		Type:   models.PromptType(req.Type),
		Body:   models.PromptBody{Text: req.Text, Messages: req.Messages},
		Labels: req.Labels,
		Config: req.Config,
	}

	ctx, span := h.tracer.StartSpan(ctx, "registry.create")
	span.SetInput(map[string]interface{}{"name": req.Name, "type": req.Type})
	prompt, err := h.registry.Create(ctx, in)
	if err != nil {
		span.EndWithError(err)
		HandleServiceError(w, err, h.logger)
		return
	}
	span.SetOutput(map[string]interface{}{"version": prompt.Version})
	span.End()

	h.logger.Info("prompt created",
		zap.String("request_id", requestID),
		zap.String("name", prompt.Name),
		zap.Int("version", prompt.Version))

	_ = utils.WriteCreated(w, promptToResponse(prompt))
}

// HandleListPrompts handles GET /api/v1/prompts
func (h *PromptHandler) HandleListPrompts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	summaries, err := h.registry.List(ctx)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed prompts",
		zap.String("request_id", requestID),
		zap.Int("count", len(summaries)))

	_ = utils.WriteOK(w, summaries)
}

// HandleGetPrompt handles GET /api/v1/prompts/{name}
// Query parameters: label (default resolution when absent), version (pins
// an exact version and overrides label)
func (h *PromptHandler) HandleGetPrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	opts, err := getOptionsFromQuery(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	ctx, span := h.tracer.StartSpan(ctx, "registry.get")
	span.SetInput(map[string]interface{}{"name": name, "label": opts.Label, "version": opts.Version})
	prompt, err := h.registry.Get(ctx, name, opts)
	if err != nil {
		span.EndWithError(err)
		HandleServiceError(w, err, h.logger)
		return
	}
	span.SetOutput(map[string]interface{}{"version": prompt.Version})
	span.End()

	_ = utils.WriteOK(w, promptToResponse(prompt))
}

// HandleExistsPrompt handles GET /api/v1/prompts/{name}/exists
func (h *PromptHandler) HandleExistsPrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	label := r.URL.Query().Get("label")

	exists, err := h.registry.Exists(ctx, name, label)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ExistsResponse{
		Name:   name,
		Label:  label,
		Exists: exists,
	})
}

// HandleUpdateLabels handles PUT /api/v1/prompts/{name}/versions/{version}/labels
func (h *PromptHandler) HandleUpdateLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	name := chi.URLParam(r, "name")

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		_ = utils.WriteBadRequest(w, "Invalid version number", nil)
		return
	}

	var req UpdateLabelsRequest
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

	if err := h.registry.UpdateLabels(ctx, name, version, req.Labels); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("labels updated",
		zap.String("request_id", requestID),
		zap.String("name", name),
		zap.Int("version", version),
		zap.Strings("labels", req.Labels))

	prompt, err := h.registry.Get(ctx, name, registry.GetOptions{Version: version})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, promptToResponse(prompt))
}

// HandleCompilePrompt handles POST /api/v1/prompts/{name}/compile
// Fetches the requested version and substitutes variables into its body
func (h *PromptHandler) HandleCompilePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	name := chi.URLParam(r, "name")

	var req CompilePromptRequest
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

	ctx, span := h.tracer.StartSpan(ctx, "registry.compile")
	span.SetInput(map[string]interface{}{"name": name, "label": req.Label, "version": req.Version})

	prompt, err := h.registry.Get(ctx, name, registry.GetOptions{Label: req.Label, Version: req.Version})
	if err != nil {
		span.EndWithError(err)
		HandleServiceError(w, err, h.logger)
		return
	}

	compiled, err := h.registry.Compile(prompt, req.Variables)
	if err != nil {
		span.EndWithError(err)
		HandleServiceError(w, err, h.logger)
		return
	}
	span.SetOutput(map[string]interface{}{"version": prompt.Version})
	span.End()

	_ = utils.WriteOK(w, compiled)
}

// getOptionsFromQuery parses label/version selection from query parameters
func getOptionsFromQuery(r *http.Request) (registry.GetOptions, error) {
	opts := registry.GetOptions{
		Label: r.URL.Query().Get("label"),
	}

	if versionStr := r.URL.Query().Get("version"); versionStr != "" {
		version, err := strconv.Atoi(versionStr)
		if err != nil || version < 1 {
			return opts, errInvalidVersion
		}
		opts.Version = version
	}

	return opts, nil
}

var errInvalidVersion = &queryError{"version must be a positive integer"}

type queryError struct {
	msg string
}

func (e *queryError) Error() string {
	return e.msg
}

// promptToResponse converts a Prompt model to a PromptResponse
func promptToResponse(p *models.Prompt) PromptResponse {
	labels := p.Labels
	if labels == nil {
		labels = []string{}
	}
	return PromptResponse{
		Name:      p.Name,
		Version:   p.Version,
		Type:      p.Type,
		Text:      p.Body.Text,
		Messages:  p.Body.Messages,
		Config:    p.Config,
		Labels:    labels,
		CreatedAt: p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
