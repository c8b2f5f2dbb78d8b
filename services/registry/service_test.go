package registry

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/lumetrace/lumetrace/models"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/lumetrace/lumetrace/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePromptRepo is an in-memory PromptRepository with the same semantics
// as the postgres implementation: immutable version rows and a single-holder
// label index keyed by (name, label).
type fakePromptRepo struct {
	mu       sync.Mutex
	versions map[string]map[int]*models.Prompt
	labels   map[string]map[string]int
}

func newFakePromptRepo() *fakePromptRepo {
	return &fakePromptRepo{
		versions: make(map[string]map[int]*models.Prompt),
		labels:   make(map[string]map[string]int),
	}
}

func (f *fakePromptRepo) InsertVersion(ctx context.Context, prompt *models.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versions[prompt.Name] == nil {
		f.versions[prompt.Name] = make(map[int]*models.Prompt)
	}
	stored := *prompt
	stored.Labels = nil
	f.versions[prompt.Name][prompt.Version] = &stored
	return nil
}

func (f *fakePromptRepo) GetByVersion(ctx context.Context, name string, version int) (*models.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.versions[name][version]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "prompt version not found", nil)
	}
	return f.withLabels(stored), nil
}

func (f *fakePromptRepo) GetByLabel(ctx context.Context, name string, label string) (*models.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.labels[name][label]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "no version carries the requested label", nil)
	}
	return f.withLabels(f.versions[name][version]), nil
}

func (f *fakePromptRepo) LatestVersion(ctx context.Context, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := 0
	for v := range f.versions[name] {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (f *fakePromptRepo) VersionExists(ctx context.Context, name string, version int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.versions[name][version]
	return ok, nil
}

func (f *fakePromptRepo) LabelExists(ctx context.Context, name string, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.labels[name][label]
	return ok, nil
}

func (f *fakePromptRepo) MoveLabel(ctx context.Context, name string, label string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labels[name] == nil {
		f.labels[name] = make(map[string]int)
	}
	f.labels[name][label] = version
	return nil
}

func (f *fakePromptRepo) List(ctx context.Context) ([]*models.PromptSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.versions {
		names = append(names, name)
	}
	sort.Strings(names)

	var summaries []*models.PromptSummary
	for _, name := range names {
		latest := 0
		for v := range f.versions[name] {
			if v > latest {
				latest = v
			}
		}
		var labels []string
		for label := range f.labels[name] {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		summaries = append(summaries, &models.PromptSummary{
			Name:          name,
			LatestVersion: latest,
			Labels:        labels,
		})
	}
	return summaries, nil
}

func (f *fakePromptRepo) WithTx(tx repositories.Transaction) repositories.PromptRepository {
	return f
}

// withLabels attaches the labels currently pointing at the prompt's version.
// Callers must hold f.mu.
func (f *fakePromptRepo) withLabels(stored *models.Prompt) *models.Prompt {
	out := *stored
	out.Labels = nil
	var labels []string
	for label, v := range f.labels[stored.Name] {
		if v == stored.Version {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	out.Labels = labels
	return &out
}

// fakeTxManager runs transaction bodies directly without a database
type fakeTxManager struct{}

func (fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return fakeTx{ctx: ctx}, nil
}

func (fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, fakeTx{ctx: ctx})
}

type fakeTx struct {
	ctx context.Context
}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func (t fakeTx) Context() context.Context { return t.ctx }

func newTestService(t *testing.T, cfg Config) (*Service, *fakePromptRepo) {
	t.Helper()
	repo := newFakePromptRepo()
	svc := NewService(repo, fakeTxManager{}, zap.NewNop(), cfg)
	return svc, repo
}

func textInput(name, text string, labels ...string) CreateInput {
	return CreateInput{
		Name:   name,
		Type:   models.PromptTypeText,
		Body:   models.PromptBody{Text: text},
		Labels: labels,
	}
}

func TestService_Create_VersionsAreMonotonic(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		prompt, err := svc.Create(ctx, textInput("greeting", "Hello"))
		require.NoError(t, err)
		assert.Equal(t, i, prompt.Version)
	}
}

func TestService_Create_LatestLabelAlwaysMoves(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	prompt, err := svc.Get(ctx, "greeting", GetOptions{Label: models.LabelLatest})
	require.NoError(t, err)
	assert.Equal(t, 2, prompt.Version)
	assert.Equal(t, "v2", prompt.Body.Text)
}

func TestService_Create_AttachesRequestedLabels(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	prompt, err := svc.Create(ctx, textInput("greeting", "Hello", "production", "staging"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"production", "staging", "latest"}, prompt.Labels)
}

func TestService_Create_ValidationFailures(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty name", textInput("", "Hello")},
		{"unknown type", CreateInput{Name: "x", Type: "yaml"}},
		{"chat without messages", CreateInput{Name: "x", Type: models.PromptTypeChat}},
		{"chat message missing role", CreateInput{
			Name: "x",
			Type: models.PromptTypeChat,
			Body: models.PromptBody{Messages: []models.ChatMessage{{Content: "hi"}}},
		}},
		{"empty label", CreateInput{
			Name:   "x",
			Type:   models.PromptTypeText,
			Labels: []string{""},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, services.IsValidationError(err))
		})
	}
}

func TestService_Get_DefaultsToProductionLabel(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1", "production"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	// No label or version: production resolves, which is still version 1
	prompt, err := svc.Get(ctx, "greeting", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, prompt.Version)
	assert.Equal(t, "v1", prompt.Body.Text)
}

func TestService_Get_VersionPinOverridesLabel(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1", "production"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	prompt, err := svc.Get(ctx, "greeting", GetOptions{Label: "production", Version: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, prompt.Version)
}

func TestService_Get_MissingLabelIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "greeting", GetOptions{Label: "production"})
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_Get_MissingNameIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	_, err := svc.Get(context.Background(), "nope", GetOptions{})
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestService_UpdateLabels_MovesSingleHolder(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1", "production"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	err = svc.UpdateLabels(ctx, "greeting", 2, []string{"production"})
	require.NoError(t, err)

	// Label now resolves to version 2
	prompt, err := svc.Get(ctx, "greeting", GetOptions{Label: "production"})
	require.NoError(t, err)
	assert.Equal(t, 2, prompt.Version)

	// The previous holder no longer carries it
	v1, err := svc.Get(ctx, "greeting", GetOptions{Version: 1})
	require.NoError(t, err)
	assert.False(t, v1.HasLabel("production"))
}

func TestService_UpdateLabels_VersionPinSurvivesLabelMove(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1", "production"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	before, err := svc.Get(ctx, "greeting", GetOptions{Version: 1})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateLabels(ctx, "greeting", 2, []string{"production"}))

	after, err := svc.Get(ctx, "greeting", GetOptions{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, before.Body.Text, after.Body.Text)
	assert.Equal(t, before.Version, after.Version)
}

func TestService_UpdateLabels_NonexistentVersionFails(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1"))
	require.NoError(t, err)

	err = svc.UpdateLabels(ctx, "greeting", 4, []string{"production"})
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))

	// Nothing was attached
	exists, err := svc.Exists(ctx, "greeting", "production")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_UpdateLabels_EmptyLabelsRejected(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	err := svc.UpdateLabels(ctx, "greeting", 1, nil)
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	err = svc.UpdateLabels(ctx, "greeting", 1, []string{""})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestService_UpdateLabels_LatestIsReserved(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("greeting", "v2"))
	require.NoError(t, err)

	err = svc.UpdateLabels(ctx, "greeting", 1, []string{models.LabelLatest})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))

	// latest still tracks the newest version
	prompt, err := svc.Get(ctx, "greeting", GetOptions{Label: models.LabelLatest})
	require.NoError(t, err)
	assert.Equal(t, 2, prompt.Version)

	// Rejected even when mixed with movable labels, without moving those
	err = svc.UpdateLabels(ctx, "greeting", 1, []string{"production", models.LabelLatest})
	require.Error(t, err)

	exists, err := svc.Exists(ctx, "greeting", "production")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_Exists_NoErrorForMissing(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	exists, err := svc.Exists(ctx, "nope", "")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = svc.Create(ctx, textInput("greeting", "v1", "production"))
	require.NoError(t, err)

	exists, err = svc.Exists(ctx, "greeting", "")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = svc.Exists(ctx, "greeting", "staging")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_List(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("a", "one", "production"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("b", "one"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, textInput("b", "two"))
	require.NoError(t, err)

	summaries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "a", summaries[0].Name)
	assert.Equal(t, 1, summaries[0].LatestVersion)
	assert.Equal(t, "b", summaries[1].Name)
	assert.Equal(t, 2, summaries[1].LatestVersion)
}

func TestService_Compile_Text(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	prompt := &models.Prompt{
		Type: models.PromptTypeText,
		Body: models.PromptBody{Text: "Hello {{name}}!"},
	}

	compiled, err := svc.Compile(prompt, map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, models.PromptTypeText, compiled.Type)
	assert.Equal(t, "Hello Ada!", compiled.Text)
}

func TestService_Compile_ChatPreservesOrderAndRoles(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	prompt := &models.Prompt{
		Type: models.PromptTypeChat,
		Body: models.PromptBody{Messages: []models.ChatMessage{
			{Role: "system", Content: "You are {{persona}}."},
			{Role: "user", Content: "Tell me about {{topic}}."},
		}},
	}

	compiled, err := svc.Compile(prompt, map[string]interface{}{
		"persona": "a historian",
		"topic":   "Go",
	})
	require.NoError(t, err)
	require.Len(t, compiled.Messages, 2)
	assert.Equal(t, "system", compiled.Messages[0].Role)
	assert.Equal(t, "You are a historian.", compiled.Messages[0].Content)
	assert.Equal(t, "user", compiled.Messages[1].Role)
	assert.Equal(t, "Tell me about Go.", compiled.Messages[1].Content)
}

func TestService_Compile_PermissiveLeavesUnmatched(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	prompt := &models.Prompt{
		Type: models.PromptTypeText,
		Body: models.PromptBody{Text: "Hello {{name}}, id {{user_id}}"},
	}

	compiled, err := svc.Compile(prompt, map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, id {{user_id}}", compiled.Text)
}

func TestService_Compile_StrictModeMissingVariable(t *testing.T) {
	svc, _ := newTestService(t, Config{StrictCompile: true})

	prompt := &models.Prompt{
		Type: models.PromptTypeText,
		Body: models.PromptBody{Text: "Hello {{name}}"},
	}

	_, err := svc.Compile(prompt, nil)
	require.Error(t, err)
	assert.True(t, services.IsMissingVariableError(err))

	details := services.GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Contains(t, details, "variables")
}

func TestService_CustomDefaultLabel(t *testing.T) {
	svc, _ := newTestService(t, Config{DefaultLabel: "staging"})
	ctx := context.Background()

	_, err := svc.Create(ctx, textInput("greeting", "v1", "staging"))
	require.NoError(t, err)

	prompt, err := svc.Get(ctx, "greeting", GetOptions{})
	require.NoError(t, err)
	assert.True(t, prompt.HasLabel("staging"))
}
