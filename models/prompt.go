package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PromptType distinguishes single-string templates from chat message lists
type PromptType string

const (
	PromptTypeText PromptType = "text"
	PromptTypeChat PromptType = "chat"
)

// Well-known labels. LabelLatest is maintained by the registry and always
// points at the newest version of a name; LabelProduction is the default
// resolution target for fetches that do not name a label.
const (
	LabelProduction = "production"
	LabelLatest     = "latest"
)

// ChatMessage is one role/content pair of a chat template.
// Message order is significant and preserved end to end.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptBody holds the raw, uncompiled template content.
// Exactly one of Text or Messages is populated, matching the prompt type.
type PromptBody struct {
	Text     string        `json:"text,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
}

// MarshalBody serializes the body for JSONB storage
func (b PromptBody) MarshalBody(promptType PromptType) (json.RawMessage, error) {
	switch promptType {
	case PromptTypeText:
		return json.Marshal(b.Text)
	case PromptTypeChat:
		return json.Marshal(b.Messages)
	default:
		return nil, fmt.Errorf("unknown prompt type: %s", promptType)
	}
}

// UnmarshalBody deserializes a stored JSONB body according to the prompt type
func UnmarshalBody(promptType PromptType, raw json.RawMessage) (PromptBody, error) {
	var body PromptBody
	switch promptType {
	case PromptTypeText:
		if err := json.Unmarshal(raw, &body.Text); err != nil {
			return body, fmt.Errorf("failed to decode text body: %w", err)
		}
	case PromptTypeChat:
		if err := json.Unmarshal(raw, &body.Messages); err != nil {
			return body, fmt.Errorf("failed to decode chat body: %w", err)
		}
	default:
		return body, fmt.Errorf("unknown prompt type: %s", promptType)
	}
	return body, nil
}

// Prompt represents one immutable version of a named template.
// Version numbers are allocated by the registry, start at 1 per name and
// only ever grow; the row content never changes after creation.
type Prompt struct {
	Name      string          `json:"name" db:"name"`
	Version   int             `json:"version" db:"version"`
	Type      PromptType      `json:"type" db:"type"`
	Body      PromptBody      `json:"prompt"`
	Config    json.RawMessage `json:"config,omitempty" db:"config"` // opaque, not interpreted
	Labels    []string        `json:"labels"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for prompt versions
func (Prompt) TableName() string {
	return "prompt_versions"
}

// HasLabel reports whether this version currently carries the given label
func (p *Prompt) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// PromptSummary is a listing row: a name with its newest version and the
// labels currently attached across all of its versions.
type PromptSummary struct {
	Name          string   `json:"name"`
	LatestVersion int      `json:"latest_version"`
	Labels        []string `json:"labels"`
}
