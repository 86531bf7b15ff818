package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
)

const titlePrompt = `Generate a short title (3-5 words) for this conversation based on
the user's intent and the work done. No quotes or trailing punctuation.
Respond with the title in the "title" field.`

var titleSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{"type": "string"},
	},
	"required": []any{"title"},
}

// Titler produces session titles with a structured provider call.
type Titler struct {
	p provider.Provider
}

// NewTitler builds a titler over the provider.
func NewTitler(p provider.Provider) *Titler {
	return &Titler{p: p}
}

// GenerateTitle names a session from the opening of its history.
func (t *Titler) GenerateTitle(ctx context.Context, history []chat.Content) (string, error) {
	if len(history) == 0 {
		return "New Session", nil
	}

	// The opening exchanges carry the intent; the rest is noise for a
	// title.
	limit := 10
	if len(history) < limit {
		limit = len(history)
	}

	req := provider.Request{
		History: append(chat.CloneHistory(history[:limit]),
			chat.NewUserText(titlePrompt)),
		MaxOutputTokens: 64,
	}
	out, err := t.p.GenerateJSON(ctx, req, titleSchema)
	if err != nil {
		return "", fmt.Errorf("generate session title: %w", err)
	}
	title, _ := out["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return "New Session", nil
	}
	return title, nil
}
