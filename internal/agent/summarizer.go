package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
)

var summarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"description": "Factual recap of the conversation prefix.",
		},
	},
	"required": []any{"summary"},
}

// providerSummarizer backs chat compression with a structured provider
// call.
type providerSummarizer struct {
	p provider.Provider
}

// Summarize implements chat.Summarizer.
func (s providerSummarizer) Summarize(ctx context.Context, history []chat.Content) (string, error) {
	req := provider.Request{
		History: append(chat.CloneHistory(history),
			chat.NewUserText(summaryPrompt)),
		MaxOutputTokens: 2048,
	}
	out, err := s.p.GenerateJSON(ctx, req, summarySchema)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	summary, _ := out["summary"].(string)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}
	return summary, nil
}
