package agent

import (
	"context"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
	"github.com/ChamsBouzaiene/rowboat/internal/telemetry"
)

// nextSpeakerSchema is the structured response the arbiter must emit.
var nextSpeakerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reasoning": map[string]any{
			"type":        "string",
			"description": "Brief reasoning for the decision.",
		},
		"next_speaker": map[string]any{
			"type": "string",
			"enum": []any{"user", "model"},
		},
	},
	"required": []any{"reasoning", "next_speaker"},
}

// decideNextSpeaker asks the model who talks next after a plain text
// turn. Any failure falls back to "user", which just pauses the loop.
func (c *Client) decideNextSpeaker(ctx context.Context) string {
	history := c.chat.History(true)
	if len(history) == 0 || history[len(history)-1].Role != chat.RoleModel {
		return "user"
	}

	req := provider.Request{
		History: append(chat.CloneHistory(history),
			chat.NewUserText(nextSpeakerPrompt)),
		SystemInstruction: c.cfg.SystemInstruction,
		MaxOutputTokens:   256,
	}
	out, err := c.provider.GenerateJSON(ctx, req, nextSpeakerSchema)
	if err != nil {
		c.log.Warning(telemetry.EventConversation, "agent",
			"next-speaker check failed, yielding to user",
			map[string]any{"error": err.Error()})
		return "user"
	}
	if speaker, ok := out["next_speaker"].(string); ok && speaker == "model" {
		return "model"
	}
	return "user"
}
