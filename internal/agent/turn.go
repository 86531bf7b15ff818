package agent

import (
	"context"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
	"github.com/ChamsBouzaiene/rowboat/internal/telemetry"
)

// runTurn drives one model stream: it emits content fragments as they
// arrive, records usage, appends the assembled model content to
// history, and returns the function calls the model issued.
func (c *Client) runTurn(ctx context.Context, emit func(Event)) ([]chat.FunctionCall, error) {
	req := provider.Request{
		History:           c.chat.History(true),
		Tools:             c.registry.Declarations(),
		SystemInstruction: c.cfg.SystemInstruction,
		MaxOutputTokens:   c.cfg.MaxOutputTokens,
		Temperature:       c.cfg.Temperature,
	}

	chunks, errs := c.provider.Stream(ctx, req)

	var (
		parts []chat.Part
		text  strings.Builder
		calls []chat.FunctionCall
	)
	flushText := func() {
		if text.Len() > 0 {
			parts = append(parts, chat.TextPart(text.String()))
			text.Reset()
		}
	}

	for chunk := range chunks {
		switch {
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			emit(NewContentEvent(chunk.Text))
		case len(chunk.FunctionCalls) > 0:
			flushText()
			for _, fc := range chunk.FunctionCalls {
				calls = append(calls, fc)
				parts = append(parts, chat.CallPart(fc))
			}
		case chunk.Usage != nil:
			c.recordUsage(chunk.Usage)
			emit(NewUsageEvent(chunk.Usage))
		}
	}
	streamErr := <-errs
	flushText()

	// Partial content from an aborted or failed stream is still part of
	// the record.
	if len(parts) > 0 {
		c.chat.Add(chat.Content{Role: chat.RoleModel, Parts: parts})
	}

	if streamErr != nil {
		c.log.Error("agent", "model stream failed", map[string]any{
			"model": c.provider.Model(),
			"error": streamErr.Error(),
		})
		return calls, streamErr
	}

	c.log.Debug(telemetry.EventConversation, "agent", "model turn complete", map[string]any{
		"text_bytes": len(chat.Content{Parts: parts}.Text()),
		"tool_calls": len(calls),
	})
	return calls, nil
}
