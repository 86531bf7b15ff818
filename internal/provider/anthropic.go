package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// AnthropicProvider implements Provider on the Anthropic Messages API.
// Anthropic is a strict-pair protocol: tool_use blocks on an assistant
// message must be answered by tool_result blocks in the next user
// message, so history goes through repairStrictPairing first.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider for the given model.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// convertHistory translates internal contents into Anthropic messages.
func convertAnthropicHistory(history []chat.Content) []anthropic.Message {
	repaired := repairStrictPairing(history)
	msgs := make([]anthropic.Message, 0, len(repaired))

	for _, c := range repaired {
		switch c.Role {
		case chat.RoleUser:
			text := c.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(text)},
			})

		case chat.RoleModel:
			var content []anthropic.MessageContent
			if text := c.Text(); strings.TrimSpace(text) != "" {
				content = append(content, anthropic.NewTextMessageContent(text))
			}
			for _, fc := range c.FunctionCalls() {
				argsJSON, _ := json.Marshal(fc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(
					fc.ID, fc.Name, json.RawMessage(argsJSON),
				))
			}
			if len(content) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})

		case chat.RoleTool:
			var content []anthropic.MessageContent
			for _, fr := range c.FunctionResponses() {
				_, isErr := fr.Response["error"]
				content = append(content, anthropic.NewToolResultMessageContent(
					fr.ID, responseText(fr), isErr,
				))
			}
			if len(content) == 0 {
				continue
			}
			// Tool results travel in a user message.
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: content,
			})
		}
	}

	// The API requires the conversation to open with a user message.
	if len(msgs) > 0 && msgs[0].Role != anthropic.RoleUser {
		msgs = append([]anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(bridgeContinue)},
		}}, msgs...)
	}

	return msgs
}

func convertAnthropicTools(decls []tool.Declaration) []anthropic.ToolDefinition {
	defs := make([]anthropic.ToolDefinition, 0, len(decls))
	for _, d := range decls {
		defs = append(defs, anthropic.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return defs
}

func (p *AnthropicProvider) baseRequest(req Request) anthropic.MessagesRequest {
	maxTokens := 4096
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	temperature := float32(0.1)
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	out := anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		Messages:    convertAnthropicHistory(req.History),
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if req.SystemInstruction != "" {
		out.MultiSystem = []anthropic.MessageSystemPart{{
			Type: "text",
			Text: req.SystemInstruction,
		}}
	}
	if len(req.Tools) > 0 {
		out.Tools = convertAnthropicTools(req.Tools)
	}
	return out
}

// Stream implements Provider.Stream. The SDK streams through callbacks,
// adapted here to the chunk channel.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunkCh := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		streamReq := anthropic.MessagesStreamRequest{MessagesRequest: p.baseRequest(req)}

		emit := func(c Chunk) bool {
			select {
			case chunkCh <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		streamReq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != nil {
				emit(Chunk{Text: *delta.Delta.Text})
			}
		}

		// tool_use arguments stream as partial_json fragments; the SDK
		// assembles them and hands the complete block to this callback.
		streamReq.OnContentBlockStop = func(_ anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
			if content.Type != "tool_use" || content.MessageContentToolUse == nil {
				return
			}
			tu := content.MessageContentToolUse
			args := make(map[string]any)
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					args = make(map[string]any)
				}
			}
			emit(Chunk{FunctionCalls: []chat.FunctionCall{{
				ID:   tu.ID,
				Name: tu.Name,
				Args: args,
			}}})
		}

		resp, err := p.client.CreateMessagesStream(ctx, streamReq)
		if err != nil {
			errCh <- WrapError(err)
			return
		}

		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			emit(Chunk{Usage: &Usage{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			}})
		}
	}()

	return chunkCh, errCh
}

// GenerateJSON implements Provider.GenerateJSON with a non-streaming
// call and an instruction to answer with a single JSON object.
func (p *AnthropicProvider) GenerateJSON(ctx context.Context, req Request, schema map[string]any) (map[string]any, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}

	msgReq := p.baseRequest(req)
	msgReq.MultiSystem = append(msgReq.MultiSystem, anthropic.MessageSystemPart{
		Type: "text",
		Text: "Respond with a single JSON object matching this JSON schema, and nothing else:\n" + string(schemaJSON),
	})
	msgReq.Tools = nil

	resp, err := p.client.CreateMessages(ctx, msgReq)
	if err != nil {
		return nil, WrapError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	return parseJSONObject(text.String())
}

// parseJSONObject extracts the first JSON object from model output that
// may be wrapped in prose or code fences.
func parseJSONObject(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output: %q", truncateForError(text))
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return out, nil
}

func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
