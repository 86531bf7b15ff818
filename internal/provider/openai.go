package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// OpenAIProvider implements Provider on the Chat Completions API.
// OpenAI is a strict-pair protocol: every tool_calls entry on an
// assistant message needs a following role=tool message with the
// matching tool_call_id.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider. baseURL overrides the API host
// for compatible gateways; empty means the default endpoint.
func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func convertOpenAIHistory(history []chat.Content, system string) []openai.ChatCompletionMessage {
	repaired := repairStrictPairing(history)
	msgs := make([]openai.ChatCompletionMessage, 0, len(repaired)+1)

	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, c := range repaired {
		switch c.Role {
		case chat.RoleUser:
			text := c.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			})

		case chat.RoleModel:
			content := c.Text()
			calls := c.FunctionCalls()
			if content == "" && len(calls) > 0 {
				// The SDK serializes empty content as null, which the
				// API rejects next to tool_calls.
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, fc := range calls {
				argsJSON, _ := json.Marshal(fc.Args)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   fc.ID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      fc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			if content == "" && len(toolCalls) == 0 {
				continue
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})

		case chat.RoleTool:
			for _, fr := range c.FunctionResponses() {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: fr.ID,
					Content:    responseText(fr),
				})
			}
		}
	}

	return msgs
}

func convertOpenAITools(decls []tool.Declaration) []openai.Tool {
	tools := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

func (p *OpenAIProvider) baseRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertOpenAIHistory(req.History, req.SystemInstruction),
	}
	if len(req.Tools) > 0 {
		out.Tools = convertOpenAITools(req.Tools)
		out.ToolChoice = "auto"
	}
	if req.MaxOutputTokens > 0 {
		out.MaxTokens = req.MaxOutputTokens
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}
	return out
}

// toolCallAccumulator assembles one streamed tool call from per-field
// deltas. Arguments arrive as JSON fragments that are only parseable
// once the stream finishes.
type toolCallAccumulator struct {
	id       string
	name     string
	argsJSON strings.Builder
	index    int
}

// Stream implements Provider.Stream.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunkCh := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		streamReq := p.baseRequest(req)
		streamReq.Stream = true
		streamReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := p.client.CreateChatCompletionStream(ctx, streamReq)
		if err != nil {
			errCh <- WrapError(err)
			return
		}
		defer stream.Close()

		emit := func(c Chunk) bool {
			select {
			case chunkCh <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		accums := make(map[string]*toolCallAccumulator)
		nextIndex := 0
		var finalUsage *Usage

		for {
			response, recvErr := stream.Recv()
			if recvErr != nil {
				if !errors.Is(recvErr, io.EOF) && !strings.Contains(recvErr.Error(), "EOF") {
					errCh <- WrapError(recvErr)
					return
				}

				// Normal end of stream: flush assembled tool calls in
				// arrival order, then usage.
				if calls := finishToolCalls(accums); len(calls) > 0 {
					if !emit(Chunk{FunctionCalls: calls}) {
						return
					}
				}
				if finalUsage != nil {
					emit(Chunk{Usage: finalUsage})
				}
				return
			}

			// The usage-only final chunk has no choices.
			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				finalUsage = &Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
					TotalTokens:      response.Usage.TotalTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta

			if delta.Content != "" {
				if !emit(Chunk{Text: delta.Content}) {
					return
				}
			}

			for _, tcDelta := range delta.ToolCalls {
				acc := findAccumulator(accums, tcDelta, &nextIndex)
				if acc == nil {
					continue
				}
				if tcDelta.ID != "" {
					acc.id = tcDelta.ID
				}
				if tcDelta.Function.Name != "" {
					acc.name = tcDelta.Function.Name
				}
				if tcDelta.Function.Arguments != "" {
					acc.argsJSON.WriteString(tcDelta.Function.Arguments)
				}
			}
		}
	}()

	return chunkCh, errCh
}

// findAccumulator locates or creates the accumulator for a delta,
// keyed by ID when present and by stream index otherwise.
func findAccumulator(accums map[string]*toolCallAccumulator, tcDelta openai.ToolCall, nextIndex *int) *toolCallAccumulator {
	if tcDelta.ID != "" {
		if acc, ok := accums[tcDelta.ID]; ok {
			return acc
		}
		// A call that started under a temporary index key may gain its
		// ID in a later delta.
		if tcDelta.Index != nil {
			tempKey := fmt.Sprintf("idx_%d", *tcDelta.Index)
			if acc, ok := accums[tempKey]; ok {
				delete(accums, tempKey)
				acc.id = tcDelta.ID
				accums[tcDelta.ID] = acc
				return acc
			}
		}
		acc := &toolCallAccumulator{id: tcDelta.ID, index: *nextIndex}
		*nextIndex++
		accums[tcDelta.ID] = acc
		return acc
	}

	if tcDelta.Index == nil {
		return nil
	}
	tempKey := fmt.Sprintf("idx_%d", *tcDelta.Index)
	if acc, ok := accums[tempKey]; ok {
		return acc
	}
	for _, acc := range accums {
		if acc.index == *tcDelta.Index {
			return acc
		}
	}
	acc := &toolCallAccumulator{index: *tcDelta.Index}
	if *tcDelta.Index >= *nextIndex {
		*nextIndex = *tcDelta.Index + 1
	}
	accums[tempKey] = acc
	return acc
}

// finishToolCalls parses the accumulated argument JSON and returns the
// calls in stream order. Unparseable arguments produce a call with
// empty args; schema validation downstream reports the problem back to
// the model.
func finishToolCalls(accums map[string]*toolCallAccumulator) []chat.FunctionCall {
	ordered := make([]*toolCallAccumulator, 0, len(accums))
	for _, acc := range accums {
		if acc.name == "" {
			continue
		}
		ordered = append(ordered, acc)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	calls := make([]chat.FunctionCall, 0, len(ordered))
	for _, acc := range ordered {
		args := make(map[string]any)
		if acc.argsJSON.Len() > 0 {
			if err := json.Unmarshal([]byte(acc.argsJSON.String()), &args); err != nil {
				args = make(map[string]any)
			}
		}
		calls = append(calls, chat.FunctionCall{ID: acc.id, Name: acc.name, Args: args})
	}
	return calls
}

// GenerateJSON implements Provider.GenerateJSON using JSON response
// mode plus the schema in the system prompt.
func (p *OpenAIProvider) GenerateJSON(ctx context.Context, req Request, schema map[string]any) (map[string]any, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}

	jsonReq := req
	if jsonReq.SystemInstruction != "" {
		jsonReq.SystemInstruction += "\n\n"
	}
	jsonReq.SystemInstruction += "Respond with a single JSON object matching this JSON schema, and nothing else:\n" + string(schemaJSON)

	chatReq := p.baseRequest(jsonReq)
	chatReq.Tools = nil
	chatReq.ToolChoice = nil
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, WrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from openai")
	}
	return parseJSONObject(resp.Choices[0].Message.Content)
}
