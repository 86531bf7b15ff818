package provider

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// GeminiProvider implements Provider on the google.golang.org/genai
// SDK. Gemini's wire format matches the internal Content/Part model
// closely and tolerates loose call/result ordering, so conversion is
// field renaming plus removal of empty parts.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider builds a provider for the given model.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

func convertGeminiHistory(history []chat.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, c := range history {
		var parts []*genai.Part
		for _, part := range c.Parts {
			switch {
			case part.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}})
			case part.FunctionResponse != nil:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       part.FunctionResponse.ID,
					Name:     part.FunctionResponse.Name,
					Response: part.FunctionResponse.Response,
				}})
			case strings.TrimSpace(part.Text) != "":
				parts = append(parts, &genai.Part{Text: part.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if c.Role == chat.RoleModel {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

func convertGeminiTools(decls []tool.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGenaiSchema(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGenaiSchema converts a JSON-Schema map into the SDK's schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	if min, ok := schema["minimum"].(float64); ok {
		s.Minimum = genai.Ptr(min)
	}
	if max, ok := schema["maximum"].(float64); ok {
		s.Maximum = genai.Ptr(max)
	}
	return s
}

func (p *GeminiProvider) buildConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	config.Tools = convertGeminiTools(req.Tools)
	return config
}

// stableCallID derives a deterministic ID for function calls Gemini
// sends without one, so the same call keeps the same ID across chunks.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("call-%x", sum[:8])
}

// Stream implements Provider.Stream.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunkCh := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		contents := convertGeminiHistory(req.History)
		config := p.buildConfig(req)

		emit := func(c Chunk) bool {
			select {
			case chunkCh <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		emittedCalls := make(map[string]bool)
		var finalUsage *Usage

		for genResp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				errCh <- WrapError(err)
				return
			}
			if genResp.UsageMetadata != nil {
				finalUsage = &Usage{
					PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
				}
			}
			if len(genResp.Candidates) == 0 {
				continue
			}
			candidate := genResp.Candidates[0]
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" && !part.Thought {
					if !emit(Chunk{Text: part.Text}) {
						return
					}
				}
				if part.FunctionCall != nil {
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
					}
					// Gemini may repeat a call part across chunks.
					if emittedCalls[callID] {
						continue
					}
					emittedCalls[callID] = true
					if !emit(Chunk{FunctionCalls: []chat.FunctionCall{{
						ID:   callID,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					}}}) {
						return
					}
				}
			}
		}

		if finalUsage != nil {
			emit(Chunk{Usage: finalUsage})
		}
	}()

	return chunkCh, errCh
}

// GenerateJSON implements Provider.GenerateJSON using the SDK's native
// structured output mode.
func (p *GeminiProvider) GenerateJSON(ctx context.Context, req Request, schema map[string]any) (map[string]any, error) {
	contents := convertGeminiHistory(req.History)
	config := p.buildConfig(req)
	config.Tools = nil
	config.ResponseMIMEType = "application/json"
	config.ResponseSchema = toGenaiSchema(schema)

	genResp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, WrapError(err)
	}
	if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var text strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return parseJSONObject(text.String())
}
