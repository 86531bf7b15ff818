// Package provider normalizes the Gemini, Anthropic, and OpenAI wire
// protocols into one streaming chunk type, with retry and the history
// repair strict-pairing providers require.
package provider

import (
	"context"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// Usage is the token accounting attached to a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one provider-agnostic streaming event. At most one of Text,
// FunctionCalls, or Usage is set. Function calls are emitted only once
// their arguments are fully assembled.
type Chunk struct {
	Text          string
	FunctionCalls []chat.FunctionCall
	Usage         *Usage
}

// Request is the normalized input for a model call.
type Request struct {
	History           []chat.Content
	Tools             []tool.Declaration
	SystemInstruction string
	MaxOutputTokens   int
	Temperature       float32
}

// Provider is the model abstraction the turn loop drives. Stream
// returns a chunk channel and an error channel; the error channel
// yields at most one value and both channels are closed when the
// stream finishes. GenerateJSON is the non-streaming structured call
// used by the next-speaker arbiter and the history summarizer.
type Provider interface {
	Name() string
	Model() string
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
	GenerateJSON(ctx context.Context, req Request, schema map[string]any) (map[string]any, error)
}

// pendingToolNote is the placeholder result synthesized for a function
// call whose response has not arrived.
const pendingToolNote = "Tool execution pending or awaiting confirmation"

// bridgeContinue is the synthetic user turn strict-pair conversion
// inserts when a conversation would otherwise open mid-exchange.
const bridgeContinue = "Continue the conversation."
