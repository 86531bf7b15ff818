// Package chat holds the conversation data model and the append-only
// history with its curated view and token-budget compression.
package chat

import "strings"

// Role identifies the author of a Content.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is the result paired with a FunctionCall by ID.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one unit inside a Content. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// CallPart builds a function-call part.
func CallPart(fc FunctionCall) Part {
	return Part{FunctionCall: &fc}
}

// ResponsePart builds a function-response part.
func ResponsePart(fr FunctionResponse) Part {
	return Part{FunctionResponse: &fr}
}

// Content is one entry in the conversation history.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserText builds a single-part user content.
func NewUserText(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// NewModelText builds a single-part model content.
func NewModelText(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{TextPart(text)}}
}

// Text concatenates the text parts of the content.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FunctionCalls returns the function-call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function-response parts in order.
func (c Content) FunctionResponses() []FunctionResponse {
	var resps []FunctionResponse
	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			resps = append(resps, *p.FunctionResponse)
		}
	}
	return resps
}

// IsEmpty reports whether the content carries no text, calls, or
// responses. Whitespace-only text counts as empty.
func (c Content) IsEmpty() bool {
	for _, p := range c.Parts {
		if p.FunctionCall != nil || p.FunctionResponse != nil {
			return false
		}
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. History snapshots hand out clones so
// callers cannot mutate the stored record.
func (c Content) Clone() Content {
	out := Content{Role: c.Role, Parts: make([]Part, len(c.Parts))}
	for i, p := range c.Parts {
		np := Part{Text: p.Text}
		if p.FunctionCall != nil {
			fc := *p.FunctionCall
			fc.Args = cloneMap(p.FunctionCall.Args)
			np.FunctionCall = &fc
		}
		if p.FunctionResponse != nil {
			fr := *p.FunctionResponse
			fr.Response = cloneMap(p.FunctionResponse.Response)
			np.FunctionResponse = &fr
		}
		out.Parts[i] = np
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CloneHistory deep-copies a slice of contents.
func CloneHistory(history []Content) []Content {
	out := make([]Content, len(history))
	for i, c := range history {
		out[i] = c.Clone()
	}
	return out
}
