package tool

// Result is what a tool execution hands back. LLMContent is folded into
// history as the function response; ReturnDisplay is what the UI
// renders; Summary is the one-line digest used in compressed history
// and tool_result events.
type Result struct {
	Summary       string `json:"summary"`
	LLMContent    string `json:"llm_content"`
	ReturnDisplay string `json:"return_display,omitempty"`
	Error         string `json:"error,omitempty"`
}

// IsError reports whether the result carries an execution error.
func (r Result) IsError() bool { return r.Error != "" }

// Response renders the result as a function-response payload.
func (r Result) Response() map[string]any {
	if r.Error != "" {
		return map[string]any{"error": r.Error}
	}
	resp := map[string]any{"result": r.LLMContent}
	if r.Summary != "" {
		resp["summary"] = r.Summary
	}
	return resp
}

// ErrorResult builds a Result for a failed execution. The message is
// recovered into history so the model can attempt recovery.
func ErrorResult(summary, message string) Result {
	return Result{
		Summary:    summary,
		LLMContent: message,
		Error:      message,
	}
}
