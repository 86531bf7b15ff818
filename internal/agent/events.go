// Package agent drives the conversation loop: provider streaming, tool
// scheduling, next-speaker arbitration, and history compression.
package agent

import (
	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
	"github.com/ChamsBouzaiene/rowboat/internal/scheduler"
)

// EventKind discriminates the events a message stream emits.
type EventKind string

const (
	// EventContent carries one streamed text fragment.
	EventContent EventKind = "content"
	// EventToolCallRequest announces a scheduled batch of tool calls.
	EventToolCallRequest EventKind = "tool_call_request"
	// EventAwaitingApproval lists calls parked at the confirmation gate.
	EventAwaitingApproval EventKind = "awaiting_approval"
	// EventToolOutput carries one live output line from an executing tool.
	EventToolOutput EventKind = "tool_output"
	// EventToolCallResponse carries a completed batch's function responses.
	EventToolCallResponse EventKind = "tool_call_response"
	// EventUsage reports token accounting for one model call.
	EventUsage EventKind = "usage"
	// EventCompressed reports a completed history compression.
	EventCompressed EventKind = "compressed"
	// EventCancelled ends a stream the user aborted.
	EventCancelled EventKind = "cancelled"
	// EventMaxTurnsReached ends a stream that hit the session turn cap.
	EventMaxTurnsReached EventKind = "max_turns_reached"
	// EventError ends a stream on an unrecoverable failure.
	EventError EventKind = "error"
)

// Event is one entry on the stream returned by SendMessageStream. Only
// the fields relevant to the Kind are set.
type Event struct {
	Kind        EventKind
	Text        string
	RequestID   string
	CallID      string
	Calls       []scheduler.Call
	Responses   []chat.FunctionResponse
	Usage       *provider.Usage
	Compression *chat.CompressionInfo
	Err         string
}

// NewContentEvent constructs a content event.
func NewContentEvent(text string) Event {
	return Event{Kind: EventContent, Text: text}
}

// NewToolCallRequestEvent constructs a tool_call_request event.
func NewToolCallRequestEvent(requestID string, calls []scheduler.Call) Event {
	return Event{Kind: EventToolCallRequest, RequestID: requestID, Calls: calls}
}

// NewAwaitingApprovalEvent constructs an awaiting_approval event.
func NewAwaitingApprovalEvent(requestID string, calls []scheduler.Call) Event {
	return Event{Kind: EventAwaitingApproval, RequestID: requestID, Calls: calls}
}

// NewToolOutputEvent constructs a tool_output event.
func NewToolOutputEvent(callID, line string) Event {
	return Event{Kind: EventToolOutput, CallID: callID, Text: line}
}

// NewToolCallResponseEvent constructs a tool_call_response event.
func NewToolCallResponseEvent(requestID string, calls []scheduler.Call, responses []chat.FunctionResponse) Event {
	return Event{Kind: EventToolCallResponse, RequestID: requestID, Calls: calls, Responses: responses}
}

// NewUsageEvent constructs a usage event.
func NewUsageEvent(usage *provider.Usage) Event {
	return Event{Kind: EventUsage, Usage: usage}
}

// NewCompressedEvent constructs a compressed event.
func NewCompressedEvent(info *chat.CompressionInfo) Event {
	return Event{Kind: EventCompressed, Compression: info}
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent() Event {
	return Event{Kind: EventCancelled}
}

// NewMaxTurnsEvent constructs a max_turns_reached event.
func NewMaxTurnsEvent() Event {
	return Event{Kind: EventMaxTurnsReached}
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(err error) Event {
	return Event{Kind: EventError, Err: err.Error()}
}
