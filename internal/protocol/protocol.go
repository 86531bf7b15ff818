// Package protocol defines the NDJSON command and event types spoken
// between the agent process and a UI over stdio.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CommandType enumerates all supported UI -> agent commands.
type CommandType string

const (
	CommandUserMessage CommandType = "user_message"
	CommandConfirmTool CommandType = "confirm_tool"
	CommandCancel      CommandType = "cancel"
	CommandStats       CommandType = "stats"
	CommandClear       CommandType = "clear"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// UserMessageCommand sends a user instruction to the agent.
type UserMessageCommand struct {
	Type    CommandType `json:"type"`
	Message string      `json:"message"`
}

// GetType implements Command.
func (c UserMessageCommand) GetType() CommandType { return CommandUserMessage }

// ConfirmToolCommand resolves a tool call parked at the confirmation
// gate. Outcome is proceed_once, proceed_always, cancel, or modify;
// modify carries the replacement args.
type ConfirmToolCommand struct {
	Type    CommandType    `json:"type"`
	CallID  string         `json:"call_id"`
	Outcome string         `json:"outcome"`
	Args    map[string]any `json:"args,omitempty"`
}

// GetType implements Command.
func (c ConfirmToolCommand) GetType() CommandType { return CommandConfirmTool }

// CancelCommand aborts the in-flight message.
type CancelCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c CancelCommand) GetType() CommandType { return CommandCancel }

// StatsCommand requests the session token rollup.
type StatsCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c StatsCommand) GetType() CommandType { return CommandStats }

// ClearCommand drops the conversation history.
type ClearCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c ClearCommand) GetType() CommandType { return CommandClear }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandUserMessage:
		var cmd UserMessageCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode user_message: %w", err)
		}
		if cmd.Message == "" {
			return nil, errors.New("user_message requires message")
		}
		return cmd, nil
	case CommandConfirmTool:
		var cmd ConfirmToolCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode confirm_tool: %w", err)
		}
		if cmd.CallID == "" {
			return nil, errors.New("confirm_tool requires call_id")
		}
		if cmd.Outcome == "" {
			return nil, errors.New("confirm_tool requires outcome")
		}
		return cmd, nil
	case CommandCancel:
		var cmd CancelCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode cancel: %w", err)
		}
		return cmd, nil
	case CommandStats:
		var cmd StatsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		return cmd, nil
	case CommandClear:
		var cmd ClearCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode clear: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewSessionID generates a new opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// EventType enumerates agent -> UI events.
type EventType string

const (
	EventAssistantText    EventType = "assistant_text"
	EventStatus           EventType = "status"
	EventToolCalls        EventType = "tool_calls"
	EventApprovalRequired EventType = "approval_required"
	EventToolOutput       EventType = "tool_output"
	EventToolResults      EventType = "tool_results"
	EventUsage            EventType = "usage"
	EventCompressed       EventType = "compressed"
	EventStats            EventType = "stats"
	EventCancelled        EventType = "cancelled"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

func (eventBase) isEvent() {}

// AssistantTextEvent streams assistant text back to the UI.
type AssistantTextEvent struct {
	eventBase
	Content string `json:"content"`
	Final   bool   `json:"final,omitempty"`
}

// NewAssistantTextEvent constructs an assistant_text event.
func NewAssistantTextEvent(sessionID, content string, final bool) AssistantTextEvent {
	return AssistantTextEvent{
		eventBase: eventBase{Type: EventAssistantText, SessionID: sessionID},
		Content:   content,
		Final:     final,
	}
}

// GetType implements Event.
func (e AssistantTextEvent) GetType() EventType { return e.Type }

// StatusEvent communicates coarse agent state.
type StatusEvent struct {
	eventBase
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(sessionID, status, detail string) StatusEvent {
	return StatusEvent{
		eventBase: eventBase{Type: EventStatus, SessionID: sessionID},
		Status:    status,
		Detail:    detail,
	}
}

// GetType implements Event.
func (e StatusEvent) GetType() EventType { return e.Type }

// ToolCallInfo is one call's wire representation.
type ToolCallInfo struct {
	CallID       string         `json:"call_id"`
	Name         string         `json:"name"`
	Args         map[string]any `json:"args,omitempty"`
	Status       string         `json:"status"`
	Title        string         `json:"title,omitempty"`
	Message      string         `json:"message,omitempty"`
	RiskLevel    string         `json:"risk_level,omitempty"`
	ResultText   string         `json:"result_text,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// ToolCallsEvent announces a scheduled batch.
type ToolCallsEvent struct {
	eventBase
	RequestID string         `json:"request_id"`
	Calls     []ToolCallInfo `json:"calls"`
}

// NewToolCallsEvent constructs a tool_calls event.
func NewToolCallsEvent(sessionID, requestID string, calls []ToolCallInfo) ToolCallsEvent {
	return ToolCallsEvent{
		eventBase: eventBase{Type: EventToolCalls, SessionID: sessionID},
		RequestID: requestID,
		Calls:     calls,
	}
}

// GetType implements Event.
func (e ToolCallsEvent) GetType() EventType { return e.Type }

// ApprovalRequiredEvent lists calls waiting on the user.
type ApprovalRequiredEvent struct {
	eventBase
	RequestID string         `json:"request_id"`
	Calls     []ToolCallInfo `json:"calls"`
}

// NewApprovalRequiredEvent constructs an approval_required event.
func NewApprovalRequiredEvent(sessionID, requestID string, calls []ToolCallInfo) ApprovalRequiredEvent {
	return ApprovalRequiredEvent{
		eventBase: eventBase{Type: EventApprovalRequired, SessionID: sessionID},
		RequestID: requestID,
		Calls:     calls,
	}
}

// GetType implements Event.
func (e ApprovalRequiredEvent) GetType() EventType { return e.Type }

// ToolOutputEvent streams one live output line from an executing tool.
type ToolOutputEvent struct {
	eventBase
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// NewToolOutputEvent constructs a tool_output event.
func NewToolOutputEvent(sessionID, callID, output string) ToolOutputEvent {
	return ToolOutputEvent{
		eventBase: eventBase{Type: EventToolOutput, SessionID: sessionID},
		CallID:    callID,
		Output:    output,
	}
}

// GetType implements Event.
func (e ToolOutputEvent) GetType() EventType { return e.Type }

// ToolResultsEvent carries a completed batch.
type ToolResultsEvent struct {
	eventBase
	RequestID string         `json:"request_id"`
	Calls     []ToolCallInfo `json:"calls"`
}

// NewToolResultsEvent constructs a tool_results event.
func NewToolResultsEvent(sessionID, requestID string, calls []ToolCallInfo) ToolResultsEvent {
	return ToolResultsEvent{
		eventBase: eventBase{Type: EventToolResults, SessionID: sessionID},
		RequestID: requestID,
		Calls:     calls,
	}
}

// GetType implements Event.
func (e ToolResultsEvent) GetType() EventType { return e.Type }

// UsageEvent reports token consumption for one model call.
type UsageEvent struct {
	eventBase
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsageEvent constructs a usage event.
func NewUsageEvent(sessionID string, prompt, completion, total int) UsageEvent {
	return UsageEvent{
		eventBase:        eventBase{Type: EventUsage, SessionID: sessionID},
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// GetType implements Event.
func (e UsageEvent) GetType() EventType { return e.Type }

// CompressedEvent reports a history compression.
type CompressedEvent struct {
	eventBase
	TokensBefore int `json:"tokens_before"`
	TokensAfter  int `json:"tokens_after"`
}

// NewCompressedEvent constructs a compressed event.
func NewCompressedEvent(sessionID string, before, after int) CompressedEvent {
	return CompressedEvent{
		eventBase:    eventBase{Type: EventCompressed, SessionID: sessionID},
		TokensBefore: before,
		TokensAfter:  after,
	}
}

// GetType implements Event.
func (e CompressedEvent) GetType() EventType { return e.Type }

// StatsEvent answers a stats command.
type StatsEvent struct {
	eventBase
	Totals  map[string]any            `json:"totals"`
	ByModel map[string]map[string]any `json:"by_model,omitempty"`
}

// NewStatsEvent constructs a stats event.
func NewStatsEvent(sessionID string, totals map[string]any, byModel map[string]map[string]any) StatsEvent {
	return StatsEvent{
		eventBase: eventBase{Type: EventStats, SessionID: sessionID},
		Totals:    totals,
		ByModel:   byModel,
	}
}

// GetType implements Event.
func (e StatsEvent) GetType() EventType { return e.Type }

// CancelledEvent signals that the in-flight message was aborted.
type CancelledEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent(sessionID, reason string) CancelledEvent {
	return CancelledEvent{
		eventBase: eventBase{Type: EventCancelled, SessionID: sessionID},
		Reason:    reason,
	}
}

// GetType implements Event.
func (e CancelledEvent) GetType() EventType { return e.Type }

// DoneEvent signals that a user message was fully handled.
type DoneEvent struct {
	eventBase
}

// NewDoneEvent constructs a done event.
func NewDoneEvent(sessionID string) DoneEvent {
	return DoneEvent{eventBase: eventBase{Type: EventDone, SessionID: sessionID}}
}

// GetType implements Event.
func (e DoneEvent) GetType() EventType { return e.Type }

// ErrorEvent reports recoverable protocol or agent issues.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(sessionID, message, kind string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, SessionID: sessionID},
		Message:   message,
		Kind:      kind,
	}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }
