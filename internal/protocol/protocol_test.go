package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeUserMessage(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"user_message","message":"list tables"}`))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	um, ok := cmd.(UserMessageCommand)
	if !ok {
		t.Fatalf("type = %T", cmd)
	}
	if um.Message != "list tables" {
		t.Errorf("message = %q", um.Message)
	}
}

func TestDecodeUserMessageRequiresMessage(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"type":"user_message"}`)); err == nil {
		t.Error("want error for missing message")
	}
}

func TestDecodeConfirmTool(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"confirm_tool","call_id":"c1","outcome":"modify","args":{"sql":"SELECT 1"}}`))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	ct := cmd.(ConfirmToolCommand)
	if ct.CallID != "c1" || ct.Outcome != "modify" {
		t.Errorf("cmd = %+v", ct)
	}
	if ct.Args["sql"] != "SELECT 1" {
		t.Errorf("args = %+v", ct.Args)
	}
}

func TestDecodeConfirmToolValidation(t *testing.T) {
	for _, raw := range []string{
		`{"type":"confirm_tool","outcome":"cancel"}`,
		`{"type":"confirm_tool","call_id":"c1"}`,
	} {
		if _, err := DecodeCommand([]byte(raw)); err == nil {
			t.Errorf("want error for %s", raw)
		}
	}
}

func TestDecodeSimpleCommands(t *testing.T) {
	cases := map[string]CommandType{
		`{"type":"cancel"}`: CommandCancel,
		`{"type":"stats"}`:  CommandStats,
		`{"type":"clear"}`:  CommandClear,
	}
	for raw, want := range cases {
		cmd, err := DecodeCommand([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeCommand(%s): %v", raw, err)
		}
		if cmd.GetType() != want {
			t.Errorf("type = %s, want %s", cmd.GetType(), want)
		}
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"type":"reboot"}`)); err == nil {
		t.Error("want error for unknown type")
	}
}

func TestMarshalEventCarriesType(t *testing.T) {
	data, err := MarshalEvent(NewToolCallsEvent("s1", "r1", []ToolCallInfo{
		{CallID: "c1", Name: "sql_execute", Status: "scheduled"},
	}))
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "tool_calls" || decoded["session_id"] != "s1" {
		t.Errorf("decoded = %+v", decoded)
	}
	calls := decoded["calls"].([]any)
	if calls[0].(map[string]any)["name"] != "sql_execute" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestAssistantTextEventRoundTrip(t *testing.T) {
	data, err := MarshalEvent(NewAssistantTextEvent("s1", "hello", true))
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	var decoded AssistantTextEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Content != "hello" || !decoded.Final {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == "" || a == b {
		t.Errorf("ids = %q, %q", a, b)
	}
}
