package provider

import (
	"testing"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
)

func modelWithCalls(calls ...chat.FunctionCall) chat.Content {
	c := chat.Content{Role: chat.RoleModel}
	for _, fc := range calls {
		c.Parts = append(c.Parts, chat.CallPart(fc))
	}
	return c
}

func toolResponse(id, name string, payload map[string]any) chat.Content {
	return chat.Content{
		Role:  chat.RoleTool,
		Parts: []chat.Part{chat.ResponsePart(chat.FunctionResponse{ID: id, Name: name, Response: payload})},
	}
}

func TestRepairStrictPairingReordersResponses(t *testing.T) {
	history := []chat.Content{
		chat.NewUserText("list tables"),
		modelWithCalls(
			chat.FunctionCall{ID: "c1", Name: "sql_execute", Args: map[string]any{"sql": "SELECT 1"}},
			chat.FunctionCall{ID: "c2", Name: "sql_execute", Args: map[string]any{"sql": "SELECT 2"}},
		),
		// Responses arrive out of order relative to the calls.
		toolResponse("c2", "sql_execute", map[string]any{"result": "two"}),
		toolResponse("c1", "sql_execute", map[string]any{"result": "one"}),
		chat.NewUserText("thanks"),
	}

	out := repairStrictPairing(history)
	if len(out) != 5 {
		t.Fatalf("len(out) = %d, want 5", len(out))
	}
	if out[1].Role != chat.RoleModel {
		t.Fatalf("out[1].Role = %q, want model", out[1].Role)
	}
	frs := out[2].FunctionResponses()
	if len(frs) != 1 || frs[0].ID != "c1" {
		t.Errorf("out[2] responses = %+v, want single c1", frs)
	}
	frs = out[3].FunctionResponses()
	if len(frs) != 1 || frs[0].ID != "c2" {
		t.Errorf("out[3] responses = %+v, want single c2", frs)
	}
	if out[4].Text() != "thanks" {
		t.Errorf("trailing user turn lost: %+v", out[4])
	}
}

func TestRepairStrictPairingDropsBridgePrompts(t *testing.T) {
	history := []chat.Content{
		modelWithCalls(chat.FunctionCall{ID: "c1", Name: "schema_discovery", Args: map[string]any{}}),
		chat.NewUserText("Please continue."),
		toolResponse("c1", "schema_discovery", map[string]any{"result": "ok"}),
	}

	out := repairStrictPairing(history)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (bridge prompt dropped)", len(out))
	}
	if got := out[1].FunctionResponses(); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("out[1] = %+v, want response for c1", out[1])
	}
}

func TestRepairStrictPairingKeepsOrdinaryUserTurns(t *testing.T) {
	history := []chat.Content{
		modelWithCalls(chat.FunctionCall{ID: "c1", Name: "sql_execute", Args: map[string]any{}}),
		chat.NewUserText("actually, stop"),
	}

	out := repairStrictPairing(history)
	// The real user turn is not a bridge prompt, so the call gets a
	// placeholder and the turn survives after it.
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	frs := out[1].FunctionResponses()
	if len(frs) != 1 {
		t.Fatalf("missing placeholder response: %+v", out[1])
	}
	if got := frs[0].Response["result"]; got != pendingToolNote {
		t.Errorf("placeholder result = %v, want %q", got, pendingToolNote)
	}
	if out[2].Text() != "actually, stop" {
		t.Errorf("user turn lost: %+v", out[2])
	}
}

func TestRepairStrictPairingSynthesizesPlaceholders(t *testing.T) {
	history := []chat.Content{
		modelWithCalls(chat.FunctionCall{ID: "orphan", Name: "sql_execute", Args: map[string]any{}}),
	}

	out := repairStrictPairing(history)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	frs := out[1].FunctionResponses()
	if len(frs) != 1 || frs[0].ID != "orphan" {
		t.Fatalf("out[1] = %+v, want placeholder for orphan", out[1])
	}
	if frs[0].Response["result"] != pendingToolNote {
		t.Errorf("placeholder payload = %+v", frs[0].Response)
	}
}

func TestIsBridgePrompt(t *testing.T) {
	if !isBridgePrompt(chat.NewUserText("Please continue.")) {
		t.Error("Please continue. should be a bridge prompt")
	}
	if !isBridgePrompt(chat.NewUserText("Continue the conversation.")) {
		t.Error("Continue the conversation. should be a bridge prompt")
	}
	if isBridgePrompt(chat.NewUserText("please continue with the export")) {
		t.Error("ordinary request misclassified as bridge prompt")
	}
	if isBridgePrompt(chat.Content{Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart("Please continue.")}}) {
		t.Error("model turn misclassified as bridge prompt")
	}
}

func TestResponseText(t *testing.T) {
	cases := []struct {
		name string
		fr   chat.FunctionResponse
		want string
	}{
		{"error wins", chat.FunctionResponse{Response: map[string]any{"error": "boom", "result": "x"}}, "boom"},
		{"string result", chat.FunctionResponse{Response: map[string]any{"result": "5 rows"}}, "5 rows"},
		{"empty result", chat.FunctionResponse{Response: map[string]any{"result": ""}}, "{}"},
		{"nil payload", chat.FunctionResponse{}, "{}"},
		{"structured payload", chat.FunctionResponse{Response: map[string]any{"rows": float64(3)}}, `{"rows":3}`},
	}
	for _, tc := range cases {
		if got := responseText(tc.fr); got != tc.want {
			t.Errorf("%s: responseText = %q, want %q", tc.name, got, tc.want)
		}
	}
}
