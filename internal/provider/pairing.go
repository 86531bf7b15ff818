package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/chat"
)

// bridgePrompts are synthetic user turns the client injects to re-enter
// the turn loop. They desynchronize strict call/result pairing when
// they land between an assistant tool call and its result, so the
// repair pass drops them from that position.
var bridgePrompts = map[string]bool{
	"Please continue.":           true,
	"Continue the conversation.": true,
}

func isBridgePrompt(c chat.Content) bool {
	if c.Role != chat.RoleUser {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionCall != nil || p.FunctionResponse != nil {
			return false
		}
	}
	return bridgePrompts[strings.TrimSpace(c.Text())]
}

// repairStrictPairing reorders history for providers whose wire
// protocols reject an assistant message with tool calls unless each
// call is immediately followed by its matching result:
//
//  1. Each model content carrying function calls is immediately
//     followed by one tool content per call, in call order.
//  2. Bridge prompts sitting between a call and its result are dropped.
//  3. Unpaired calls get a synthesized placeholder result.
//
// Contents without calls pass through untouched; the pass never
// reorders anything else.
func repairStrictPairing(history []chat.Content) []chat.Content {
	out := make([]chat.Content, 0, len(history))
	consumed := make(map[int]bool)

	for i, c := range history {
		if consumed[i] {
			continue
		}
		calls := c.FunctionCalls()
		if c.Role != chat.RoleModel || len(calls) == 0 {
			out = append(out, c)
			continue
		}

		out = append(out, c)

		wanted := make(map[string]bool, len(calls))
		for _, fc := range calls {
			wanted[fc.ID] = true
		}
		found := make(map[string]chat.FunctionResponse, len(calls))

		for j := i + 1; j < len(history) && len(found) < len(calls); j++ {
			if consumed[j] {
				continue
			}
			cj := history[j]
			if isBridgePrompt(cj) {
				consumed[j] = true
				continue
			}
			matched := false
			for _, fr := range cj.FunctionResponses() {
				if wanted[fr.ID] {
					found[fr.ID] = fr
					matched = true
				}
			}
			if matched {
				consumed[j] = true
				continue
			}
			if cj.Role == chat.RoleModel {
				break
			}
		}

		for _, fc := range calls {
			fr, ok := found[fc.ID]
			if !ok {
				fr = chat.FunctionResponse{
					ID:       fc.ID,
					Name:     fc.Name,
					Response: map[string]any{"result": pendingToolNote},
				}
			}
			out = append(out, chat.Content{
				Role:  chat.RoleTool,
				Parts: []chat.Part{chat.ResponsePart(fr)},
			})
		}
	}

	return out
}

// responseText renders a function-response payload as the string body
// strict-pair providers carry in their tool-result messages.
func responseText(fr chat.FunctionResponse) string {
	if fr.Response == nil {
		return "{}"
	}
	if errText, ok := fr.Response["error"].(string); ok && errText != "" {
		return errText
	}
	if result, ok := fr.Response["result"].(string); ok {
		if result == "" {
			return "{}"
		}
		return result
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(b)
}
