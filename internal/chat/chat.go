package chat

import (
	"strings"
	"sync"
)

// Chat owns the append-only conversation history. All mutation goes
// through the Chat; reads hand out deep-copied snapshots.
type Chat struct {
	mu      sync.Mutex
	history []Content

	// summaryFresh exempts a just-written compression summary from
	// re-summarization until the next append.
	summaryFresh bool
}

// New returns an empty chat, optionally seeded with prior history.
func New(initial ...Content) *Chat {
	c := &Chat{}
	for _, item := range initial {
		c.history = append(c.history, item.Clone())
	}
	return c
}

// Add appends one content to the comprehensive history.
func (c *Chat) Add(content Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, content.Clone())
	c.summaryFresh = false
}

// History returns a snapshot. With curated set, invalid model turns are
// filtered out; the comprehensive view returns everything ever appended.
func (c *Chat) History(curated bool) []Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	if curated {
		return CloneHistory(Curate(c.history))
	}
	return CloneHistory(c.history)
}

// Len reports the comprehensive history length.
func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Clear drops all history.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.summaryFresh = false
}

// Replace swaps the whole history, used by compression and session
// restore.
func (c *Chat) Replace(history []Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = CloneHistory(history)
}

// Curate filters out invalid model turns: empty ones, and call-only
// turns whose every response came back as a bare cancellation. The
// cancelled responses are dropped with their calls so pairing stays
// intact. Curation removes, never reorders, and is idempotent.
func Curate(history []Content) []Content {
	drop := make(map[int]bool)
	for i, c := range history {
		if c.Role != RoleModel {
			continue
		}
		if c.IsEmpty() {
			drop[i] = true
			continue
		}
		calls := c.FunctionCalls()
		if len(calls) == 0 || strings.TrimSpace(c.Text()) != "" {
			continue
		}
		if i+1 >= len(history) || history[i+1].Role != RoleTool {
			continue
		}
		if allCancelledFor(calls, history[i+1].FunctionResponses()) {
			drop[i] = true
			drop[i+1] = true
		}
	}

	out := make([]Content, 0, len(history))
	for i, c := range history {
		if !drop[i] {
			out = append(out, c)
		}
	}
	return out
}

// allCancelledFor reports whether the responses answer exactly these
// calls and every answer is a cancellation carrying nothing else.
func allCancelledFor(calls []FunctionCall, responses []FunctionResponse) bool {
	if len(responses) != len(calls) {
		return false
	}
	byID := make(map[string]FunctionResponse, len(responses))
	for _, fr := range responses {
		byID[fr.ID] = fr
	}
	for _, fc := range calls {
		fr, ok := byID[fc.ID]
		if !ok || !isCancelledResponse(fr) {
			return false
		}
	}
	return true
}

func isCancelledResponse(fr FunctionResponse) bool {
	if len(fr.Response) != 1 {
		return false
	}
	msg, ok := fr.Response["error"].(string)
	return ok && strings.HasPrefix(msg, "Tool call cancelled")
}

// UnpairedCalls returns function calls in the history that have no
// matching function response by ID in any later content.
func UnpairedCalls(history []Content) []FunctionCall {
	answered := make(map[string]bool)
	for _, c := range history {
		for _, fr := range c.FunctionResponses() {
			answered[fr.ID] = true
		}
	}
	var orphans []FunctionCall
	for _, c := range history {
		for _, fc := range c.FunctionCalls() {
			if !answered[fc.ID] {
				orphans = append(orphans, fc)
			}
		}
	}
	return orphans
}

// ReconcilePending appends synthesized cancelled responses for any
// unpaired function calls. Called before a new user turn so strict-pair
// providers never see an orphaned call.
func (c *Chat) ReconcilePending(note string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	orphans := UnpairedCalls(c.history)
	if len(orphans) == 0 {
		return 0
	}
	parts := make([]Part, 0, len(orphans))
	for _, fc := range orphans {
		parts = append(parts, ResponsePart(FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"result": note},
		}))
	}
	c.history = append(c.history, Content{Role: RoleTool, Parts: parts})
	return len(orphans)
}
