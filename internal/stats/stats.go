// Package stats accumulates per-model token usage for a session.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Usage is one call's token counts. A nil Usage counts as zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Record is one model call's accounting entry.
type Record struct {
	Model string    `json:"model"`
	Usage Usage     `json:"usage"`
	At    time.Time `json:"at"`
}

// Totals is an aggregated view.
type Totals struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (t *Totals) add(u Usage) {
	t.Calls++
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.TotalTokens += u.TotalTokens
}

// Summary is the session-wide rollup.
type Summary struct {
	Totals  Totals            `json:"totals"`
	ByModel map[string]Totals `json:"by_model"`
	// Models lists the by-model keys in stable order for rendering.
	Models []string `json:"-"`
}

// Statistics is the in-memory accumulator. Safe for concurrent use.
type Statistics struct {
	mu      sync.Mutex
	records []Record
}

// New returns an empty accumulator.
func New() *Statistics {
	return &Statistics{}
}

// Add appends one record. A nil usage is recorded with zero counts, so
// call counts stay accurate even when a provider omits usage metadata.
func (s *Statistics) Add(model string, usage *Usage) {
	var u Usage
	if usage != nil {
		u = *usage
	}
	s.mu.Lock()
	s.records = append(s.records, Record{Model: model, Usage: u, At: time.Now()})
	s.mu.Unlock()
}

// Len reports the number of recorded calls.
func (s *Statistics) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Summary aggregates totals and the per-model breakdown.
func (s *Statistics) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{ByModel: make(map[string]Totals)}
	for _, r := range s.records {
		out.Totals.add(r.Usage)
		mt := out.ByModel[r.Model]
		mt.add(r.Usage)
		out.ByModel[r.Model] = mt
	}
	for model := range out.ByModel {
		out.Models = append(out.Models, model)
	}
	sort.Strings(out.Models)
	return out
}

// Reset drops all records.
func (s *Statistics) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}
