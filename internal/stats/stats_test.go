package stats

import "testing"

func TestSummaryAggregates(t *testing.T) {
	s := New()
	s.Add("gemini-2.0-flash", &Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	s.Add("gemini-2.0-flash", &Usage{PromptTokens: 200, CompletionTokens: 50, TotalTokens: 250})
	s.Add("claude-sonnet-4", &Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40})

	sum := s.Summary()
	if sum.Totals.Calls != 3 {
		t.Errorf("Calls = %d, want 3", sum.Totals.Calls)
	}
	if sum.Totals.PromptTokens != 330 || sum.Totals.CompletionTokens != 80 || sum.Totals.TotalTokens != 410 {
		t.Errorf("Totals = %+v", sum.Totals)
	}
	if sum.Totals.PromptTokens+sum.Totals.CompletionTokens != sum.Totals.TotalTokens {
		t.Errorf("prompt+completion != total: %+v", sum.Totals)
	}

	gem := sum.ByModel["gemini-2.0-flash"]
	if gem.Calls != 2 || gem.TotalTokens != 370 {
		t.Errorf("gemini totals = %+v", gem)
	}
	if len(sum.Models) != 2 || sum.Models[0] != "claude-sonnet-4" {
		t.Errorf("Models = %v, want sorted keys", sum.Models)
	}
}

func TestNilUsageCountsAsZeroCall(t *testing.T) {
	s := New()
	s.Add("gemini-2.0-flash", nil)

	sum := s.Summary()
	if sum.Totals.Calls != 1 {
		t.Errorf("Calls = %d, want 1", sum.Totals.Calls)
	}
	if sum.Totals.TotalTokens != 0 {
		t.Errorf("TotalTokens = %d, want 0", sum.Totals.TotalTokens)
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Add("m", &Usage{TotalTokens: 5})
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len after Reset = %d", s.Len())
	}
	if got := s.Summary(); got.Totals.Calls != 0 {
		t.Errorf("Summary after Reset = %+v", got)
	}
}

func TestEmptySummary(t *testing.T) {
	sum := New().Summary()
	if sum.Totals.Calls != 0 || len(sum.ByModel) != 0 {
		t.Errorf("empty summary = %+v", sum)
	}
}
