package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Estimator counts tokens for a piece of text. The model name is passed
// through because tokenization differs per model family; the default
// implementation ignores it.
type Estimator interface {
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens gives a rough token count: ~4 characters per token,
// with a whitespace adjustment. Good enough for budget decisions; exact
// counts come back from providers in usage metadata.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// DefaultEstimator estimates with the character heuristic.
type DefaultEstimator struct{}

// CountTokens implements Estimator.
func (DefaultEstimator) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// EstimateHistoryTokens counts tokens across a history slice, including
// function-call args and function-response payloads plus a small
// per-content formatting overhead.
func EstimateHistoryTokens(est Estimator, history []Content, model string) (int, error) {
	total := 0
	for _, c := range history {
		n, err := est.CountTokens(string(c.Role), model)
		if err != nil {
			return 0, fmt.Errorf("count role tokens: %w", err)
		}
		total += n

		for _, p := range c.Parts {
			if p.Text != "" {
				n, err := est.CountTokens(p.Text, model)
				if err != nil {
					return 0, fmt.Errorf("count text tokens: %w", err)
				}
				total += n
			}
			if p.FunctionCall != nil {
				n, err := est.CountTokens(p.FunctionCall.Name+jsonString(p.FunctionCall.Args), model)
				if err != nil {
					return 0, fmt.Errorf("count call tokens: %w", err)
				}
				total += n
			}
			if p.FunctionResponse != nil {
				n, err := est.CountTokens(p.FunctionResponse.Name+jsonString(p.FunctionResponse.Response), model)
				if err != nil {
					return 0, fmt.Errorf("count response tokens: %w", err)
				}
				total += n
			}
		}

		// Per-message formatting overhead.
		total += 4
	}
	return total, nil
}

func jsonString(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}
