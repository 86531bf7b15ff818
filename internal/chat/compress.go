package chat

import (
	"context"
	"fmt"
	"strings"
)

// SummaryPrefix marks the synthetic user content that replaces a
// compressed history prefix.
const SummaryPrefix = "[prior-context-summary] "

// Summarizer produces an objective recap of a history prefix. The agent
// layer backs this with a structured provider call.
type Summarizer interface {
	Summarize(ctx context.Context, history []Content) (string, error)
}

// CompressionConfig controls when and how compression fires.
type CompressionConfig struct {
	// ContextBudget is the model context window in tokens.
	ContextBudget int
	// Threshold is the fraction of the budget that triggers
	// compression. Defaults to 0.7.
	Threshold float64
	// KeepRecent is the number of most recent contents preserved
	// verbatim, including the current user turn. Defaults to 6.
	KeepRecent int
	// Model is passed to the token estimator.
	Model string
}

func (c CompressionConfig) withDefaults() CompressionConfig {
	if c.Threshold <= 0 {
		c.Threshold = 0.7
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 6
	}
	return c
}

// CompressionInfo reports a completed compression.
type CompressionInfo struct {
	TokensBefore int
	TokensAfter  int
}

// CompressIfNeeded checks the curated history against the token budget
// and, when over threshold, replaces the older prefix with a single
// synthetic user summary. Returns nil when nothing was done. The
// summary content is exempt from re-summarization until the next
// append, which makes back-to-back compression idempotent.
func (c *Chat) CompressIfNeeded(ctx context.Context, s Summarizer, est Estimator, cfg CompressionConfig) (*CompressionInfo, error) {
	cfg = cfg.withDefaults()
	if cfg.ContextBudget <= 0 || s == nil {
		return nil, nil
	}
	if est == nil {
		est = DefaultEstimator{}
	}

	c.mu.Lock()
	if c.summaryFresh {
		c.mu.Unlock()
		return nil, nil
	}
	curated := Curate(c.history)
	snapshot := CloneHistory(curated)
	c.mu.Unlock()

	before, err := EstimateHistoryTokens(est, snapshot, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("estimate history tokens: %w", err)
	}
	limit := int(float64(cfg.ContextBudget) * cfg.Threshold)
	if before <= limit {
		return nil, nil
	}
	if len(snapshot) <= cfg.KeepRecent {
		return nil, nil
	}

	split := compressionBoundary(snapshot, cfg.KeepRecent)
	if split <= 0 {
		return nil, nil
	}
	prefix := snapshot[:split]
	recent := snapshot[split:]

	summary, err := s.Summarize(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("summarize history prefix: %w", err)
	}

	replacement := append(
		[]Content{NewUserText(SummaryPrefix + strings.TrimSpace(summary))},
		recent...,
	)

	after, err := EstimateHistoryTokens(est, replacement, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("estimate compressed tokens: %w", err)
	}

	c.mu.Lock()
	c.history = CloneHistory(replacement)
	c.summaryFresh = true
	c.mu.Unlock()

	return &CompressionInfo{TokensBefore: before, TokensAfter: after}, nil
}

// compressionBoundary finds the split index that keeps the last
// keepRecent contents, nudged backward so a function call is never
// separated from its response.
func compressionBoundary(history []Content, keepRecent int) int {
	split := len(history) - keepRecent
	if split <= 0 {
		return 0
	}
	// Do not split right before a tool content: its paired call would
	// land in the summarized prefix.
	for split > 0 && history[split].Role == RoleTool {
		split--
	}
	return split
}
