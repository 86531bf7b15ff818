package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// Search finds tables and columns by name across everything the
// catalog has discovered.
type Search struct {
	tool.Base
	catalog *Catalog
}

// NewSearch builds the schema_search tool.
func NewSearch(catalog *Catalog) *Search {
	return &Search{
		Base: tool.Base{
			ToolName:        "schema_search",
			ToolDisplayName: "Search Schema",
			ToolDescription: "Full-text search over discovered table and column names. Run schema_discovery first to populate the index.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search terms, e.g. a column or concept name."},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum hits. Defaults to 10."}
				},
				"required": ["query"]
			}`),
		},
		catalog: catalog,
	}
}

// Execute implements the tool.
func (t *Search) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	query, _ := params["query"].(string)
	limit := 10
	if v, ok := params["limit"].(float64); ok {
		limit = int(v)
	}

	hits, err := t.catalog.Search(query, limit)
	if err != nil {
		return tool.ErrorResult("search failed", fmt.Sprintf("schema search failed: %v", err)), nil
	}
	if len(hits) == 0 {
		msg := fmt.Sprintf("No schema objects match %q. Run schema_discovery to index a database first.", query)
		return tool.Result{Summary: "no matches", LLMContent: msg, ReturnDisplay: msg}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es) for %q:\n", len(hits), query)
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%s] %s on %s (connection %s)\n", h.Kind, h.Text, h.Table, h.Connection)
	}
	msg := b.String()
	return tool.Result{
		Summary:       fmt.Sprintf("%d match(es)", len(hits)),
		LLMContent:    msg,
		ReturnDisplay: msg,
	}, nil
}
