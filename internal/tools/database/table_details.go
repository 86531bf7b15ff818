package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// TableDetails describes one table: columns, keys, indexes, and a few
// sample rows.
type TableDetails struct {
	tool.Base
	manager *dbconn.Manager
	catalog *Catalog
}

// NewTableDetails builds the table_details tool.
func NewTableDetails(manager *dbconn.Manager, catalog *Catalog) *TableDetails {
	return &TableDetails{
		Base: tool.Base{
			ToolName:        "table_details",
			ToolDisplayName: "Describe Table",
			ToolDescription: "Show a table's columns, primary and foreign keys, indexes, and a few sample rows.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"table": {"type": "string", "description": "Table name."},
					"database": {"type": "string", "description": "Named connection. Defaults to the active connection."},
					"sample_rows": {"type": "integer", "minimum": 0, "maximum": 20, "description": "Sample rows to include. Defaults to 3."}
				},
				"required": ["table"]
			}`),
			OutputMarkdown: true,
		},
		manager: manager,
		catalog: catalog,
	}
}

// Execute implements the tool.
func (t *TableDetails) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	table, _ := params["table"].(string)
	dbName, _ := params["database"].(string)
	sampleRows := 3
	if v, ok := params["sample_rows"].(float64); ok {
		sampleRows = int(v)
	}

	conn, err := t.manager.Resolve(dbName)
	if err != nil {
		return tool.ErrorResult("no database", err.Error()), nil
	}

	cols, err := conn.Columns(ctx, table)
	if err != nil {
		return tool.ErrorResult("describe failed", fmt.Sprintf("describe %s: %v", table, err)), nil
	}
	fks, err := conn.ForeignKeys(ctx, table)
	if err != nil {
		return tool.ErrorResult("describe failed", fmt.Sprintf("foreign keys of %s: %v", table, err)), nil
	}
	indexes, err := conn.Indexes(ctx, table)
	if err != nil {
		return tool.ErrorResult("describe failed", fmt.Sprintf("indexes of %s: %v", table, err)), nil
	}

	var count int64 = -1
	if res, err := conn.Query(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table), 1); err == nil && len(res.Rows) == 1 {
		if n, ok := res.Rows[0][0].(int64); ok {
			count = n
		}
	}

	if err := t.catalog.UpdateTable(TableMeta{
		Connection:  conn.Name(),
		Name:        table,
		Type:        "table",
		RowCount:    count,
		Columns:     cols,
		ForeignKeys: fks,
	}); err != nil {
		return tool.Result{}, fmt.Errorf("index %s: %w", table, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%d rows)\n\n", table, count)
	b.WriteString("| column | type | null | key |\n| --- | --- | --- | --- |\n")
	for _, col := range cols {
		null := "yes"
		if col.NotNull {
			null = "no"
		}
		key := ""
		if col.PrimaryKey {
			key = "PK"
		}
		for _, fk := range fks {
			if fk.Column == col.Name {
				key = fmt.Sprintf("FK → %s.%s", fk.RefTable, fk.RefColumn)
			}
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", col.Name, col.Type, null, key)
	}
	if len(indexes) > 0 {
		b.WriteString("\nIndexes:\n")
		for _, idx := range indexes {
			marker := ""
			if idx.Unique {
				marker = " (unique)"
			}
			fmt.Fprintf(&b, "- %s%s\n", idx.Name, marker)
		}
	}

	var sample *dbconn.QueryResult
	if sampleRows > 0 {
		sample, err = conn.Query(ctx, fmt.Sprintf(`SELECT * FROM %q LIMIT %d`, table, sampleRows), sampleRows)
		if err == nil && len(sample.Rows) > 0 {
			b.WriteString("\nSample rows:\n\n")
			b.WriteString(markdownTable(sample, sampleRows))
		}
	}

	llm := b.String()
	return tool.Result{
		Summary:       fmt.Sprintf("%s: %d column(s), %d row(s)", table, len(cols), count),
		LLMContent:    llm,
		ReturnDisplay: llm,
	}, nil
}
