package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// SchemaDiscovery lists tables and views with row counts, and feeds the
// shared catalog so later risk assessments and searches know the
// schema.
type SchemaDiscovery struct {
	tool.Base
	manager *dbconn.Manager
	catalog *Catalog
}

// NewSchemaDiscovery builds the schema_discovery tool.
func NewSchemaDiscovery(manager *dbconn.Manager, catalog *Catalog) *SchemaDiscovery {
	return &SchemaDiscovery{
		Base: tool.Base{
			ToolName:        "schema_discovery",
			ToolDisplayName: "Discover Schema",
			ToolDescription: "List the tables and views of a database connection with row counts. Run this before writing queries against an unfamiliar database.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"database": {"type": "string", "description": "Named connection to inspect. Defaults to the active connection."}
				}
			}`),
			OutputMarkdown: true,
		},
		manager: manager,
		catalog: catalog,
	}
}

// Execute implements the tool.
func (t *SchemaDiscovery) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	dbName, _ := params["database"].(string)
	conn, err := t.manager.Resolve(dbName)
	if err != nil {
		return tool.ErrorResult("no database", err.Error()), nil
	}

	tables, err := conn.Tables(ctx)
	if err != nil {
		return tool.ErrorResult("discovery failed", fmt.Sprintf("schema discovery failed: %v", err)), nil
	}
	if len(tables) == 0 {
		msg := fmt.Sprintf("Database %q contains no tables.", conn.Name())
		return tool.Result{Summary: "empty database", LLMContent: msg, ReturnDisplay: msg}, nil
	}

	var display strings.Builder
	display.WriteString("| name | type | rows |\n| --- | --- | --- |\n")
	var llm strings.Builder
	fmt.Fprintf(&llm, "Connection %q, %d object(s):\n", conn.Name(), len(tables))

	for _, tb := range tables {
		meta := TableMeta{
			Connection: conn.Name(),
			Name:       tb.Name,
			Type:       tb.Type,
			RowCount:   tb.RowCount,
		}
		if tb.Type == "table" {
			if cols, err := conn.Columns(ctx, tb.Name); err == nil {
				meta.Columns = cols
			}
			if fks, err := conn.ForeignKeys(ctx, tb.Name); err == nil {
				meta.ForeignKeys = fks
			}
		}
		if err := t.catalog.UpdateTable(meta); err != nil {
			return tool.Result{}, fmt.Errorf("index %s: %w", tb.Name, err)
		}

		rows := fmt.Sprintf("%d", tb.RowCount)
		if tb.RowCount < 0 {
			rows = "-"
		}
		fmt.Fprintf(&display, "| %s | %s | %s |\n", tb.Name, tb.Type, rows)

		var colNames []string
		for _, col := range meta.Columns {
			colNames = append(colNames, col.Name)
		}
		fmt.Fprintf(&llm, "- %s (%s, %s rows): %s\n", tb.Name, tb.Type, rows, strings.Join(colNames, ", "))
	}

	return tool.Result{
		Summary:       fmt.Sprintf("%d object(s) in %s", len(tables), conn.Name()),
		LLMContent:    llm.String(),
		ReturnDisplay: display.String(),
	}, nil
}
