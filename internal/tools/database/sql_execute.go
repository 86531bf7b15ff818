package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/risk"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// SQLExecute runs SQL against a managed connection, gated by the risk
// evaluator for destructive statements.
type SQLExecute struct {
	tool.Base
	manager *dbconn.Manager
	catalog *Catalog
}

// NewSQLExecute builds the sql_execute tool.
func NewSQLExecute(manager *dbconn.Manager, catalog *Catalog) *SQLExecute {
	return &SQLExecute{
		Base: tool.Base{
			ToolName:        "sql_execute",
			ToolDisplayName: "Run SQL",
			ToolDescription: "Execute a SQL statement against the active database connection. Queries return a row sample; modifying statements return the affected row count. Use mode=dry_run to preview a modification inside a rolled-back transaction.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"sql": {"type": "string", "description": "The SQL statement to execute."},
					"database": {"type": "string", "description": "Named connection to run against. Defaults to the active connection."},
					"mode": {"type": "string", "enum": ["execute", "dry_run"], "description": "dry_run executes inside a transaction and rolls back."},
					"limit": {"type": "integer", "minimum": 1, "maximum": 10000, "description": "Maximum rows to fetch for queries. Defaults to 1000."}
				},
				"required": ["sql"]
			}`),
			OutputMarkdown: true,
		},
		manager: manager,
		catalog: catalog,
	}
}

func sqlParam(params map[string]any) string {
	s, _ := params["sql"].(string)
	return s
}

func isDryRun(params map[string]any) bool {
	mode, _ := params["mode"].(string)
	return mode == "dry_run"
}

// ShouldConfirm gates the call on the risk evaluator. Dry runs roll
// back and never need approval.
func (t *SQLExecute) ShouldConfirm(ctx context.Context, params map[string]any) (*tool.ConfirmationDetails, error) {
	if isDryRun(params) {
		return nil, nil
	}
	assessment := risk.Evaluate(sqlParam(params), t.catalog.RiskContext())
	if !assessment.RequiresConfirmation {
		return nil, nil
	}
	return &tool.ConfirmationDetails{
		Title:   fmt.Sprintf("Execute %s statement", assessment.OperationType),
		Message: strings.Join(assessment.Reasons, "; "),
		Details: map[string]any{
			"sql":              sqlParam(params),
			"score":            assessment.Score,
			"estimated_impact": assessment.EstimatedImpact,
			"affected_tables":  assessment.AffectedTables,
			"recommendations":  assessment.Recommendations,
		},
		RiskLevel: string(assessment.Level),
	}, nil
}

// Execute implements the tool.
func (t *SQLExecute) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	sqlText := sqlParam(params)
	dbName, _ := params["database"].(string)

	conn, err := t.manager.Resolve(dbName)
	if err != nil {
		return tool.ErrorResult("no database", err.Error()), nil
	}

	if isDryRun(params) {
		affected, err := conn.DryRun(ctx, sqlText)
		if err != nil {
			return tool.ErrorResult("dry run failed", fmt.Sprintf("dry run failed: %v", err)), nil
		}
		msg := fmt.Sprintf("Dry run: %d row(s) would be affected. No changes were committed.", affected)
		return tool.Result{
			Summary:       fmt.Sprintf("dry run, %d row(s)", affected),
			LLMContent:    msg,
			ReturnDisplay: msg,
		}, nil
	}

	if dbconn.IsQuery(sqlText) {
		limit := 1000
		if v, ok := params["limit"].(float64); ok {
			limit = int(v)
		}
		res, err := conn.Query(ctx, sqlText, limit)
		if err != nil {
			return tool.ErrorResult("query failed", fmt.Sprintf("query failed: %v", err)), nil
		}
		return tool.Result{
			Summary:       fmt.Sprintf("%d row(s)", len(res.Rows)),
			LLMContent:    llmSample(res, llmRowCap),
			ReturnDisplay: markdownTable(res, displayRowCap),
		}, nil
	}

	affected, err := conn.Exec(ctx, sqlText)
	if err != nil {
		return tool.ErrorResult("statement failed", fmt.Sprintf("statement failed: %v", err)), nil
	}
	msg := fmt.Sprintf("OK, %d row(s) affected.", affected)
	return tool.Result{
		Summary:       fmt.Sprintf("%d row(s) affected", affected),
		LLMContent:    msg,
		ReturnDisplay: msg,
	}, nil
}
