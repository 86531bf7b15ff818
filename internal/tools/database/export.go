package database

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// Export writes a query's result set to a CSV or JSON file under the
// working directory.
type Export struct {
	tool.Base
	manager *dbconn.Manager
	workDir string
}

// NewExport builds the database_export tool rooted at workDir.
func NewExport(manager *dbconn.Manager, workDir string) *Export {
	return &Export{
		Base: tool.Base{
			ToolName:        "database_export",
			ToolDisplayName: "Export Query",
			ToolDescription: "Run a query and write the full result set to a CSV or JSON file under the working directory.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"sql": {"type": "string", "description": "The query to export."},
					"path": {"type": "string", "description": "Output file path, relative to the working directory."},
					"format": {"type": "string", "enum": ["csv", "json"], "description": "Output format. Defaults to csv."},
					"database": {"type": "string", "description": "Named connection. Defaults to the active connection."}
				},
				"required": ["sql", "path"]
			}`),
		},
		manager: manager,
		workDir: workDir,
	}
}

func (t *Export) resolvePath(rel string) (string, error) {
	abs := filepath.Join(t.workDir, rel)
	cleaned := filepath.Clean(abs)
	root := filepath.Clean(t.workDir)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return cleaned, nil
}

// ShouldConfirm asks before overwriting an existing file.
func (t *Export) ShouldConfirm(ctx context.Context, params map[string]any) (*tool.ConfirmationDetails, error) {
	rel, _ := params["path"].(string)
	path, err := t.resolvePath(rel)
	if err != nil {
		return nil, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, nil
	}
	return &tool.ConfirmationDetails{
		Title:     "Overwrite existing file",
		Message:   fmt.Sprintf("%s already exists and will be overwritten.", rel),
		Details:   map[string]any{"path": rel},
		RiskLevel: "medium",
	}, nil
}

// Execute implements the tool.
func (t *Export) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	sqlText, _ := params["sql"].(string)
	rel, _ := params["path"].(string)
	format, _ := params["format"].(string)
	if format == "" {
		format = "csv"
	}
	dbName, _ := params["database"].(string)

	if !dbconn.IsQuery(sqlText) {
		return tool.ErrorResult("bad params", "only queries can be exported"), nil
	}

	path, err := t.resolvePath(rel)
	if err != nil {
		return tool.ErrorResult("bad path", err.Error()), nil
	}

	conn, err := t.manager.Resolve(dbName)
	if err != nil {
		return tool.ErrorResult("no database", err.Error()), nil
	}
	res, err := conn.Query(ctx, sqlText, 0)
	if err != nil {
		return tool.ErrorResult("query failed", fmt.Sprintf("query failed: %v", err)), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.ErrorResult("write failed", fmt.Sprintf("create directory: %v", err)), nil
	}

	switch format {
	case "csv":
		err = writeCSV(path, res)
	case "json":
		err = writeJSON(path, res)
	default:
		return tool.ErrorResult("bad params", fmt.Sprintf("unknown format %q", format)), nil
	}
	if err != nil {
		return tool.ErrorResult("write failed", fmt.Sprintf("write %s: %v", rel, err)), nil
	}

	msg := fmt.Sprintf("Exported %d row(s) to %s (%s).", len(res.Rows), rel, format)
	return tool.Result{
		Summary:       fmt.Sprintf("exported %d row(s)", len(res.Rows)),
		LLMContent:    msg,
		ReturnDisplay: msg,
	}, nil
}

func writeCSV(path string, res *dbconn.QueryResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(res.Columns); err != nil {
		return err
	}
	for _, row := range res.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				record[i] = ""
				continue
			}
			record[i] = fmt.Sprintf("%v", v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, res *dbconn.QueryResult) error {
	records := make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		record := make(map[string]any, len(res.Columns))
		for i, col := range res.Columns {
			record[col] = row[i]
		}
		records = append(records, record)
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
