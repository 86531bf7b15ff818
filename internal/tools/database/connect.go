package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// Connect registers and switches named database connections.
type Connect struct {
	tool.Base
	manager *dbconn.Manager
}

// NewConnect builds the database_connect tool.
func NewConnect(manager *dbconn.Manager) *Connect {
	return &Connect{
		Base: tool.Base{
			ToolName:        "database_connect",
			ToolDisplayName: "Connect Database",
			ToolDescription: "Register a named database connection, switch the active connection, or list registered connections.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["connect", "switch", "list"], "description": "What to do."},
					"name": {"type": "string", "description": "Connection name. Required for connect and switch."},
					"driver": {"type": "string", "enum": ["sqlite"], "description": "Database driver. Required for connect."},
					"path": {"type": "string", "description": "Database file path. Required for connect."}
				},
				"required": ["action"]
			}`),
		},
		manager: manager,
	}
}

// Execute implements the tool.
func (t *Connect) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	action, _ := params["action"].(string)
	name, _ := params["name"].(string)

	switch action {
	case "connect":
		driver, _ := params["driver"].(string)
		path, _ := params["path"].(string)
		if name == "" || driver == "" || path == "" {
			return tool.ErrorResult("bad params", "connect requires name, driver, and path"), nil
		}
		if _, err := t.manager.Connect(ctx, name, driver, dbconn.SQLiteDSN(path)); err != nil {
			return tool.ErrorResult("connect failed", fmt.Sprintf("connect %s: %v", name, err)), nil
		}
		msg := fmt.Sprintf("Connected %q (%s: %s). Active connection: %q.", name, driver, path, t.manager.ActiveName())
		return tool.Result{Summary: "connected " + name, LLMContent: msg, ReturnDisplay: msg}, nil

	case "switch":
		if name == "" {
			return tool.ErrorResult("bad params", "switch requires name"), nil
		}
		if err := t.manager.SwitchTo(name); err != nil {
			return tool.ErrorResult("switch failed", err.Error()), nil
		}
		msg := fmt.Sprintf("Active connection is now %q.", name)
		return tool.Result{Summary: "switched to " + name, LLMContent: msg, ReturnDisplay: msg}, nil

	case "list":
		names := t.manager.Names()
		if len(names) == 0 {
			msg := "No connections registered."
			return tool.Result{Summary: "no connections", LLMContent: msg, ReturnDisplay: msg}, nil
		}
		active := t.manager.ActiveName()
		var lines []string
		for _, n := range names {
			marker := ""
			if n == active {
				marker = " (active)"
			}
			lines = append(lines, "- "+n+marker)
		}
		msg := "Connections:\n" + strings.Join(lines, "\n")
		return tool.Result{Summary: fmt.Sprintf("%d connection(s)", len(names)), LLMContent: msg, ReturnDisplay: msg}, nil

	default:
		return tool.ErrorResult("bad params", fmt.Sprintf("unknown action %q", action)), nil
	}
}
