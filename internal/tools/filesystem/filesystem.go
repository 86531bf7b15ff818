// Package filesystem implements the working-directory file tools:
// read_file, write_file, and list_directory.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// maxReadBytes caps how much of a file is folded into history.
const maxReadBytes = 256 * 1024

// root confines all three tools to one working directory.
type root struct {
	dir string
}

// resolve joins rel onto the root and rejects paths that escape it.
func (r root) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	cleaned := filepath.Clean(filepath.Join(r.dir, rel))
	base := filepath.Clean(r.dir)
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return cleaned, nil
}

// ReadFile reads one file from the working directory.
type ReadFile struct {
	tool.Base
	root root
}

// NewReadFile builds the read_file tool rooted at workDir.
func NewReadFile(workDir string) *ReadFile {
	return &ReadFile{
		Base: tool.Base{
			ToolName:        "read_file",
			ToolDisplayName: "Read File",
			ToolDescription: "Read a text file from the working directory.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path relative to the working directory."}
				},
				"required": ["path"]
			}`),
		},
		root: root{dir: workDir},
	}
}

// Execute implements the tool.
func (t *ReadFile) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	rel, _ := params["path"].(string)
	path, err := t.root.resolve(rel)
	if err != nil {
		return tool.ErrorResult("bad path", err.Error()), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return tool.ErrorResult("read failed", fmt.Sprintf("read %s: %v", rel, err)), nil
	}
	if info.IsDir() {
		return tool.ErrorResult("read failed", fmt.Sprintf("%s is a directory; use list_directory", rel)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tool.ErrorResult("read failed", fmt.Sprintf("read %s: %v", rel, err)), nil
	}

	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	content := string(data)
	if truncated {
		content += fmt.Sprintf("\n... truncated at %d bytes (file is %d bytes)", maxReadBytes, info.Size())
	}
	return tool.Result{
		Summary:    fmt.Sprintf("read %s (%d bytes)", rel, info.Size()),
		LLMContent: content,
	}, nil
}

// WriteFile writes one file under the working directory, asking before
// overwriting.
type WriteFile struct {
	tool.Base
	root root
}

// NewWriteFile builds the write_file tool rooted at workDir.
func NewWriteFile(workDir string) *WriteFile {
	return &WriteFile{
		Base: tool.Base{
			ToolName:        "write_file",
			ToolDisplayName: "Write File",
			ToolDescription: "Write content to a file under the working directory, creating parent directories as needed.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path relative to the working directory."},
					"content": {"type": "string", "description": "The full file content to write."}
				},
				"required": ["path", "content"]
			}`),
		},
		root: root{dir: workDir},
	}
}

// ShouldConfirm asks before replacing an existing file.
func (t *WriteFile) ShouldConfirm(ctx context.Context, params map[string]any) (*tool.ConfirmationDetails, error) {
	rel, _ := params["path"].(string)
	path, err := t.root.resolve(rel)
	if err != nil {
		return nil, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil || info.IsDir() {
		return nil, nil
	}
	return &tool.ConfirmationDetails{
		Title:     "Overwrite existing file",
		Message:   fmt.Sprintf("%s already exists (%d bytes) and will be replaced.", rel, info.Size()),
		Details:   map[string]any{"path": rel},
		RiskLevel: "medium",
	}, nil
}

// Execute implements the tool.
func (t *WriteFile) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	rel, _ := params["path"].(string)
	content, _ := params["content"].(string)

	path, err := t.root.resolve(rel)
	if err != nil {
		return tool.ErrorResult("bad path", err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.ErrorResult("write failed", fmt.Sprintf("create directory: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tool.ErrorResult("write failed", fmt.Sprintf("write %s: %v", rel, err)), nil
	}

	msg := fmt.Sprintf("Wrote %d bytes to %s.", len(content), rel)
	return tool.Result{
		Summary:       fmt.Sprintf("wrote %s", rel),
		LLMContent:    msg,
		ReturnDisplay: msg,
	}, nil
}

// ListDirectory lists a directory, honoring the working directory's
// .gitignore.
type ListDirectory struct {
	tool.Base
	root root
}

// NewListDirectory builds the list_directory tool rooted at workDir.
func NewListDirectory(workDir string) *ListDirectory {
	return &ListDirectory{
		Base: tool.Base{
			ToolName:        "list_directory",
			ToolDisplayName: "List Directory",
			ToolDescription: "List files and directories under a path in the working directory. Entries matched by .gitignore are skipped.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory path relative to the working directory. Defaults to the root."}
				}
			}`),
		},
		root: root{dir: workDir},
	}
}

func (t *ListDirectory) ignoreMatcher() gitignore.IgnoreParser {
	path := filepath.Join(t.root.dir, ".gitignore")
	if matcher, err := gitignore.CompileIgnoreFile(path); err == nil {
		return matcher
	}
	return nil
}

// Execute implements the tool.
func (t *ListDirectory) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	rel, _ := params["path"].(string)
	path, err := t.root.resolve(rel)
	if err != nil {
		return tool.ErrorResult("bad path", err.Error()), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tool.ErrorResult("list failed", fmt.Sprintf("list %s: %v", rel, err)), nil
	}

	matcher := t.ignoreMatcher()
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if name == ".git" {
			continue
		}
		relToRoot, _ := filepath.Rel(t.root.dir, filepath.Join(path, name))
		if matcher != nil {
			probe := relToRoot
			if entry.IsDir() {
				// Directory-only patterns ("tmp/") need the slash.
				probe += "/"
			}
			if matcher.MatchesPath(probe) {
				continue
			}
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		msg := "Directory is empty."
		return tool.Result{Summary: "empty directory", LLMContent: msg, ReturnDisplay: msg}, nil
	}
	msg := strings.Join(names, "\n")
	return tool.Result{
		Summary:       fmt.Sprintf("%d entr(ies)", len(names)),
		LLMContent:    msg,
		ReturnDisplay: msg,
	}, nil
}
