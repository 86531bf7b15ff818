// Package shell implements the shell_execute tool: host command
// execution with a timeout, captured output, and live progress.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

const defaultTimeout = 2 * time.Minute

// outputCap bounds how much captured output is folded into history.
const outputCap = 64 * 1024

// Execute runs commands on the host. Every call goes through the
// confirmation gate; proceed_always trust is per exact command line.
type Execute struct {
	tool.Base
	workDir string
}

// NewExecute builds the shell_execute tool rooted at workDir.
func NewExecute(workDir string) *Execute {
	return &Execute{
		Base: tool.Base{
			ToolName:        "shell_execute",
			ToolDisplayName: "Run Shell Command",
			ToolDescription: "Run a shell command in the working directory and capture its output. Use for data files, scripts, and database CLIs.",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "The shell command line to run."},
					"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 600, "description": "Kill the command after this many seconds. Defaults to 120."}
				},
				"required": ["command"]
			}`),
			UpdatesOutput: true,
			Serial:        true,
		},
		workDir: workDir,
	}
}

// ShouldConfirm always gates shell execution.
func (t *Execute) ShouldConfirm(ctx context.Context, params map[string]any) (*tool.ConfirmationDetails, error) {
	command, _ := params["command"].(string)
	return &tool.ConfirmationDetails{
		Title:     "Run shell command",
		Message:   command,
		Details:   map[string]any{"command": command, "work_dir": t.workDir},
		RiskLevel: "high",
	}, nil
}

// lineWriter tees writes into a buffer and reports complete lines to
// the progress callback.
type lineWriter struct {
	mu       sync.Mutex
	buf      *bytes.Buffer
	pending  strings.Builder
	progress func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if w.progress == nil {
		return len(p), nil
	}
	for _, b := range p {
		if b == '\n' {
			w.progress(w.pending.String())
			w.pending.Reset()
			continue
		}
		w.pending.WriteByte(b)
	}
	return len(p), nil
}

func truncateOutput(s string) string {
	if len(s) <= outputCap {
		return s
	}
	return s[:outputCap] + fmt.Sprintf("\n... truncated at %d bytes", outputCap)
}

// Execute implements the tool.
func (t *Execute) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	command, _ := params["command"].(string)
	timeout := defaultTimeout
	if v, ok := params["timeout_seconds"].(float64); ok {
		timeout = time.Duration(v) * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = t.workDir
	// New process group so cancellation kills child processes too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &lineWriter{buf: &stdoutBuf, progress: progress}
	cmd.Stderr = &lineWriter{buf: &stderrBuf, progress: progress}

	if err := cmd.Start(); err != nil {
		return tool.ErrorResult("start failed", fmt.Sprintf("start command: %v", err)), nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			if cmd.Process != nil {
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", exitCode)
	if timedOut {
		fmt.Fprintf(&b, "command killed after %s timeout\n", timeout)
	}
	if out := strings.TrimRight(stdoutBuf.String(), "\n"); out != "" {
		b.WriteString("stdout:\n" + truncateOutput(out) + "\n")
	}
	if errOut := strings.TrimRight(stderrBuf.String(), "\n"); errOut != "" {
		b.WriteString("stderr:\n" + truncateOutput(errOut) + "\n")
	}
	content := b.String()

	summary := fmt.Sprintf("exit %d", exitCode)
	if exitCode != 0 || timedOut {
		return tool.Result{
			Summary:       summary,
			LLMContent:    content,
			ReturnDisplay: content,
			Error:         fmt.Sprintf("command exited with code %d", exitCode),
		}, nil
	}
	return tool.Result{
		Summary:       summary,
		LLMContent:    content,
		ReturnDisplay: content,
	}, nil
}
