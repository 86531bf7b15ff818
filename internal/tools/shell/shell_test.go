package shell

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func workDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "shelltool")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestExecuteCapturesOutput(t *testing.T) {
	tl := NewExecute(workDir(t))

	res, err := tl.Execute(context.Background(), map[string]any{
		"command": "echo hello && echo oops >&2",
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError() {
		t.Fatalf("result error: %s", res.Error)
	}
	if !strings.Contains(res.LLMContent, "exit code: 0") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}
	if !strings.Contains(res.LLMContent, "stdout:\nhello") {
		t.Errorf("stdout missing: %q", res.LLMContent)
	}
	if !strings.Contains(res.LLMContent, "stderr:\noops") {
		t.Errorf("stderr missing: %q", res.LLMContent)
	}
}

func TestExecuteRunsInWorkDir(t *testing.T) {
	dir := workDir(t)
	tl := NewExecute(dir)

	res, err := tl.Execute(context.Background(), map[string]any{"command": "pwd"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.LLMContent, dir) {
		t.Errorf("pwd = %q, want dir %q", res.LLMContent, dir)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	tl := NewExecute(workDir(t))

	res, err := tl.Execute(context.Background(), map[string]any{"command": "exit 3"}, nil)
	if err != nil {
		t.Fatalf("Execute should not fail hard: %v", err)
	}
	if !res.IsError() {
		t.Fatal("want error result")
	}
	if !strings.Contains(res.LLMContent, "exit code: 3") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}
}

func TestExecuteTimeout(t *testing.T) {
	tl := NewExecute(workDir(t))

	start := time.Now()
	res, err := tl.Execute(context.Background(), map[string]any{
		"command":         "sleep 30",
		"timeout_seconds": float64(1),
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout did not fire, ran for %s", elapsed)
	}
	if !res.IsError() {
		t.Fatal("timed-out command should produce an error result")
	}
	if !strings.Contains(res.LLMContent, "timeout") {
		t.Errorf("LLMContent = %q", res.LLMContent)
	}
}

func TestExecuteAbort(t *testing.T) {
	tl := NewExecute(workDir(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := tl.Execute(ctx, map[string]any{"command": "sleep 30"}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("cancellation did not kill the process, ran for %s", elapsed)
	}
	if !res.IsError() {
		t.Error("cancelled command should produce an error result")
	}
}

func TestExecuteStreamsProgress(t *testing.T) {
	tl := NewExecute(workDir(t))

	var mu sync.Mutex
	var lines []string
	progress := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	_, err := tl.Execute(context.Background(), map[string]any{
		"command": "echo one; echo two",
	}, progress)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "|")
	if !strings.Contains(joined, "one") || !strings.Contains(joined, "two") {
		t.Errorf("progress lines = %q", lines)
	}
}

func TestShouldConfirmAlways(t *testing.T) {
	tl := NewExecute(workDir(t))

	details, err := tl.ShouldConfirm(context.Background(), map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("ShouldConfirm: %v", err)
	}
	if details == nil {
		t.Fatal("shell commands should always require confirmation")
	}
	if details.RiskLevel != "high" {
		t.Errorf("RiskLevel = %q, want high", details.RiskLevel)
	}
	if details.Message != "ls" {
		t.Errorf("Message = %q", details.Message)
	}
}
