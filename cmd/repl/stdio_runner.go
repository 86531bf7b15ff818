package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/rowboat/internal/agent"
	"github.com/ChamsBouzaiene/rowboat/internal/protocol"
	"github.com/ChamsBouzaiene/rowboat/internal/scheduler"
	"github.com/ChamsBouzaiene/rowboat/internal/session"
)

func runStdIO(ctx context.Context, env *runtimeEnv) error {
	log.SetOutput(os.Stderr)
	runner := newStdIORunner(os.Stdin, os.Stdout, env)
	runner.emit(protocol.NewStatusEvent(runner.sessionID, "ready", "stdio protocol ready"))
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner   *bufio.Scanner
	writer    *bufio.Writer
	events    chan protocol.Event
	env       *runtimeEnv
	sessionID string

	mu   sync.Mutex
	busy bool
}

func newStdIORunner(in io.Reader, out io.Writer, env *runtimeEnv) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &stdioRunner{
		scanner:   scanner,
		writer:    bufio.NewWriter(out),
		events:    make(chan protocol.Event, 256),
		env:       env,
		sessionID: protocol.NewSessionID(),
	}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(ctx, errCh)

	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		// Commands run off the input loop so cancel and confirm_tool
		// still land while a user_message is streaming.
		go r.handleLine(ctx, line)
	}

	if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.emit(protocol.NewErrorEvent(r.sessionID, fmt.Sprintf("stdin error: %v", err), "protocol_error"))
	}
	close(r.events)
	return <-errCh
}

func (r *stdioRunner) flushEvents(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errCh <- nil
			return
		case ev, ok := <-r.events:
			if !ok {
				errCh <- r.writer.Flush()
				return
			}
			if err := r.writeEvent(ev); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.writer.Flush()
}

func (r *stdioRunner) emit(ev protocol.Event) {
	select {
	case r.events <- ev:
	default:
		log.Printf("stdio: dropping event %s, buffer full", ev.GetType())
	}
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emit(protocol.NewErrorEvent(r.sessionID, err.Error(), "protocol_error"))
		return
	}

	switch c := cmd.(type) {
	case protocol.UserMessageCommand:
		r.handleUserMessage(ctx, c.Message)
	case protocol.ConfirmToolCommand:
		decision := scheduler.Decision{Outcome: scheduler.Outcome(c.Outcome), NewArgs: c.Args}
		if err := r.env.client.Confirm(c.CallID, decision); err != nil {
			r.emit(protocol.NewErrorEvent(r.sessionID, err.Error(), "confirmation_error"))
		}
	case protocol.CancelCommand:
		r.env.client.Cancel()
	case protocol.StatsCommand:
		r.emitStats()
	case protocol.ClearCommand:
		r.env.client.ClearHistory()
		r.emit(protocol.NewStatusEvent(r.sessionID, "cleared", ""))
	}
}

func (r *stdioRunner) handleUserMessage(ctx context.Context, message string) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		r.emit(protocol.NewErrorEvent(r.sessionID, "a message is already in flight", "busy"))
		return
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	events, err := r.env.client.SendMessageStream(ctx, message)
	if err != nil {
		r.emit(protocol.NewErrorEvent(r.sessionID, err.Error(), "agent_error"))
		return
	}
	for ev := range events {
		r.forward(ev)
	}
	r.persistSession(ctx)
	r.emit(protocol.NewDoneEvent(r.sessionID))
}

// forward maps one agent event onto the wire protocol.
func (r *stdioRunner) forward(ev agent.Event) {
	switch ev.Kind {
	case agent.EventContent:
		r.emit(protocol.NewAssistantTextEvent(r.sessionID, ev.Text, false))
	case agent.EventToolCallRequest:
		r.emit(protocol.NewToolCallsEvent(r.sessionID, ev.RequestID, callInfos(ev.Calls)))
	case agent.EventAwaitingApproval:
		r.emit(protocol.NewApprovalRequiredEvent(r.sessionID, ev.RequestID, callInfos(ev.Calls)))
	case agent.EventToolOutput:
		r.emit(protocol.NewToolOutputEvent(r.sessionID, ev.CallID, ev.Text))
	case agent.EventToolCallResponse:
		r.emit(protocol.NewToolResultsEvent(r.sessionID, ev.RequestID, callInfos(ev.Calls)))
	case agent.EventUsage:
		r.emit(protocol.NewUsageEvent(r.sessionID, ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.TotalTokens))
	case agent.EventCompressed:
		r.emit(protocol.NewCompressedEvent(r.sessionID, ev.Compression.TokensBefore, ev.Compression.TokensAfter))
	case agent.EventCancelled:
		r.emit(protocol.NewCancelledEvent(r.sessionID, "user requested cancellation"))
	case agent.EventMaxTurnsReached:
		r.emit(protocol.NewStatusEvent(r.sessionID, "max_turns_reached", "session turn limit hit"))
	case agent.EventError:
		r.emit(protocol.NewErrorEvent(r.sessionID, ev.Err, "agent_error"))
	}
}

func callInfos(calls []scheduler.Call) []protocol.ToolCallInfo {
	out := make([]protocol.ToolCallInfo, 0, len(calls))
	for _, c := range calls {
		info := protocol.ToolCallInfo{
			CallID:       c.CallID,
			Name:         c.Name,
			Args:         c.Args,
			Status:       string(c.Status),
			ErrorMessage: c.Err,
		}
		if c.Confirmation != nil {
			info.Title = c.Confirmation.Title
			info.Message = c.Confirmation.Message
			info.RiskLevel = c.Confirmation.RiskLevel
		}
		if c.Result != nil {
			info.ResultText = c.Result.ReturnDisplay
			if info.ResultText == "" {
				info.ResultText = c.Result.LLMContent
			}
		}
		out = append(out, info)
	}
	return out
}

func (r *stdioRunner) emitStats() {
	summary := r.env.client.Stats()
	totals := map[string]any{
		"calls":             summary.Totals.Calls,
		"prompt_tokens":     summary.Totals.PromptTokens,
		"completion_tokens": summary.Totals.CompletionTokens,
		"total_tokens":      summary.Totals.TotalTokens,
	}
	byModel := make(map[string]map[string]any, len(summary.ByModel))
	for _, model := range summary.Models {
		t := summary.ByModel[model]
		byModel[model] = map[string]any{
			"calls":             t.Calls,
			"prompt_tokens":     t.PromptTokens,
			"completion_tokens": t.CompletionTokens,
			"total_tokens":      t.TotalTokens,
		}
	}
	r.emit(protocol.NewStatsEvent(r.sessionID, totals, byModel))
}

func (r *stdioRunner) persistSession(ctx context.Context) {
	history := r.env.client.Chat().History(false)
	if len(history) == 0 {
		return
	}
	sess := &session.Session{
		ID:      r.sessionID,
		WorkDir: r.env.workDir,
		History: history,
	}
	if title, err := r.env.titler.GenerateTitle(ctx, history); err == nil {
		sess.Title = title
	}
	if err := r.env.store.Save(sess); err != nil {
		log.Printf("session save failed: %v", err)
	}
}
