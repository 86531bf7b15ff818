package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/abort"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// fakeTool is a scriptable tool for scheduler tests.
type fakeTool struct {
	tool.Base
	confirm *tool.ConfirmationDetails
	execute func(ctx context.Context, params map[string]any) (tool.Result, error)

	mu      sync.Mutex
	started []time.Time
	running int
	maxRun  int
}

func newFakeTool(name string) *fakeTool {
	return &fakeTool{
		Base: tool.Base{
			ToolName:        name,
			ToolDisplayName: name,
			ToolDescription: "test tool",
			ParameterSchema: tool.MustSchema(`{
				"type": "object",
				"properties": {"value": {"type": "string"}},
				"required": ["value"]
			}`),
		},
	}
}

func (f *fakeTool) ShouldConfirm(ctx context.Context, params map[string]any) (*tool.ConfirmationDetails, error) {
	return f.confirm, nil
}

func (f *fakeTool) Execute(ctx context.Context, params map[string]any, progress func(string)) (tool.Result, error) {
	f.mu.Lock()
	f.started = append(f.started, time.Now())
	f.running++
	if f.running > f.maxRun {
		f.maxRun = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return tool.Result{Summary: "ok", LLMContent: fmt.Sprintf("ran with %v", params["value"])}, nil
}

func newScheduler(t *testing.T, tools ...tool.Tool) *Scheduler {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		reg.MustRegister(tl)
	}
	return New(reg, Config{DefaultTimeout: 2 * time.Second})
}

func waitBatch(t *testing.T, s *Scheduler, requestID string) {
	t.Helper()
	select {
	case <-s.Done(requestID):
	case <-time.After(3 * time.Second):
		t.Fatalf("batch %s did not complete; calls: %+v", requestID, s.Calls())
	}
}

func TestScheduleRunsToSuccess(t *testing.T) {
	ft := newFakeTool("echo")
	s := newScheduler(t, ft)
	sig := abort.New()

	err := s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "echo", Args: map[string]any{"value": "hi"}},
	}, sig)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitBatch(t, s, "r1")

	calls := s.BatchCalls("r1")
	if calls[0].Status != StatusSuccess {
		t.Fatalf("status = %s, want success (err: %s)", calls[0].Status, calls[0].Err)
	}
	resp := s.Responses("r1")
	if resp[0].Response["result"] != "ran with hi" {
		t.Errorf("response = %+v", resp[0].Response)
	}
}

func TestValidationFailureGoesToError(t *testing.T) {
	ft := newFakeTool("echo")
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "echo", Args: map[string]any{}},
	}, abort.New())
	waitBatch(t, s, "r1")

	calls := s.BatchCalls("r1")
	if calls[0].Status != StatusError {
		t.Fatalf("status = %s, want error", calls[0].Status)
	}
	if calls[0].Result != nil {
		t.Error("validation failure should carry no result")
	}
	if resp := s.Responses("r1"); resp[0].Response["error"] == nil {
		t.Errorf("response = %+v, want error payload", resp[0].Response)
	}
}

func TestUnknownToolGoesToError(t *testing.T) {
	s := newScheduler(t, newFakeTool("echo"))
	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "nope", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	if got := s.BatchCalls("r1")[0].Status; got != StatusError {
		t.Errorf("status = %s, want error", got)
	}
}

func TestConfirmationGateProceedOnce(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?", RiskLevel: "high"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())

	deadline := time.Now().Add(time.Second)
	for {
		calls := s.BatchCalls("r1")
		if calls[0].Status == StatusAwaitingApproval {
			if calls[0].Confirmation == nil || calls[0].Confirmation.RiskLevel != "high" {
				t.Fatalf("confirmation details = %+v", calls[0].Confirmation)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reached awaiting_approval: %+v", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeProceedOnce}); err != nil {
		t.Fatalf("HandleConfirmation: %v", err)
	}
	waitBatch(t, s, "r1")

	if got := s.BatchCalls("r1")[0].Status; got != StatusSuccess {
		t.Errorf("status = %s, want success", got)
	}

	// proceed_once does not trust the tool; the next identical call
	// still parks.
	s.Schedule(context.Background(), []Request{
		{CallID: "c2", RequestID: "r2", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)
	if got := s.BatchCalls("r2")[0].Status; got != StatusAwaitingApproval {
		t.Errorf("second call status = %s, want awaiting_approval", got)
	}
	s.HandleConfirmation("c2", Decision{Outcome: OutcomeCancel})
}

func TestConfirmationProceedAlwaysTrustsFingerprint(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)
	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeProceedAlways}); err != nil {
		t.Fatalf("HandleConfirmation: %v", err)
	}
	waitBatch(t, s, "r1")

	// Same args: trusted, skips the gate.
	s.Schedule(context.Background(), []Request{
		{CallID: "c2", RequestID: "r2", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r2")
	if got := s.BatchCalls("r2")[0].Status; got != StatusSuccess {
		t.Errorf("trusted call status = %s, want success", got)
	}

	// Different args: fingerprint mismatch, parks again.
	s.Schedule(context.Background(), []Request{
		{CallID: "c3", RequestID: "r3", Name: "risky", Args: map[string]any{"value": "other"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)
	if got := s.BatchCalls("r3")[0].Status; got != StatusAwaitingApproval {
		t.Errorf("different-args call status = %s, want awaiting_approval", got)
	}
	s.HandleConfirmation("c3", Decision{Outcome: OutcomeCancel})
}

func TestConfirmationCancelMarksUserRejected(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)
	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeCancel}); err != nil {
		t.Fatalf("HandleConfirmation: %v", err)
	}
	waitBatch(t, s, "r1")

	call := s.BatchCalls("r1")[0]
	if call.Status != StatusCancelled || !call.UserRejected {
		t.Errorf("call = %+v, want cancelled+userRejected", call)
	}
	if !s.UserRejected("r1") {
		t.Error("UserRejected(r1) = false")
	}
	if got := s.Responses("r1")[0].Response["error"]; got != "Tool call cancelled by user" {
		t.Errorf("response error = %v", got)
	}
}

func TestConfirmationAfterCancelAllReturnsError(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)
	s.CancelAll()

	// The call is already cancelled; a late decision must fail cleanly
	// instead of forcing an invalid transition.
	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeProceedOnce}); err == nil {
		t.Fatal("want error confirming a cancelled call")
	}
	waitBatch(t, s, "r1")
	if got := s.BatchCalls("r1")[0].Status; got != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestDuplicateConfirmationReturnsError(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)

	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeProceedOnce}); err != nil {
		t.Fatalf("first HandleConfirmation: %v", err)
	}
	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeCancel}); err == nil {
		t.Fatal("want error for a second decision on the same call")
	}
	waitBatch(t, s, "r1")
	if got := s.BatchCalls("r1")[0].Status; got != StatusSuccess {
		t.Errorf("status = %s, want success from the first decision", got)
	}
}

func TestConfirmationModifyReplacesArgs(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "before"}},
	}, abort.New())
	time.Sleep(50 * time.Millisecond)

	// Invalid replacement args are rejected and the call stays parked.
	if err := s.HandleConfirmation("c1", Decision{Outcome: OutcomeModify, NewArgs: map[string]any{}}); err == nil {
		t.Fatal("want error for invalid modified args")
	}
	if got := s.BatchCalls("r1")[0].Status; got != StatusAwaitingApproval {
		t.Fatalf("status after rejected modify = %s", got)
	}

	if err := s.HandleConfirmation("c1", Decision{
		Outcome: OutcomeModify,
		NewArgs: map[string]any{"value": "after"},
	}); err != nil {
		t.Fatalf("HandleConfirmation: %v", err)
	}
	waitBatch(t, s, "r1")

	if got := s.Responses("r1")[0].Response["result"]; got != "ran with after" {
		t.Errorf("result = %v, want ran with after", got)
	}
}

func TestResponsesPreserveCallOrder(t *testing.T) {
	slow := newFakeTool("slow")
	slow.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		time.Sleep(100 * time.Millisecond)
		return tool.Result{LLMContent: "slow done"}, nil
	}
	fast := newFakeTool("fast")
	s := newScheduler(t, slow, fast)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "slow", Args: map[string]any{"value": "a"}},
		{CallID: "c2", RequestID: "r1", Name: "fast", Args: map[string]any{"value": "b"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	resp := s.Responses("r1")
	if resp[0].ID != "c1" || resp[1].ID != "c2" {
		t.Errorf("response order = %s, %s; want c1, c2", resp[0].ID, resp[1].ID)
	}
}

func TestSerialToolNeverOverlaps(t *testing.T) {
	serial := newFakeTool("serial")
	serial.Serial = true
	serial.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return tool.Result{LLMContent: "done"}, nil
	}
	s := newScheduler(t, serial)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "serial", Args: map[string]any{"value": "1"}},
		{CallID: "c2", RequestID: "r1", Name: "serial", Args: map[string]any{"value": "2"}},
		{CallID: "c3", RequestID: "r1", Name: "serial", Args: map[string]any{"value": "3"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	if serial.maxRun != 1 {
		t.Errorf("max concurrent executions = %d, want 1", serial.maxRun)
	}
}

func TestCrossBatchOrdering(t *testing.T) {
	var mu sync.Mutex
	var events []string
	ft := newFakeTool("echo")
	ft.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		mu.Lock()
		events = append(events, params["value"].(string))
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return tool.Result{LLMContent: "ok"}, nil
	}
	s := newScheduler(t, ft)
	sig := abort.New()

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "echo", Args: map[string]any{"value": "batch1"}},
	}, sig)
	s.Schedule(context.Background(), []Request{
		{CallID: "c2", RequestID: "r2", Name: "echo", Args: map[string]any{"value": "batch2"}},
	}, sig)
	waitBatch(t, s, "r2")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "batch1" || events[1] != "batch2" {
		t.Errorf("execution order = %v, want [batch1 batch2]", events)
	}
}

func TestOnBatchCompleteFiresOnce(t *testing.T) {
	ft := newFakeTool("echo")
	s := newScheduler(t, ft)
	var mu sync.Mutex
	completions := 0
	s.OnBatchComplete = func(requestID string, calls []Call) {
		mu.Lock()
		completions++
		mu.Unlock()
	}

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "echo", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r1")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}

func TestAbortCancelsAwaitingCall(t *testing.T) {
	ft := newFakeTool("risky")
	ft.confirm = &tool.ConfirmationDetails{Title: "Run?"}
	s := newScheduler(t, ft)
	sig := abort.New()

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "risky", Args: map[string]any{"value": "x"}},
	}, sig)
	time.Sleep(50 * time.Millisecond)
	sig.Abort()
	waitBatch(t, s, "r1")

	call := s.BatchCalls("r1")[0]
	if call.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", call.Status)
	}
	if call.UserRejected {
		t.Error("abort is not an explicit user rejection")
	}
}

func TestAbortCancelsExecutingCall(t *testing.T) {
	ft := newFakeTool("sleepy")
	ft.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		select {
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		case <-time.After(2 * time.Second):
			return tool.Result{LLMContent: "finished"}, nil
		}
	}
	s := newScheduler(t, ft)
	sig := abort.New()

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "sleepy", Args: map[string]any{"value": "x"}},
	}, sig)
	time.Sleep(50 * time.Millisecond)
	sig.Abort()
	waitBatch(t, s, "r1")

	if got := s.BatchCalls("r1")[0].Status; got != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestToolTimeoutBecomesCancellation(t *testing.T) {
	ft := newFakeTool("sleepy")
	ft.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		<-ctx.Done()
		return tool.Result{}, ctx.Err()
	}
	reg := tool.NewRegistry()
	reg.MustRegister(ft)
	s := New(reg, Config{DefaultTimeout: 50 * time.Millisecond})

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "sleepy", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	call := s.BatchCalls("r1")[0]
	if call.Status != StatusCancelled || !call.TimedOut {
		t.Fatalf("call = %+v, want cancelled with timeout", call)
	}
	if call.UserRejected {
		t.Error("a timeout is not a user rejection")
	}
	got, _ := s.Responses("r1")[0].Response["error"].(string)
	if !strings.Contains(got, "timed out") {
		t.Errorf("response error = %q, want a timeout note", got)
	}
}

func TestToolErrorResult(t *testing.T) {
	ft := newFakeTool("broken")
	ft.execute = func(ctx context.Context, params map[string]any) (tool.Result, error) {
		return tool.Result{}, errors.New("disk on fire")
	}
	s := newScheduler(t, ft)

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "broken", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	call := s.BatchCalls("r1")[0]
	if call.Status != StatusError || call.Err != "disk on fire" {
		t.Errorf("call = %+v", call)
	}
	if got := s.Responses("r1")[0].Response["error"]; got != "disk on fire" {
		t.Errorf("response error = %v", got)
	}
}

func TestOnUpdateObservesTransitions(t *testing.T) {
	ft := newFakeTool("echo")
	s := newScheduler(t, ft)
	var mu sync.Mutex
	seen := make(map[Status]bool)
	s.OnUpdate = func(calls []Call) {
		mu.Lock()
		for _, c := range calls {
			seen[c.Status] = true
		}
		mu.Unlock()
	}

	s.Schedule(context.Background(), []Request{
		{CallID: "c1", RequestID: "r1", Name: "echo", Args: map[string]any{"value": "x"}},
	}, abort.New())
	waitBatch(t, s, "r1")

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []Status{StatusValidating, StatusExecuting, StatusSuccess} {
		if !seen[want] {
			t.Errorf("never observed status %s; saw %v", want, seen)
		}
	}
}
