// Package scheduler runs tool calls through a per-call state machine
// with a user confirmation gate, batch-ordered execution, and strictly
// ordered response collection.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/abort"
	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// Status is a tool call's lifecycle state.
type Status string

const (
	StatusValidating       Status = "validating"
	StatusScheduled        Status = "scheduled"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether a call in this status will never move again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// validTransitions guards setStatus against programming mistakes; an
// invalid transition panics rather than silently corrupting a batch.
var validTransitions = map[Status][]Status{
	StatusValidating:       {StatusScheduled, StatusAwaitingApproval, StatusError, StatusCancelled},
	StatusScheduled:        {StatusExecuting, StatusCancelled},
	StatusAwaitingApproval: {StatusScheduled, StatusCancelled},
	StatusExecuting:        {StatusSuccess, StatusError, StatusCancelled},
}

// Outcome is the user's answer to a confirmation prompt.
type Outcome string

const (
	OutcomeProceedOnce   Outcome = "proceed_once"
	OutcomeProceedAlways Outcome = "proceed_always"
	OutcomeCancel        Outcome = "cancel"
	OutcomeModify        Outcome = "modify"
)

// Decision carries the outcome plus replacement args for modify.
type Decision struct {
	Outcome Outcome
	NewArgs map[string]any
}

// Request is one tool call as the model issued it.
type Request struct {
	CallID    string
	RequestID string
	Name      string
	Args      map[string]any
}

// Call is an immutable snapshot of one call's state, handed to
// observers.
type Call struct {
	CallID       string
	RequestID    string
	Name         string
	Args         map[string]any
	Status       Status
	Confirmation *tool.ConfirmationDetails
	Result       *tool.Result
	Err          string
	UserRejected bool
	TimedOut     bool
}

type callState struct {
	req          Request
	tl           tool.Tool
	status       Status
	confirmation *tool.ConfirmationDetails
	result       *tool.Result
	err          error
	userRejected bool
	timedOut     bool
	batch        *batch
}

type batch struct {
	requestID string
	callIDs   []string
	prev      *batch
	done      chan struct{}
	doneOnce  sync.Once
	wake      chan struct{}
	sig       *abort.Signal
	executing int
	serialRun bool
}

func (b *batch) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Config tunes a scheduler.
type Config struct {
	// DefaultTimeout bounds one tool execution. Zero means 30 s.
	DefaultTimeout time.Duration
	// Timeouts overrides the default per tool name.
	Timeouts map[string]time.Duration
}

// Scheduler drives tool calls through the lifecycle. Calls within one
// batch run concurrently unless a tool declares itself serial; batches
// run strictly one after another.
type Scheduler struct {
	mu       sync.Mutex
	registry *tool.Registry
	cfg      Config

	calls   map[string]*callState
	order   []string
	batches map[string]*batch
	last    *batch

	trusted map[string]bool

	// OnUpdate observes every state transition with a snapshot of all
	// calls. Advisory; the authoritative end-of-batch signal is
	// OnBatchComplete.
	OnUpdate func(calls []Call)
	// OnBatchComplete fires exactly once per batch when every call in
	// it is terminal.
	OnBatchComplete func(requestID string, calls []Call)
	// OnProgress receives live output lines from tools that stream.
	OnProgress func(callID, line string)
}

// New builds a scheduler over the registry.
func New(registry *tool.Registry, cfg Config) *Scheduler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Scheduler{
		registry: registry,
		cfg:      cfg,
		calls:    make(map[string]*callState),
		batches:  make(map[string]*batch),
		trusted:  make(map[string]bool),
	}
}

// fingerprint identifies (tool, args) for session trust. Go's JSON
// encoder sorts map keys, so the encoding is canonical.
func fingerprint(name string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return name + "?" + fmt.Sprintf("%v", args)
	}
	return name + "?" + string(b)
}

// Schedule admits one batch of calls. Validation and the confirmation
// check run inline; execution happens on background goroutines once the
// previous batch has fully terminated.
func (s *Scheduler) Schedule(ctx context.Context, requests []Request, sig *abort.Signal) error {
	if len(requests) == 0 {
		return fmt.Errorf("empty batch")
	}
	requestID := requests[0].RequestID

	s.mu.Lock()
	if _, exists := s.batches[requestID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("batch %s already scheduled", requestID)
	}
	b := &batch{
		requestID: requestID,
		prev:      s.last,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		sig:       sig,
	}
	s.batches[requestID] = b
	s.last = b

	for _, req := range requests {
		cs := &callState{req: req, status: StatusValidating, batch: b}
		s.calls[req.CallID] = cs
		s.order = append(s.order, req.CallID)
		b.callIDs = append(b.callIDs, req.CallID)
	}
	s.mu.Unlock()
	s.fireUpdate()

	for _, req := range requests {
		s.admit(ctx, req.CallID)
	}

	go s.run(b)
	return nil
}

// admit moves one validating call to scheduled, awaiting_approval, or
// error.
func (s *Scheduler) admit(ctx context.Context, callID string) {
	s.mu.Lock()
	cs := s.calls[callID]
	req := cs.req
	s.mu.Unlock()

	tl, ok := s.registry.Get(req.Name)
	if !ok {
		s.setError(callID, fmt.Errorf("unknown tool %q", req.Name))
		return
	}
	s.mu.Lock()
	cs.tl = tl
	s.mu.Unlock()

	if err := tl.Validate(req.Args); err != nil {
		s.setError(callID, err)
		return
	}

	s.mu.Lock()
	trusted := s.trusted[fingerprint(req.Name, req.Args)]
	s.mu.Unlock()

	if !trusted {
		details, err := tl.ShouldConfirm(ctx, req.Args)
		if err != nil {
			s.setError(callID, fmt.Errorf("confirmation check: %w", err))
			return
		}
		if details != nil {
			s.transition(callID, StatusAwaitingApproval, func(cs *callState) {
				cs.confirmation = details
			})
			return
		}
	}
	s.transition(callID, StatusScheduled, nil)
}

// HandleConfirmation resolves one parked call. The decision races with
// CancelAll and with duplicate decisions for the same call; the
// transition re-checks the status atomically, so a lost race is an
// error for the caller, never a crash.
func (s *Scheduler) HandleConfirmation(callID string, decision Decision) error {
	s.mu.Lock()
	cs, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown call %s", callID)
	}
	if cs.status != StatusAwaitingApproval {
		status := cs.status
		s.mu.Unlock()
		return fmt.Errorf("call %s is %s, not awaiting approval", callID, status)
	}
	tl := cs.tl
	name, args := cs.req.Name, cs.req.Args
	s.mu.Unlock()

	switch decision.Outcome {
	case OutcomeCancel:
		return s.transitionIf(callID, StatusAwaitingApproval, StatusCancelled, func(cs *callState) {
			cs.userRejected = true
			cs.err = fmt.Errorf("cancelled by user")
		})

	case OutcomeProceedAlways:
		if err := s.transitionIf(callID, StatusAwaitingApproval, StatusScheduled, nil); err != nil {
			return err
		}
		s.mu.Lock()
		s.trusted[fingerprint(name, args)] = true
		s.mu.Unlock()
		return nil

	case OutcomeProceedOnce:
		return s.transitionIf(callID, StatusAwaitingApproval, StatusScheduled, nil)

	case OutcomeModify:
		if err := tl.Validate(decision.NewArgs); err != nil {
			return fmt.Errorf("modified args rejected: %w", err)
		}
		return s.transitionIf(callID, StatusAwaitingApproval, StatusScheduled, func(cs *callState) {
			cs.req.Args = decision.NewArgs
		})

	default:
		return fmt.Errorf("unknown confirmation outcome %q", decision.Outcome)
	}
}

// CancelAll cancels every call that has not started executing.
// Executing calls observe cancellation through their child abort
// signal and terminate on their own. Atomic under the scheduler lock so
// it cannot race a launch.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	changed := false
	touched := make(map[*batch]bool)
	for _, cs := range s.calls {
		switch cs.status {
		case StatusValidating, StatusScheduled, StatusAwaitingApproval:
			cs.status = StatusCancelled
			cs.err = fmt.Errorf("cancelled")
			touched[cs.batch] = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.fireUpdate()
		for b := range touched {
			b.notify()
		}
	}
}

// run is the batch executor loop. It launches scheduled calls as
// concurrency rules allow and finishes when every call is terminal.
func (s *Scheduler) run(b *batch) {
	sigDone := b.sig.Done()

	// Cross-batch ordering: wait out the previous batch.
	if b.prev != nil {
		select {
		case <-b.prev.done:
		case <-sigDone:
			s.CancelAll()
			sigDone = nil
		}
	}

	for {
		if s.launchReady(b) {
			return
		}
		select {
		case <-b.wake:
		case <-sigDone:
			s.CancelAll()
			sigDone = nil
		}
	}
}

// launchReady starts every launchable call and reports whether the
// batch is complete.
func (s *Scheduler) launchReady(b *batch) bool {
	s.mu.Lock()
	var toLaunch []*callState
	allTerminal := true
	for _, id := range b.callIDs {
		cs := s.calls[id]
		if !cs.status.Terminal() {
			allTerminal = false
		}
		if cs.status != StatusScheduled {
			continue
		}
		// A serial tool runs alone: nothing else executing, and no
		// launches after it until it finishes.
		if b.serialRun {
			continue
		}
		if !cs.tl.IsParallelSafe() {
			if b.executing > 0 {
				continue
			}
			b.serialRun = true
		}
		b.executing++
		cs.status = StatusExecuting
		toLaunch = append(toLaunch, cs)
		if b.serialRun {
			break
		}
	}
	s.mu.Unlock()

	if allTerminal {
		s.finishBatch(b)
		return true
	}
	if len(toLaunch) > 0 {
		s.fireUpdate()
		for _, cs := range toLaunch {
			go s.execute(b, cs)
		}
	}
	return false
}

// execute runs one call with a child abort signal and the per-tool
// timeout.
func (s *Scheduler) execute(b *batch, cs *callState) {
	child := b.sig.Child()
	defer child.Abort()

	timeout := s.cfg.DefaultTimeout
	if t, ok := s.cfg.Timeouts[cs.req.Name]; ok {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		select {
		case <-child.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var progress func(string)
	if s.OnProgress != nil && cs.tl.CanUpdateOutput() {
		callID := cs.req.CallID
		progress = func(line string) { s.OnProgress(callID, line) }
	}

	result, err := cs.tl.Execute(ctx, cs.req.Args, progress)

	s.mu.Lock()
	b.executing--
	if !cs.tl.IsParallelSafe() {
		b.serialRun = false
	}
	s.mu.Unlock()

	switch {
	case b.sig.Aborted():
		s.transition(cs.req.CallID, StatusCancelled, func(cs *callState) {
			cs.err = fmt.Errorf("cancelled")
		})
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		// A timeout is a cancellation, not a tool failure.
		s.transition(cs.req.CallID, StatusCancelled, func(cs *callState) {
			cs.timedOut = true
			cs.err = fmt.Errorf("timed out after %s", timeout)
		})
	case err != nil:
		s.transition(cs.req.CallID, StatusError, func(cs *callState) {
			cs.err = err
		})
	case result.IsError():
		s.transition(cs.req.CallID, StatusError, func(cs *callState) {
			r := result
			cs.result = &r
			cs.err = fmt.Errorf("%s", result.Error)
		})
	default:
		s.transition(cs.req.CallID, StatusSuccess, func(cs *callState) {
			r := result
			cs.result = &r
		})
	}
}

func (s *Scheduler) setError(callID string, err error) {
	s.transition(callID, StatusError, func(cs *callState) {
		cs.err = err
	})
}

// transition applies one state change, fires OnUpdate, and wakes the
// owning batch.
func (s *Scheduler) transition(callID string, to Status, mutate func(*callState)) {
	s.mu.Lock()
	cs, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return
	}
	from := cs.status
	if !transitionAllowed(from, to) {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler: invalid transition %s -> %s for call %s", from, to, callID))
	}
	cs.status = to
	if mutate != nil {
		mutate(cs)
	}
	b := cs.batch
	s.mu.Unlock()

	s.fireUpdate()
	b.notify()
}

// transitionIf applies the change only while the call is still in
// from, checked inside the critical section. Externally-driven
// transitions go through here instead of transition, whose panic is
// reserved for internal state-machine bugs.
func (s *Scheduler) transitionIf(callID string, from, to Status, mutate func(*callState)) error {
	s.mu.Lock()
	cs, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown call %s", callID)
	}
	if cs.status != from {
		status := cs.status
		s.mu.Unlock()
		return fmt.Errorf("call %s is %s, not %s", callID, status, from)
	}
	cs.status = to
	if mutate != nil {
		mutate(cs)
	}
	b := cs.batch
	s.mu.Unlock()

	s.fireUpdate()
	b.notify()
	return nil
}

func transitionAllowed(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Scheduler) finishBatch(b *batch) {
	b.doneOnce.Do(func() {
		close(b.done)
		if s.OnBatchComplete != nil {
			s.OnBatchComplete(b.requestID, s.BatchCalls(b.requestID))
		}
	})
}

func (s *Scheduler) fireUpdate() {
	if s.OnUpdate == nil {
		return
	}
	s.OnUpdate(s.Calls())
}

func (s *Scheduler) snapshot(cs *callState) Call {
	c := Call{
		CallID:       cs.req.CallID,
		RequestID:    cs.req.RequestID,
		Name:         cs.req.Name,
		Args:         cs.req.Args,
		Status:       cs.status,
		Confirmation: cs.confirmation,
		Result:       cs.result,
		UserRejected: cs.userRejected,
		TimedOut:     cs.timedOut,
	}
	if cs.err != nil {
		c.Err = cs.err.Error()
	}
	return c
}

// Calls returns a snapshot of every call in admission order.
func (s *Scheduler) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshot(s.calls[id]))
	}
	return out
}

// BatchCalls returns the batch's calls in their original call order.
func (s *Scheduler) BatchCalls(requestID string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[requestID]
	if !ok {
		return nil
	}
	out := make([]Call, 0, len(b.callIDs))
	for _, id := range b.callIDs {
		out = append(out, s.snapshot(s.calls[id]))
	}
	return out
}

// Done returns a channel closed when the batch reaches all-terminal.
func (s *Scheduler) Done(requestID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[requestID]; ok {
		return b.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// AllTerminal reports whether every call in the batch is terminal.
func (s *Scheduler) AllTerminal(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[requestID]
	if !ok {
		return true
	}
	for _, id := range b.callIDs {
		if !s.calls[id].status.Terminal() {
			return false
		}
	}
	return true
}

// Responses renders the batch's results as function responses in the
// same order as the originating calls, regardless of completion order.
func (s *Scheduler) Responses(requestID string) []chat.FunctionResponse {
	calls := s.BatchCalls(requestID)
	out := make([]chat.FunctionResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, chat.FunctionResponse{
			ID:       c.CallID,
			Name:     c.Name,
			Response: responsePayload(c),
		})
	}
	return out
}

func responsePayload(c Call) map[string]any {
	switch c.Status {
	case StatusSuccess:
		return c.Result.Response()
	case StatusCancelled:
		msg := "Tool call cancelled"
		switch {
		case c.UserRejected:
			msg = "Tool call cancelled by user"
		case c.TimedOut:
			msg = "Tool call cancelled: " + c.Err
		}
		return map[string]any{"error": msg}
	default:
		msg := c.Err
		if msg == "" {
			msg = "tool execution failed"
		}
		return map[string]any{"error": msg}
	}
}

// UserRejected reports whether any call in the batch was explicitly
// rejected at the confirmation gate. The client stops the turn loop
// instead of bridging when this is true.
func (s *Scheduler) UserRejected(requestID string) bool {
	for _, c := range s.BatchCalls(requestID) {
		if c.UserRejected {
			return true
		}
	}
	return false
}
