package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/rowboat/internal/abort"
	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
	"github.com/ChamsBouzaiene/rowboat/internal/scheduler"
	"github.com/ChamsBouzaiene/rowboat/internal/stats"
	"github.com/ChamsBouzaiene/rowboat/internal/telemetry"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
)

// pendingNote is the synthesized response for calls left unresolved
// when a new user message arrives.
const pendingNote = "Tool call was pending when the conversation moved on"

// bridgePrompt nudges the model to keep going when the arbiter decides
// it should continue speaking.
const bridgePrompt = "Please continue."

// Config tunes a Client.
type Config struct {
	// SystemInstruction overrides the built-in system prompt.
	SystemInstruction string
	// MaxSessionTurns caps model calls per session. Zero means 25.
	MaxSessionTurns int
	// MaxOutputTokens is passed through to the provider.
	MaxOutputTokens int
	// Temperature is passed through to the provider.
	Temperature float32
	// Compression controls history compression.
	Compression chat.CompressionConfig
	// Scheduler tunes tool execution timeouts.
	Scheduler scheduler.Config
}

func (c Config) withDefaults() Config {
	if c.SystemInstruction == "" {
		c.SystemInstruction = systemPrompt
	}
	if c.MaxSessionTurns <= 0 {
		c.MaxSessionTurns = 25
	}
	if c.Compression.ContextBudget <= 0 {
		c.Compression.ContextBudget = 128000
	}
	return c
}

// Client owns one conversation: the chat history, the provider, the
// tool scheduler, and the session abort signal.
type Client struct {
	cfg      Config
	chat     *chat.Chat
	provider provider.Provider
	registry *tool.Registry
	sched    *scheduler.Scheduler
	sig      *abort.Signal
	stats    *stats.Statistics
	log      *telemetry.Logger

	mu            sync.Mutex
	emit          func(Event)
	lastRequestID string
	turns         int
}

// New builds a client. logger may be nil.
func New(p provider.Provider, registry *tool.Registry, logger *telemetry.Logger, cfg Config) *Client {
	c := &Client{
		cfg:      cfg.withDefaults(),
		chat:     chat.New(),
		provider: p,
		registry: registry,
		sig:      abort.New(),
		stats:    stats.New(),
		log:      logger,
	}
	c.sched = scheduler.New(registry, c.cfg.Scheduler)
	c.sched.OnProgress = func(callID, line string) {
		c.send(NewToolOutputEvent(callID, line))
	}
	return c
}

// send forwards an event to the active stream, if any.
func (c *Client) send(ev Event) {
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (c *Client) setEmitter(emit func(Event)) {
	c.mu.Lock()
	c.emit = emit
	c.mu.Unlock()
}

// Chat exposes the history for session persistence.
func (c *Client) Chat() *chat.Chat { return c.chat }

// Stats returns the session token rollup.
func (c *Client) Stats() stats.Summary { return c.stats.Summary() }

// Scheduler exposes the tool scheduler for observers.
func (c *Client) Scheduler() *scheduler.Scheduler { return c.sched }

// Cancel aborts the in-flight message: the model stream stops, queued
// and parked tool calls cancel, and executing ones are signalled.
func (c *Client) Cancel() {
	c.sig.Abort()
	c.sched.CancelAll()
}

// Confirm resolves one call parked at the confirmation gate.
func (c *Client) Confirm(callID string, decision scheduler.Decision) error {
	return c.sched.HandleConfirmation(callID, decision)
}

// ClearHistory drops the conversation and the turn counter.
func (c *Client) ClearHistory() {
	c.chat.Clear()
	c.mu.Lock()
	c.turns = 0
	c.mu.Unlock()
}

// SetMaxSessionTurns adjusts the turn cap at runtime.
func (c *Client) SetMaxSessionTurns(n int) {
	c.mu.Lock()
	if n > 0 {
		c.cfg.MaxSessionTurns = n
	}
	c.mu.Unlock()
}

// SetCompressionThreshold adjusts the compression trigger at runtime.
func (c *Client) SetCompressionThreshold(threshold float64) {
	c.mu.Lock()
	if threshold > 0 && threshold <= 1 {
		c.cfg.Compression.Threshold = threshold
	}
	c.mu.Unlock()
}

func (c *Client) recordUsage(u *provider.Usage) {
	if u == nil {
		c.stats.Add(c.provider.Model(), nil)
		return
	}
	c.stats.Add(c.provider.Model(), &stats.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	})
}

// SendMessageStream starts one user message and returns its event
// stream. The channel closes when the message is fully handled; the
// caller must drain it.
func (c *Client) SendMessageStream(ctx context.Context, message string) (<-chan Event, error) {
	if message == "" {
		return nil, fmt.Errorf("empty message")
	}
	events := make(chan Event)
	go c.process(ctx, message, events)
	return events, nil
}

func (c *Client) process(ctx context.Context, message string, events chan<- Event) {
	defer close(events)
	emit := func(ev Event) { events <- ev }
	c.setEmitter(emit)
	defer c.setEmitter(nil)

	c.sig.Reset()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.sig.Done():
			cancel()
		case <-cctx.Done():
		}
	}()

	// Leave no call unanswered before the model sees new input:
	// strict-pair providers reject histories with orphaned calls.
	c.waitQuiescent()
	if n := c.chat.ReconcilePending(pendingNote); n > 0 {
		c.log.Debug(telemetry.EventConversation, "agent",
			"reconciled pending tool calls", map[string]any{"count": n})
	}

	info, err := c.chat.CompressIfNeeded(cctx, providerSummarizer{c.provider}, nil, c.compressionConfig())
	if err != nil {
		c.log.Warning(telemetry.EventConversation, "agent",
			"history compression failed", map[string]any{"error": err.Error()})
	}
	if info != nil {
		emit(NewCompressedEvent(info))
	}

	c.chat.Add(chat.NewUserText(message))
	c.log.Info(telemetry.EventConversation, "agent", "user message",
		map[string]any{"bytes": len(message)})

	for {
		if !c.takeTurn() {
			emit(NewMaxTurnsEvent())
			return
		}

		calls, err := c.runTurn(cctx, emit)
		if c.sig.Aborted() {
			emit(NewCancelledEvent())
			return
		}
		if err != nil {
			emit(NewErrorEvent(err))
			return
		}

		if len(calls) > 0 {
			done, err := c.dispatchTools(cctx, calls, emit)
			if err != nil {
				emit(NewErrorEvent(err))
				return
			}
			if c.sig.Aborted() {
				emit(NewCancelledEvent())
				return
			}
			if done {
				return
			}
			continue
		}

		if c.decideNextSpeaker(cctx) == "model" {
			c.chat.Add(chat.NewUserText(bridgePrompt))
			continue
		}
		return
	}
}

// dispatchTools schedules one batch, waits for it to terminate, and
// folds the responses into history. It reports done=true when the user
// rejected a call, which ends the message instead of bridging.
func (c *Client) dispatchTools(ctx context.Context, calls []chat.FunctionCall, emit func(Event)) (done bool, err error) {
	requestID := uuid.NewString()
	reqs := make([]scheduler.Request, 0, len(calls))
	for _, fc := range calls {
		reqs = append(reqs, scheduler.Request{
			CallID:    fc.ID,
			RequestID: requestID,
			Name:      fc.Name,
			Args:      fc.Args,
		})
		c.log.Info(telemetry.EventToolCall, "agent", fc.Name,
			map[string]any{"call_id": fc.ID, "request_id": requestID})
	}

	if err := c.sched.Schedule(ctx, reqs, c.sig); err != nil {
		return false, fmt.Errorf("schedule tool batch: %w", err)
	}
	c.mu.Lock()
	c.lastRequestID = requestID
	c.mu.Unlock()

	snapshot := c.sched.BatchCalls(requestID)
	emit(NewToolCallRequestEvent(requestID, snapshot))
	if parked := filterStatus(snapshot, scheduler.StatusAwaitingApproval); len(parked) > 0 {
		emit(NewAwaitingApprovalEvent(requestID, parked))
	}

	<-c.sched.Done(requestID)

	final := c.sched.BatchCalls(requestID)
	responses := c.sched.Responses(requestID)
	parts := make([]chat.Part, 0, len(responses))
	for _, fr := range responses {
		parts = append(parts, chat.ResponsePart(fr))
	}
	c.chat.Add(chat.Content{Role: chat.RoleTool, Parts: parts})
	emit(NewToolCallResponseEvent(requestID, final, responses))
	for _, call := range final {
		c.log.Info(telemetry.EventToolResult, "agent", call.Name,
			map[string]any{"call_id": call.CallID, "status": string(call.Status)})
	}

	return c.sched.UserRejected(requestID), nil
}

func filterStatus(calls []scheduler.Call, status scheduler.Status) []scheduler.Call {
	var out []scheduler.Call
	for _, call := range calls {
		if call.Status == status {
			out = append(out, call)
		}
	}
	return out
}

// waitQuiescent gives the previous batch a bounded window to reach
// all-terminal before pending calls are reconciled away.
func (c *Client) waitQuiescent() {
	c.mu.Lock()
	requestID := c.lastRequestID
	c.mu.Unlock()
	if requestID == "" {
		return
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.sched.AllTerminal(requestID) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *Client) takeTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turns >= c.cfg.MaxSessionTurns {
		return false
	}
	c.turns++
	return true
}

func (c *Client) compressionConfig() chat.CompressionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.cfg.Compression
	cfg.Model = c.provider.Model()
	return cfg
}
