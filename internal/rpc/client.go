package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
)

// DefaultTimeout bounds how long a waited command blocks for its response.
const DefaultTimeout = 10 * time.Second

// Handlers are the typed hooks a Client dispatches to, one per event kind.
// They run on the transport's reader goroutine, so a handler must not block
// on a waited Call; hand such work to another goroutine.
type Handlers struct {
	OnAgentStart    func()
	OnAgentEnd      func(messages []pi.AgentMessage)
	OnMessageStart  func(msg pi.AgentMessage)
	OnMessageUpdate func(msg pi.AgentMessage, delta Delta)
	OnMessageEnd    func(msg pi.AgentMessage)
	OnToolStart     func(callID, name string, args json.RawMessage)
	OnToolUpdate    func(callID, name string, args, partial json.RawMessage)
	OnToolEnd       func(callID, name string, result json.RawMessage, isError bool)
	OnStateChanged  func(command string, data json.RawMessage)
	// OnError receives failed responses no caller is waiting for and
	// extension errors (*ExtensionError).
	OnError         func(err error)
	OnExit          func(err error)
}

// stateCommands are the commands whose successful response means agent
// state (model, thinking level, session binding) changed.
var stateCommands = map[string]bool{
	CmdSetModel:           true,
	CmdCycleModel:         true,
	CmdSetThinkingLevel:   true,
	CmdCycleThinkingLevel: true,
	CmdCompact:            true,
	CmdNewSession:         true,
	CmdSwitchSession:      true,
}

type callResult struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	id      string
	command string
	sent    time.Time
	done    chan callResult // buffered, receives exactly once
}

// Client speaks the agent's RPC protocol over a Transport.
//
// Every command carries a request id. Responses that echo it are matched by
// id; otherwise they are matched by command name, which is why at most one
// waited call per command name is in flight: later callers queue on that
// name's slot.
type Client struct {
	transport *Transport
	handlers  Handlers
	timeout   time.Duration
	seq       atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCall // by command name
	slots   map[string]chan struct{}
}

// NewClient creates a client for the given invocation. Nothing runs until
// Start.
func NewClient(spec LaunchSpec, h Handlers) *Client {
	c := &Client{
		handlers: h,
		timeout:  DefaultTimeout,
		pending:  make(map[string]*pendingCall),
		slots:    make(map[string]chan struct{}),
	}
	c.transport = NewTransport(spec, c.handleLine, c.handleExit)
	return c
}

// SetTimeout changes the wait bound for subsequent calls. Non-positive
// values restore DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Start launches the agent process.
func (c *Client) Start() error {
	return c.transport.Start()
}

// Stop terminates the agent. Outstanding calls fail with ErrNotRunning.
func (c *Client) Stop() error {
	err := c.transport.Stop()
	c.failPending(ErrNotRunning)
	return err
}

// Running reports whether the agent process is attached.
func (c *Client) Running() bool {
	return c.transport.Running()
}

// PID returns the agent's process id, or 0.
func (c *Client) PID() int {
	return c.transport.PID()
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) nextID() string {
	return "req-" + strconv.FormatUint(c.seq.Add(1), 10)
}

// Send writes cmd and returns without waiting for its response. A failed
// response later surfaces through OnError.
func (c *Client) Send(cmd Command) error {
	if !c.transport.Running() {
		return ErrNotRunning
	}
	frame, err := Encode(cmd, c.nextID())
	if err != nil {
		return err
	}
	if err := c.transport.Send(frame); err != nil {
		commandsTotal.WithLabelValues(cmd.CommandType(), "send_error").Inc()
		return err
	}
	commandsTotal.WithLabelValues(cmd.CommandType(), "sent").Inc()
	return nil
}

// Call writes cmd and waits for its response, the timeout, or ctx. It
// returns the response payload. A timeout fails only this call; the agent
// and other calls are unaffected.
func (c *Client) Call(ctx context.Context, cmd Command) (json.RawMessage, error) {
	if !c.transport.Running() {
		return nil, ErrNotRunning
	}
	name := cmd.CommandType()
	id := c.nextID()
	frame, err := Encode(cmd, id)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	call := &pendingCall{
		id:      id,
		command: name,
		sent:    time.Now(),
		done:    make(chan callResult, 1),
	}
	c.mu.Lock()
	c.pending[name] = call
	timeout := c.timeout
	c.mu.Unlock()

	if err := c.transport.Send(frame); err != nil {
		c.drop(call)
		commandsTotal.WithLabelValues(name, "send_error").Inc()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		commandDurationSeconds.WithLabelValues(name).Observe(time.Since(call.sent).Seconds())
		if res.err != nil {
			commandsTotal.WithLabelValues(name, "error").Inc()
			return nil, res.err
		}
		commandsTotal.WithLabelValues(name, "ok").Inc()
		return res.data, nil
	case <-timer.C:
		c.drop(call)
		commandsTotal.WithLabelValues(name, "timeout").Inc()
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	case <-ctx.Done():
		c.drop(call)
		commandsTotal.WithLabelValues(name, "canceled").Inc()
		return nil, ctx.Err()
	}
}

// acquire takes the one-call slot for a command name.
func (c *Client) acquire(ctx context.Context, name string) (func(), error) {
	c.mu.Lock()
	slot, ok := c.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		c.slots[name] = slot
	}
	c.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drop removes call from the pending table if it is still registered.
func (c *Client) drop(call *pendingCall) {
	c.mu.Lock()
	if c.pending[call.command] == call {
		delete(c.pending, call.command)
	}
	c.mu.Unlock()
}

// claim removes and returns the waiter a response belongs to.
func (c *Client) claim(resp ResponseEvent) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resp.ID != "" {
		for name, call := range c.pending {
			if call.id == resp.ID {
				delete(c.pending, name)
				return call
			}
		}
	}
	call, ok := c.pending[resp.Command]
	if !ok {
		return nil
	}
	// A response echoing some other id answers an earlier fire-and-forget
	// send of the same command.
	if resp.ID != "" && resp.ID != call.id {
		return nil
	}
	delete(c.pending, resp.Command)
	return call
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		call.done <- callResult{err: err}
	}
}

func (c *Client) handleExit(err error) {
	c.failPending(ErrProcessExited)
	if c.handlers.OnExit != nil {
		c.handlers.OnExit(err)
	}
}

// handleLine decodes and dispatches one stdout line. Malformed lines are
// logged and dropped.
func (c *Client) handleLine(line []byte) {
	ev, err := DecodeEvent(line)
	if err != nil {
		malformedLinesTotal.Inc()
		islandlog.Log.Warn("rpc: dropping malformed line", "error", err, "bytes", len(line))
		return
	}
	eventsTotal.WithLabelValues(ev.EventType()).Inc()
	c.dispatch(ev)
}

func (c *Client) dispatch(ev Event) {
	h := c.handlers
	switch e := ev.(type) {
	case ResponseEvent:
		c.handleResponse(e)
	case AgentStartEvent:
		if h.OnAgentStart != nil {
			h.OnAgentStart()
		}
	case AgentEndEvent:
		if h.OnAgentEnd != nil {
			h.OnAgentEnd(e.Messages)
		}
	case MessageStartEvent:
		if h.OnMessageStart != nil {
			h.OnMessageStart(e.Message)
		}
	case MessageUpdateEvent:
		if h.OnMessageUpdate != nil {
			h.OnMessageUpdate(e.Message, e.Delta)
		}
	case MessageEndEvent:
		if h.OnMessageEnd != nil {
			h.OnMessageEnd(e.Message)
		}
	case ToolExecutionStartEvent:
		if h.OnToolStart != nil {
			h.OnToolStart(e.ToolCallID, e.ToolName, e.Args)
		}
	case ToolExecutionUpdateEvent:
		if h.OnToolUpdate != nil {
			h.OnToolUpdate(e.ToolCallID, e.ToolName, e.Args, e.PartialResult)
		}
	case ToolExecutionEndEvent:
		if h.OnToolEnd != nil {
			h.OnToolEnd(e.ToolCallID, e.ToolName, e.Result, e.IsError)
		}
	case ExtensionErrorEvent:
		islandlog.Log.Warn("rpc: extension error", "extension", e.ExtensionPath, "event", e.Event, "error", e.Error)
		if h.OnError != nil {
			h.OnError(&ExtensionError{Path: e.ExtensionPath, Event: e.Event, Message: e.Error})
		}
	case UnknownEvent:
		islandlog.Log.Debug("rpc: ignoring unknown event", "type", e.Type)
	}
}

func (c *Client) handleResponse(resp ResponseEvent) {
	var err error
	if !resp.Success {
		err = &CommandError{Command: resp.Command, Message: resp.Error}
	}

	if call := c.claim(resp); call != nil {
		call.done <- callResult{data: resp.Data, err: err}
		if err != nil {
			return // the waiting caller owns the failure
		}
	} else if err != nil {
		if c.handlers.OnError != nil {
			c.handlers.OnError(err)
		}
		return
	}
	if stateCommands[resp.Command] && c.handlers.OnStateChanged != nil {
		c.handlers.OnStateChanged(resp.Command, resp.Data)
	}
}

// Prompt starts an agent turn.
func (c *Client) Prompt(message string, images ...ImageContent) error {
	return c.Send(PromptCommand{Message: message, Images: images})
}

// Steer interrupts the running turn with a message.
func (c *Client) Steer(message string) error {
	return c.Send(SteerCommand{Message: message})
}

// FollowUp queues a message for after the running turn.
func (c *Client) FollowUp(message string) error {
	return c.Send(FollowUpCommand{Message: message})
}

// Abort asks the agent to cancel the running turn. There is no
// acknowledgement; callers observe the resulting agent_end.
func (c *Client) Abort() error {
	return c.Send(AbortCommand{})
}

// CycleModel switches to the next configured model.
func (c *Client) CycleModel() error {
	return c.Send(CycleModelCommand{})
}

// CycleThinkingLevel switches to the next thinking level.
func (c *Client) CycleThinkingLevel() error {
	return c.Send(CycleThinkingLevelCommand{})
}

// GetState fetches the agent's current state.
func (c *Client) GetState(ctx context.Context) (pi.State, error) {
	var st pi.State
	err := c.callInto(ctx, GetStateCommand{}, &st)
	return st, err
}

// GetMessages fetches the full message list of the bound session.
func (c *Client) GetMessages(ctx context.Context) ([]pi.AgentMessage, error) {
	var out struct {
		Messages []pi.AgentMessage `json:"messages"`
	}
	err := c.callInto(ctx, GetMessagesCommand{}, &out)
	return out.Messages, err
}

// GetAvailableModels lists the models the agent can switch to.
func (c *Client) GetAvailableModels(ctx context.Context) ([]pi.ModelRef, error) {
	var out struct {
		Models []pi.ModelRef `json:"models"`
	}
	err := c.callInto(ctx, GetAvailableModelsCommand{}, &out)
	return out.Models, err
}

// SetModel selects a model and returns the agent's view of it.
func (c *Client) SetModel(ctx context.Context, provider, modelID string) (*pi.ModelRef, error) {
	var m pi.ModelRef
	if err := c.callInto(ctx, SetModelCommand{Provider: provider, ModelID: modelID}, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m = pi.ModelRef{Provider: provider, ID: modelID}
	}
	return &m, nil
}

// SetThinkingLevel sets the reasoning level.
func (c *Client) SetThinkingLevel(ctx context.Context, level string) error {
	_, err := c.Call(ctx, SetThinkingLevelCommand{Level: level})
	return err
}

// Compact summarizes the conversation and returns the agent's result.
func (c *Client) Compact(ctx context.Context, instructions string) (json.RawMessage, error) {
	return c.Call(ctx, CompactCommand{CustomInstructions: instructions})
}

// NewSession starts a fresh transcript.
func (c *Client) NewSession(ctx context.Context) error {
	_, err := c.Call(ctx, NewSessionCommand{})
	return err
}

// SwitchSession binds the agent to an existing transcript file.
func (c *Client) SwitchSession(ctx context.Context, path string) error {
	data, err := c.Call(ctx, SwitchSessionCommand{SessionPath: path})
	if err != nil {
		return err
	}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if len(data) > 0 && json.Unmarshal(data, &out) == nil && out.Cancelled {
		return &CommandError{Command: CmdSwitchSession, Message: "cancelled"}
	}
	return nil
}

// SessionStats is the payload of get_session_stats.
type SessionStats struct {
	SessionFile       string  `json:"sessionFile,omitempty"`
	SessionID         string  `json:"sessionId,omitempty"`
	UserMessages      int     `json:"userMessages"`
	AssistantMessages int     `json:"assistantMessages"`
	ToolCalls         int     `json:"toolCalls"`
	ToolResults       int     `json:"toolResults"`
	TotalMessages     int     `json:"totalMessages"`
	Tokens            Tokens  `json:"tokens"`
	Cost              float64 `json:"cost"`
}

// Tokens is a token usage breakdown.
type Tokens struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead"`
	CacheWrite int `json:"cacheWrite"`
	Total      int `json:"total"`
}

// GetSessionStats fetches usage statistics for the bound session.
func (c *Client) GetSessionStats(ctx context.Context) (SessionStats, error) {
	var st SessionStats
	err := c.callInto(ctx, GetSessionStatsCommand{}, &st)
	return st, err
}

// SlashCommand is one entry of get_commands.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// GetCommands lists the agent's slash commands.
func (c *Client) GetCommands(ctx context.Context) ([]SlashCommand, error) {
	var out struct {
		Commands []SlashCommand `json:"commands"`
	}
	err := c.callInto(ctx, GetCommandsCommand{}, &out)
	return out.Commands, err
}

func (c *Client) callInto(ctx context.Context, cmd Command, v any) error {
	data, err := c.Call(ctx, cmd)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s response: %w", cmd.CommandType(), err)
	}
	return nil
}

// IsCommandError reports whether err is a failure reported by the agent.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
