// Package session implements the per-session state machine: a live session
// wraps an RPC client and folds its event stream into a message list; a
// historical session is a read-only transcript snapshot.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
	"github.com/soporteakasiapro1-art/pi-island/internal/rpc"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

var (
	// ErrNotLive is returned when a command is issued to a historical session.
	ErrNotLive = errors.New("session is not live")

	// ErrStopped is returned by Start once Stop has been called. A stopped
	// session never launches an agent again.
	ErrStopped = errors.New("session stopped")
)

// ToolExecution mirrors the in-flight tool message. Updates replace the
// value rather than mutating it.
type ToolExecution struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	Status  pi.ToolStatus   `json:"status"`
	Partial string          `json:"partial,omitempty"`
}

// Hooks notify the owner of state changes. They are called without the
// session lock held.
type Hooks struct {
	OnChange      func(id string)
	OnComplete    func(id string)
	OnFileChanged func(id, path string)
}

// Options configure a live session.
type Options struct {
	Executable rpc.Executable
	Provider   string
	Model      string
	Timeout    time.Duration
	Hooks      Hooks
	// Seed pre-populates messages, model and file, as when resuming.
	Seed *transcript.Snapshot
}

// Snapshot is an immutable copy of a session's observable state.
type Snapshot struct {
	ID                string         `json:"id"`
	Cwd               string         `json:"cwd"`
	Live              bool           `json:"live"`
	Phase             Phase          `json:"phase"`
	LastError         string         `json:"last_error,omitempty"`
	Messages          []pi.Message   `json:"messages"`
	StreamingText     string         `json:"streaming_text,omitempty"`
	StreamingThinking string         `json:"streaming_thinking,omitempty"`
	Tool              *ToolExecution `json:"tool,omitempty"`
	Model             *pi.ModelRef   `json:"model,omitempty"`
	ThinkingLevel     string         `json:"thinking_level,omitempty"`
	File              string         `json:"file,omitempty"`
	LastActivity      time.Time      `json:"last_activity"`
	FileModTime       time.Time      `json:"file_mod_time"`
	PID               int            `json:"pid,omitempty"`
}

// Session is one managed session. All methods are safe for concurrent use.
type Session struct {
	id     string
	cwd    string
	live   bool
	client *rpc.Client
	hooks  Hooks

	mu           sync.Mutex
	phase        Phase
	lastErr      string
	messages     []pi.Message
	text         string
	thinking     string
	tool         *ToolExecution
	model        *pi.ModelRef
	level        string
	file         string
	lastActivity time.Time
	fileModTime  time.Time
	seq          int
	stopped      bool
}

// NewLive creates a live session for cwd. The agent process is not started
// until Start.
func NewLive(id, cwd string, opts Options) *Session {
	s := &Session{
		id:           id,
		cwd:          cwd,
		live:         true,
		hooks:        opts.Hooks,
		phase:        PhaseStarting,
		lastActivity: time.Now(),
	}
	if seed := opts.Seed; seed != nil {
		s.messages = pi.CloneMessages(seed.Messages)
		s.model = cloneModel(seed.Model)
		s.level = seed.ThinkingLevel
		s.file = seed.Path
		s.lastActivity = seed.LastActivity
		s.fileModTime = seed.ModTime
	}

	spec := rpc.BuildLaunchSpec(opts.Executable, rpc.LaunchOptions{
		Dir:      cwd,
		Provider: opts.Provider,
		Model:    opts.Model,
	})
	s.client = rpc.NewClient(spec, rpc.Handlers{
		OnAgentStart:    s.onAgentStart,
		OnAgentEnd:      s.onAgentEnd,
		OnMessageUpdate: s.onMessageUpdate,
		OnToolStart:     s.onToolStart,
		OnToolUpdate:    s.onToolUpdate,
		OnToolEnd:       s.onToolEnd,
		OnStateChanged:  s.onStateChanged,
		OnError:         s.onError,
		OnExit:          s.onExit,
	})
	s.client.SetTimeout(opts.Timeout)
	return s
}

// NewHistorical wraps a parsed transcript.
func NewHistorical(snap transcript.Snapshot) *Session {
	return &Session{
		id:           snap.ID,
		cwd:          snap.Cwd,
		phase:        PhaseDisconnected,
		messages:     pi.CloneMessages(snap.Messages),
		model:        cloneModel(snap.Model),
		level:        snap.ThinkingLevel,
		file:         snap.Path,
		lastActivity: snap.LastActivity,
		fileModTime:  snap.ModTime,
	}
}

func cloneModel(m *pi.ModelRef) *pi.ModelRef {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Cwd returns the working directory.
func (s *Session) Cwd() string { return s.cwd }

// Live reports whether the session is backed by an agent process.
func (s *Session) Live() bool { return s.live }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// File returns the backing transcript path, if known.
func (s *Session) File() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Running reports whether the agent process is attached.
func (s *Session) Running() bool {
	return s.client != nil && s.client.Running()
}

// Terminated reports whether a live session's agent is gone for good: it
// failed or disconnected and no process is attached.
func (s *Session) Terminated() bool {
	if !s.live {
		return false
	}
	switch s.Phase() {
	case PhaseError, PhaseDisconnected:
		return !s.Running()
	}
	return false
}

// MessageCount returns the number of finalized messages.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastActivity returns the time of the latest message or event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Snapshot returns a deep copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                s.id,
		Cwd:               s.cwd,
		Live:              s.live,
		Phase:             s.phase,
		LastError:         s.lastErr,
		Messages:          pi.CloneMessages(s.messages),
		StreamingText:     s.text,
		StreamingThinking: s.thinking,
		Model:             cloneModel(s.model),
		ThinkingLevel:     s.level,
		File:              s.file,
		LastActivity:      s.lastActivity,
		FileModTime:       s.fileModTime,
	}
	if snap.Messages == nil {
		snap.Messages = []pi.Message{}
	}
	if s.tool != nil {
		t := *s.tool
		snap.Tool = &t
	}
	if s.client != nil {
		snap.PID = s.client.PID()
	}
	return snap
}

// update applies fn under the lock and then fires OnChange.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.changed()
}

func (s *Session) changed() {
	if s.hooks.OnChange != nil {
		s.hooks.OnChange(s.id)
	}
}

func (s *Session) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-live-%d", prefix, s.seq)
}

// fail moves the session to the error phase.
func (s *Session) fail(err error) {
	islandlog.Log.Warn("session: error", "session", s.id, "error", err)
	s.update(func() {
		s.phase = PhaseError
		s.lastErr = err.Error()
	})
}

// flushLocked finalizes a non-empty text buffer into an assistant message
// and clears both streaming buffers.
func (s *Session) flushLocked() {
	if s.text != "" {
		now := time.Now()
		s.messages = append(s.messages, pi.Message{
			ID:        s.nextID("assistant"),
			Role:      pi.RoleAssistant,
			Content:   s.text,
			Thinking:  s.thinking,
			Timestamp: now,
		})
		s.lastActivity = now
	}
	s.text = ""
	s.thinking = ""
}

func (s *Session) findMessageLocked(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Event handlers. These run on the client's reader goroutine and must not
// issue waited calls.

func (s *Session) onAgentStart() {
	s.update(func() {
		s.phase = PhaseThinking
		s.lastErr = ""
	})
}

func (s *Session) onAgentEnd([]pi.AgentMessage) {
	s.update(func() {
		s.flushLocked()
		s.tool = nil
		s.phase = PhaseIdle
		s.lastActivity = time.Now()
	})
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(s.id)
	}
}

func (s *Session) onMessageUpdate(_ pi.AgentMessage, d rpc.Delta) {
	s.update(func() {
		switch d.Kind {
		case rpc.DeltaText:
			s.text += d.Text
		case rpc.DeltaThinkingStart, rpc.DeltaThinking:
			s.thinking += d.Text
		case rpc.DeltaToolCallStart:
			s.phase = PhaseExecuting
		case rpc.DeltaDone:
			s.flushLocked()
		case rpc.DeltaError:
			s.lastErr = d.ErrorMessage
			if s.lastErr == "" {
				s.lastErr = "agent stream error"
			}
			s.flushLocked()
		}
	})
}

func (s *Session) onToolStart(callID, name string, args json.RawMessage) {
	s.update(func() {
		now := time.Now()
		s.tool = &ToolExecution{ID: callID, Name: name, Args: args, Status: pi.ToolRunning}
		if s.findMessageLocked(callID) < 0 {
			s.messages = append(s.messages, pi.Message{
				ID:         callID,
				Role:       pi.RoleTool,
				ToolName:   name,
				ToolArgs:   args,
				ToolStatus: pi.ToolRunning,
				Timestamp:  now,
			})
		}
		s.phase = PhaseExecuting
		s.lastActivity = now
	})
}

func (s *Session) onToolUpdate(callID, name string, args, partial json.RawMessage) {
	s.update(func() {
		next := ToolExecution{ID: callID, Name: name, Args: args, Status: pi.ToolRunning}
		if s.tool != nil && s.tool.ID == callID {
			next = *s.tool
		}
		next.Partial = pi.TextOf(partial)
		s.tool = &next
	})
}

func (s *Session) onToolEnd(callID, _ string, result json.RawMessage, isError bool) {
	s.update(func() {
		text := pi.TextOf(result)
		if i := s.findMessageLocked(callID); i >= 0 {
			s.messages[i].Resolve(text, isError)
		}
		if s.tool != nil && s.tool.ID == callID {
			s.tool = nil
		}
		if s.phase == PhaseExecuting {
			s.phase = PhaseThinking
		}
		s.lastActivity = time.Now()
	})
}

func (s *Session) onStateChanged(command string, data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	switch command {
	case rpc.CmdSetModel:
		var m pi.ModelRef
		if json.Unmarshal(data, &m) == nil && m.ID != "" {
			s.update(func() { s.model = &m })
		}
	case rpc.CmdCycleModel:
		var out struct {
			Model         *pi.ModelRef `json:"model"`
			ThinkingLevel string       `json:"thinkingLevel"`
		}
		if json.Unmarshal(data, &out) == nil && out.Model != nil {
			s.update(func() {
				s.model = out.Model
				if out.ThinkingLevel != "" {
					s.level = out.ThinkingLevel
				}
			})
		}
	case rpc.CmdCycleThinkingLevel:
		var out struct {
			Level string `json:"level"`
		}
		if json.Unmarshal(data, &out) == nil && out.Level != "" {
			s.update(func() { s.level = out.Level })
		}
	}
}

func (s *Session) onError(err error) {
	var ext *rpc.ExtensionError
	if errors.As(err, &ext) {
		islandlog.Log.Warn("session: extension error", "session", s.id, "error", err)
		s.update(func() { s.lastErr = err.Error() })
		return
	}
	s.fail(err)
}

func (s *Session) onExit(err error) {
	islandlog.Log.Info("session: agent exited", "session", s.id, "error", err)
	s.update(func() {
		s.flushLocked()
		s.tool = nil
		s.phase = PhaseDisconnected
		if err != nil {
			s.lastErr = err.Error()
		}
	})
}
