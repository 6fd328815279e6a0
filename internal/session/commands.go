package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
	"github.com/soporteakasiapro1-art/pi-island/internal/rpc"
)

func (s *Session) requireLive() error {
	if !s.live {
		return ErrNotLive
	}
	return nil
}

// Start launches the agent and moves the session to idle. State is fetched
// once the process is up; failing to fetch it is logged, not fatal.
func (s *Session) Start(ctx context.Context) error {
	if err := s.launch(); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		islandlog.Log.Warn("session: initial state fetch failed", "session", s.id, "error", err)
	}
	return nil
}

func (s *Session) launch() error {
	if err := s.requireLive(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.phase = PhaseStarting
	s.lastErr = ""
	s.mu.Unlock()
	s.changed()

	if err := s.client.Start(); err != nil {
		s.fail(err)
		return err
	}

	// Stop may have run while the process was starting; it found nothing
	// to stop, so the new process is ours to reap.
	s.mu.Lock()
	stopped := s.stopped
	if !stopped {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()
	if stopped {
		_ = s.client.Stop()
		return ErrStopped
	}
	s.changed()
	return nil
}

// StartResumed launches the agent bound to an existing transcript: it
// switches to path, then replaces the provisional messages with the agent's
// list and refreshes state.
func (s *Session) StartResumed(ctx context.Context, path string) error {
	if err := s.launch(); err != nil {
		return err
	}
	if err := s.SwitchSession(ctx, path); err != nil {
		s.fail(fmt.Errorf("switch to %s: %w", path, err))
		return err
	}
	return nil
}

// Stop terminates the agent. No event callbacks fire afterwards, and a
// start still in progress is abandoned.
func (s *Session) Stop() error {
	if !s.live {
		return nil
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	err := s.client.Stop()
	s.update(func() {
		s.flushLocked()
		s.tool = nil
		s.phase = PhaseDisconnected
	})
	return err
}

// appendUser adds a user message ahead of the agent's acknowledgement.
func (s *Session) appendUser(text string, phase Phase) {
	s.update(func() {
		now := time.Now()
		s.messages = append(s.messages, pi.Message{
			ID:        s.nextID("user"),
			Role:      pi.RoleUser,
			Content:   text,
			Timestamp: now,
		})
		if phase != "" {
			s.phase = phase
		}
		s.lastActivity = now
	})
}

func (s *Session) send(text string, phase Phase, fn func() error) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	if !s.client.Running() {
		return rpc.ErrNotRunning
	}
	s.appendUser(text, phase)
	if err := fn(); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// SendPrompt starts an agent turn. The user message is appended and the
// phase set to thinking before the agent acknowledges.
func (s *Session) SendPrompt(text string, images ...rpc.ImageContent) error {
	return s.send(text, PhaseThinking, func() error { return s.client.Prompt(text, images...) })
}

// Steer interrupts the running turn with a message.
func (s *Session) Steer(text string) error {
	return s.send(text, "", func() error { return s.client.Steer(text) })
}

// FollowUp queues a message for after the running turn.
func (s *Session) FollowUp(text string) error {
	return s.send(text, "", func() error { return s.client.FollowUp(text) })
}

// Abort asks the agent to stop. The resulting agent_end moves the session
// to idle.
func (s *Session) Abort() error {
	if err := s.requireLive(); err != nil {
		return err
	}
	return s.client.Abort()
}

// CycleModel switches to the next model; the session model updates when
// the agent responds.
func (s *Session) CycleModel() error {
	if err := s.requireLive(); err != nil {
		return err
	}
	return s.client.CycleModel()
}

// CycleThinkingLevel switches to the next thinking level.
func (s *Session) CycleThinkingLevel() error {
	if err := s.requireLive(); err != nil {
		return err
	}
	return s.client.CycleThinkingLevel()
}

// SetModel selects a model.
func (s *Session) SetModel(ctx context.Context, provider, modelID string) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	m, err := s.client.SetModel(ctx, provider, modelID)
	if err != nil {
		return err
	}
	s.update(func() { s.model = m })
	return nil
}

// SetThinkingLevel sets the reasoning level.
func (s *Session) SetThinkingLevel(ctx context.Context, level string) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	if err := s.client.SetThinkingLevel(ctx, level); err != nil {
		return err
	}
	s.update(func() { s.level = level })
	return nil
}

// Compact summarizes the conversation and reloads the message list.
func (s *Session) Compact(ctx context.Context, instructions string) (json.RawMessage, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	res, err := s.client.Compact(ctx, instructions)
	if err != nil {
		return nil, err
	}
	if err := s.LoadMessages(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// NewSession starts a fresh transcript in the same agent process.
func (s *Session) NewSession(ctx context.Context) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	if err := s.client.NewSession(ctx); err != nil {
		return err
	}
	s.update(func() {
		s.messages = nil
		s.text, s.thinking = "", ""
		s.tool = nil
	})
	return s.Refresh(ctx)
}

// SwitchSession binds the agent to the transcript at path and loads it.
func (s *Session) SwitchSession(ctx context.Context, path string) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	if err := s.client.SwitchSession(ctx, path); err != nil {
		return err
	}
	if err := s.LoadMessages(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Refresh fetches the agent's state: model, thinking level and transcript
// path. A new path fires OnFileChanged.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	st, err := s.client.GetState(ctx)
	if err != nil {
		return err
	}

	var moved string
	s.update(func() {
		if st.Model != nil {
			s.model = st.Model
		}
		if st.ThinkingLevel != "" {
			s.level = st.ThinkingLevel
		}
		if st.SessionFile != "" && st.SessionFile != s.file {
			s.file = st.SessionFile
			moved = st.SessionFile
		}
	})
	if moved != "" && s.hooks.OnFileChanged != nil {
		s.hooks.OnFileChanged(s.id, moved)
	}
	return nil
}

// LoadMessages replaces the message list with the agent's authoritative
// copy.
func (s *Session) LoadMessages(ctx context.Context) error {
	if err := s.requireLive(); err != nil {
		return err
	}
	records, err := s.client.GetMessages(ctx)
	if err != nil {
		return err
	}
	msgs := pi.Reconstruct(records)
	s.update(func() {
		s.messages = msgs
		for _, m := range msgs {
			if m.Timestamp.After(s.lastActivity) {
				s.lastActivity = m.Timestamp
			}
		}
	})
	return nil
}

// SessionStats returns token and message statistics.
func (s *Session) SessionStats(ctx context.Context) (rpc.SessionStats, error) {
	if err := s.requireLive(); err != nil {
		return rpc.SessionStats{}, err
	}
	return s.client.GetSessionStats(ctx)
}

// AvailableModels lists the models the agent can switch to.
func (s *Session) AvailableModels(ctx context.Context) ([]pi.ModelRef, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	return s.client.GetAvailableModels(ctx)
}

// Commands lists the agent's slash commands.
func (s *Session) Commands(ctx context.Context) ([]rpc.SlashCommand, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	return s.client.GetCommands(ctx)
}

// SetFileModTime records a modification of the backing file observed on
// disk, without reading it.
func (s *Session) SetFileModTime(t time.Time) {
	s.update(func() { s.fileModTime = t })
}
