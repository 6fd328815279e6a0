// Package rpc drives a pi agent child process in RPC mode: one JSON object
// per line on stdin (commands) and stdout (responses and events).
package rpc

import (
	"encoding/json"
	"fmt"
)

// Command tags.
const (
	CmdPrompt             = "prompt"
	CmdSteer              = "steer"
	CmdFollowUp           = "follow_up"
	CmdAbort              = "abort"
	CmdGetState           = "get_state"
	CmdGetMessages        = "get_messages"
	CmdGetAvailableModels = "get_available_models"
	CmdSetModel           = "set_model"
	CmdCycleModel         = "cycle_model"
	CmdSetThinkingLevel   = "set_thinking_level"
	CmdCycleThinkingLevel = "cycle_thinking_level"
	CmdCompact            = "compact"
	CmdNewSession         = "new_session"
	CmdSwitchSession      = "switch_session"
	CmdGetSessionStats    = "get_session_stats"
	CmdGetCommands        = "get_commands"
)

// Command is an outbound operation. The set of implementations is closed;
// CommandType returns the wire tag.
type Command interface {
	CommandType() string
	isCommand()
}

// ImageContent is an inline image attached to a prompt.
type ImageContent struct {
	Type     string `json:"type"` // always "image"
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
}

// PromptCommand starts a new agent turn.
type PromptCommand struct {
	Message string         `json:"message"`
	Images  []ImageContent `json:"images,omitempty"`
}

// SteerCommand interrupts the running turn with a new user message.
type SteerCommand struct {
	Message string `json:"message"`
}

// FollowUpCommand queues a user message for after the running turn.
type FollowUpCommand struct {
	Message string `json:"message"`
}

// AbortCommand cancels the running turn.
type AbortCommand struct{}

// GetStateCommand requests the agent's State.
type GetStateCommand struct{}

// GetMessagesCommand requests the full message list of the current session.
type GetMessagesCommand struct{}

// GetAvailableModelsCommand requests the selectable models.
type GetAvailableModelsCommand struct{}

// SetModelCommand selects a model.
type SetModelCommand struct {
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// CycleModelCommand switches to the next configured model.
type CycleModelCommand struct{}

// SetThinkingLevelCommand sets the reasoning level (off, low, medium, high...).
type SetThinkingLevelCommand struct {
	Level string `json:"level"`
}

// CycleThinkingLevelCommand switches to the next thinking level.
type CycleThinkingLevelCommand struct{}

// CompactCommand summarizes the conversation to free context.
type CompactCommand struct {
	CustomInstructions string `json:"customInstructions,omitempty"`
}

// NewSessionCommand starts a fresh transcript.
type NewSessionCommand struct {
	ParentSession string `json:"parentSession,omitempty"`
}

// SwitchSessionCommand binds the agent to an existing transcript file.
type SwitchSessionCommand struct {
	SessionPath string `json:"sessionPath"`
}

// GetSessionStatsCommand requests token and cost statistics.
type GetSessionStatsCommand struct{}

// GetCommandsCommand requests the available slash commands.
type GetCommandsCommand struct{}

func (PromptCommand) CommandType() string             { return CmdPrompt }
func (SteerCommand) CommandType() string              { return CmdSteer }
func (FollowUpCommand) CommandType() string           { return CmdFollowUp }
func (AbortCommand) CommandType() string              { return CmdAbort }
func (GetStateCommand) CommandType() string           { return CmdGetState }
func (GetMessagesCommand) CommandType() string        { return CmdGetMessages }
func (GetAvailableModelsCommand) CommandType() string { return CmdGetAvailableModels }
func (SetModelCommand) CommandType() string           { return CmdSetModel }
func (CycleModelCommand) CommandType() string         { return CmdCycleModel }
func (SetThinkingLevelCommand) CommandType() string   { return CmdSetThinkingLevel }
func (CycleThinkingLevelCommand) CommandType() string { return CmdCycleThinkingLevel }
func (CompactCommand) CommandType() string            { return CmdCompact }
func (NewSessionCommand) CommandType() string         { return CmdNewSession }
func (SwitchSessionCommand) CommandType() string      { return CmdSwitchSession }
func (GetSessionStatsCommand) CommandType() string    { return CmdGetSessionStats }
func (GetCommandsCommand) CommandType() string        { return CmdGetCommands }

func (PromptCommand) isCommand()             {}
func (SteerCommand) isCommand()              {}
func (FollowUpCommand) isCommand()           {}
func (AbortCommand) isCommand()              {}
func (GetStateCommand) isCommand()           {}
func (GetMessagesCommand) isCommand()        {}
func (GetAvailableModelsCommand) isCommand() {}
func (SetModelCommand) isCommand()           {}
func (CycleModelCommand) isCommand()         {}
func (SetThinkingLevelCommand) isCommand()   {}
func (CycleThinkingLevelCommand) isCommand() {}
func (CompactCommand) isCommand()            {}
func (NewSessionCommand) isCommand()         {}
func (SwitchSessionCommand) isCommand()      {}
func (GetSessionStatsCommand) isCommand()    {}
func (GetCommandsCommand) isCommand()        {}

// Encode serializes cmd as a single JSON object with its "type" tag and,
// when id is non-empty, an "id" the agent echoes on the response. The
// result carries no trailing newline.
func Encode(cmd Command, id string) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrEncode)
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, cmd.CommandType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, cmd.CommandType(), err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	fields["type"], _ = json.Marshal(cmd.CommandType())
	if id != "" {
		fields["id"], _ = json.Marshal(id)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, cmd.CommandType(), err)
	}
	return data, nil
}
