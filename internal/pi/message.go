package pi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a normalized message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolStatus is the lifecycle state of a tool message.
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// Terminal reports whether the status is success or error.
func (s ToolStatus) Terminal() bool {
	return s == ToolSuccess || s == ToolError
}

// Message is one entry in a session's ordered message list. Tool messages
// are keyed by the tool call id.
type Message struct {
	ID         string          `json:"id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content,omitempty"`
	Thinking   string          `json:"thinking,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	ToolStatus ToolStatus      `json:"tool_status,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Resolve moves a running tool message to a terminal status. It returns
// false, leaving the message unchanged, if the status was already terminal.
func (m *Message) Resolve(result string, isError bool) bool {
	if m.ToolStatus.Terminal() {
		return false
	}
	m.ToolResult = result
	if isError {
		m.ToolStatus = ToolError
	} else {
		m.ToolStatus = ToolSuccess
	}
	return true
}

// CloneMessages returns a copy of msgs that shares no backing array.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Reconstruct turns an ordered list of agent message records into the same
// message list a live session builds from streaming events. User records
// become user messages. Assistant records split into assistant text messages
// and tool messages keyed by call id, preserving block order. A tool result
// fills in the matching tool message. Records that cannot be resolved are
// skipped.
func Reconstruct(records []AgentMessage) []Message {
	var (
		out    []Message
		byCall = make(map[string]int)
	)

	for i, rec := range records {
		ts := rec.Time()
		switch rec.Role {
		case AgentRoleUser:
			text := rec.Text()
			if text == "" {
				continue
			}
			out = append(out, Message{
				ID:        fmt.Sprintf("user-%d", i),
				Role:      RoleUser,
				Content:   text,
				Timestamp: ts,
			})

		case AgentRoleAssistant:
			var text, thinking string
			part := 0
			flush := func() {
				if text == "" && thinking == "" {
					return
				}
				out = append(out, Message{
					ID:        fmt.Sprintf("assistant-%d-%d", i, part),
					Role:      RoleAssistant,
					Content:   text,
					Thinking:  thinking,
					Timestamp: ts,
				})
				part++
				text, thinking = "", ""
			}
			for _, b := range rec.Blocks() {
				switch b.Type {
				case BlockText:
					if b.Text == "" {
						continue
					}
					if text != "" {
						text += "\n"
					}
					text += b.Text
				case BlockThinking:
					thinking += b.Thinking
				case BlockToolCall:
					flush()
					if b.ID == "" {
						continue
					}
					if _, dup := byCall[b.ID]; dup {
						continue
					}
					byCall[b.ID] = len(out)
					out = append(out, Message{
						ID:         b.ID,
						Role:       RoleTool,
						ToolName:   b.Name,
						ToolArgs:   b.Arguments,
						ToolStatus: ToolRunning,
						Timestamp:  ts,
					})
				}
			}
			flush()

		case AgentRoleToolResult:
			idx, ok := byCall[rec.ToolCallID]
			if !ok {
				continue
			}
			out[idx].Resolve(rec.Text(), rec.IsError)
			if out[idx].ToolName == "" {
				out[idx].ToolName = rec.ToolName
			}
		}
	}

	return out
}
