// Package pi holds the vocabulary shared by the pi agent's RPC protocol and
// its transcript files: agent messages as the agent emits them, and the
// normalized Message list a session exposes to observers.
package pi

import (
	"encoding/json"
	"strings"
	"time"
)

// Agent message roles as they appear on the wire and in transcripts.
const (
	AgentRoleUser       = "user"
	AgentRoleAssistant  = "assistant"
	AgentRoleToolResult = "toolResult"
)

// Content block types.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolCall = "toolCall"
	BlockImage    = "image"
)

// ContentBlock is one element of a structured message content array.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`        // toolCall
	Name      string          `json:"name,omitempty"`      // toolCall
	Arguments json.RawMessage `json:"arguments,omitempty"` // toolCall
	MimeType  string          `json:"mimeType,omitempty"`  // image
}

// AgentMessage is a message record as produced by the agent. Content is
// either a JSON string or an array of ContentBlock.
type AgentMessage struct {
	Role         string          `json:"role"`
	Content      json.RawMessage `json:"content,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	IsError      bool            `json:"isError,omitempty"`
	StopReason   string          `json:"stopReason,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"` // unix milliseconds
}

// Blocks decodes the content as an array of blocks. A plain string content
// is returned as a single text block; undecodable content yields nil.
func (m AgentMessage) Blocks() []ContentBlock {
	return decodeBlocks(m.Content)
}

// Text returns the concatenated text blocks of the message.
func (m AgentMessage) Text() string {
	return TextOf(m.Content)
}

// Time returns the message timestamp, or the zero time if absent.
func (m AgentMessage) Time() time.Time {
	if m.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ModelRef identifies a model by provider and id.
type ModelRef struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
}

// String renders the model as provider/id.
func (m *ModelRef) String() string {
	if m == nil {
		return ""
	}
	if m.Provider == "" {
		return m.ID
	}
	return m.Provider + "/" + m.ID
}

// State is the payload of a get_state response.
type State struct {
	Model               *ModelRef `json:"model,omitempty"`
	ThinkingLevel       string    `json:"thinkingLevel,omitempty"`
	IsStreaming         bool      `json:"isStreaming"`
	IsCompacting        bool      `json:"isCompacting"`
	SessionFile         string    `json:"sessionFile,omitempty"`
	SessionID           string    `json:"sessionId,omitempty"`
	MessageCount        int       `json:"messageCount"`
	PendingMessageCount int       `json:"pendingMessageCount"`
}

// TextOf extracts plain text from a content value. It accepts a JSON string,
// an array of content blocks, or an object with a "content" field (the shape
// of tool results). Text blocks are joined with newlines.
func TextOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	if blocks := decodeBlocks(raw); blocks != nil {
		return joinText(blocks)
	}

	var wrapped struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Content) > 0 {
		return TextOf(wrapped.Content)
	}
	return ""
}

func decodeBlocks(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []ContentBlock{{Type: BlockText, Text: s}}
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

func joinText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
