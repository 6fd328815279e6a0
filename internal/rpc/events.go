package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
)

// Event tags.
const (
	EvtResponse            = "response"
	EvtAgentStart          = "agent_start"
	EvtAgentEnd            = "agent_end"
	EvtMessageStart        = "message_start"
	EvtMessageUpdate       = "message_update"
	EvtMessageEnd          = "message_end"
	EvtToolExecutionStart  = "tool_execution_start"
	EvtToolExecutionUpdate = "tool_execution_update"
	EvtToolExecutionEnd    = "tool_execution_end"
	EvtExtensionError      = "extension_error"
)

// Event is an inbound frame. The set of implementations is closed; frames
// with an unrecognized tag decode to UnknownEvent.
type Event interface {
	EventType() string
}

// ResponseEvent answers a command, identified by the command name and, when
// the agent echoes it, the request id.
type ResponseEvent struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AgentStartEvent marks the beginning of an agent turn.
type AgentStartEvent struct{}

// AgentEndEvent marks the end of an agent turn.
type AgentEndEvent struct {
	Messages []pi.AgentMessage `json:"messages,omitempty"`
}

// MessageStartEvent announces a new message.
type MessageStartEvent struct {
	Message pi.AgentMessage `json:"message"`
}

// MessageUpdateEvent carries one streaming delta for the current message.
type MessageUpdateEvent struct {
	Message pi.AgentMessage `json:"message"`
	Delta   Delta           `json:"assistantMessageEvent"`
}

// MessageEndEvent finalizes a message.
type MessageEndEvent struct {
	Message pi.AgentMessage `json:"message"`
}

// ToolExecutionStartEvent reports a tool call starting to run.
type ToolExecutionStartEvent struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// ToolExecutionUpdateEvent carries partial tool output.
type ToolExecutionUpdateEvent struct {
	ToolCallID    string          `json:"toolCallId"`
	ToolName      string          `json:"toolName"`
	Args          json.RawMessage `json:"args,omitempty"`
	PartialResult json.RawMessage `json:"partialResult,omitempty"`
}

// ToolExecutionEndEvent reports a tool call finishing.
type ToolExecutionEndEvent struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError"`
}

// ExtensionErrorEvent reports a failure inside an agent extension.
type ExtensionErrorEvent struct {
	ExtensionPath string `json:"extensionPath"`
	Event         string `json:"event"`
	Error         string `json:"error"`
}

// UnknownEvent is any frame whose tag is not recognized.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (ResponseEvent) EventType() string            { return EvtResponse }
func (AgentStartEvent) EventType() string          { return EvtAgentStart }
func (AgentEndEvent) EventType() string            { return EvtAgentEnd }
func (MessageStartEvent) EventType() string        { return EvtMessageStart }
func (MessageUpdateEvent) EventType() string       { return EvtMessageUpdate }
func (MessageEndEvent) EventType() string          { return EvtMessageEnd }
func (ToolExecutionStartEvent) EventType() string  { return EvtToolExecutionStart }
func (ToolExecutionUpdateEvent) EventType() string { return EvtToolExecutionUpdate }
func (ToolExecutionEndEvent) EventType() string    { return EvtToolExecutionEnd }
func (ExtensionErrorEvent) EventType() string      { return EvtExtensionError }
func (e UnknownEvent) EventType() string           { return e.Type }

// DeltaKind discriminates streaming deltas.
type DeltaKind string

const (
	DeltaStart         DeltaKind = "start"
	DeltaTextStart     DeltaKind = "text_start"
	DeltaText          DeltaKind = "text_delta"
	DeltaTextEnd       DeltaKind = "text_end"
	DeltaThinkingStart DeltaKind = "thinking_start"
	DeltaThinking      DeltaKind = "thinking_delta"
	DeltaThinkingEnd   DeltaKind = "thinking_end"
	DeltaToolCallStart DeltaKind = "toolcall_start"
	DeltaToolCall      DeltaKind = "toolcall_delta"
	DeltaToolCallEnd   DeltaKind = "toolcall_end"
	DeltaDone          DeltaKind = "done"
	DeltaError         DeltaKind = "error"
	DeltaUnknown       DeltaKind = "unknown"
)

var knownDeltas = map[DeltaKind]bool{
	DeltaStart: true, DeltaTextStart: true, DeltaText: true, DeltaTextEnd: true,
	DeltaThinkingStart: true, DeltaThinking: true, DeltaThinkingEnd: true,
	DeltaToolCallStart: true, DeltaToolCall: true, DeltaToolCallEnd: true,
	DeltaDone: true, DeltaError: true,
}

// Delta is one streaming update nested in a message_update frame.
type Delta struct {
	Kind         DeltaKind        `json:"type"`
	ContentIndex int              `json:"contentIndex"`
	Text         string           `json:"delta,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	ToolCall     *pi.ContentBlock `json:"toolCall,omitempty"`
	ErrorMessage string           `json:"-"`
}

// UnmarshalJSON decodes a delta, mapping unrecognized kinds to DeltaUnknown
// and lifting the error message out of an error delta's nested message.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         string           `json:"type"`
		ContentIndex int              `json:"contentIndex"`
		Delta        string           `json:"delta"`
		Content      string           `json:"content"`
		Reason       string           `json:"reason"`
		ToolCall     *pi.ContentBlock `json:"toolCall"`
		Error        *struct {
			ErrorMessage string `json:"errorMessage"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Kind = DeltaKind(raw.Type)
	if !knownDeltas[d.Kind] {
		d.Kind = DeltaUnknown
	}
	d.ContentIndex = raw.ContentIndex
	d.Text = raw.Delta
	if d.Text == "" && (d.Kind == DeltaThinkingStart || d.Kind == DeltaThinkingEnd) {
		d.Text = raw.Content
	}
	d.Reason = raw.Reason
	d.ToolCall = raw.ToolCall
	if raw.Error != nil {
		d.ErrorMessage = raw.Error.ErrorMessage
	}
	return nil
}

// DecodeEvent parses one line into an Event.
func DecodeEvent(line []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}

	var (
		ev  Event
		err error
	)
	switch probe.Type {
	case EvtResponse:
		ev, err = decodeAs[ResponseEvent](line)
	case EvtAgentStart:
		ev = AgentStartEvent{}
	case EvtAgentEnd:
		ev, err = decodeAs[AgentEndEvent](line)
	case EvtMessageStart:
		ev, err = decodeAs[MessageStartEvent](line)
	case EvtMessageUpdate:
		ev, err = decodeAs[MessageUpdateEvent](line)
	case EvtMessageEnd:
		ev, err = decodeAs[MessageEndEvent](line)
	case EvtToolExecutionStart:
		ev, err = decodeAs[ToolExecutionStartEvent](line)
	case EvtToolExecutionUpdate:
		ev, err = decodeAs[ToolExecutionUpdateEvent](line)
	case EvtToolExecutionEnd:
		ev, err = decodeAs[ToolExecutionEndEvent](line)
	case EvtExtensionError:
		ev, err = decodeAs[ExtensionErrorEvent](line)
	default:
		ev = UnknownEvent{Type: probe.Type, Raw: append(json.RawMessage(nil), line...)}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.Type, err)
	}
	return ev, nil
}

func decodeAs[T Event](line []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}
