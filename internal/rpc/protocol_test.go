package rpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeAddsTypeAndID(t *testing.T) {
	data, err := Encode(SetModelCommand{Provider: "anthropic", ModelID: "sonnet"}, "req-7")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	want := map[string]string{"type": "set_model", "id": "req-7", "provider": "anthropic", "modelId": "sonnet"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	for _, b := range data {
		if b == '\n' {
			t.Fatalf("encoded frame contains a newline: %s", data)
		}
	}
}

func TestEncodeEmptyCommand(t *testing.T) {
	data, err := Encode(AbortCommand{}, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"type":"abort"}` {
		t.Errorf("Encode(abort) = %s", data)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil, ""); !errors.Is(err, ErrEncode) {
		t.Errorf("Encode(nil) error = %v, want ErrEncode", err)
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"response", `{"type":"response","command":"get_state","success":true,"data":{}}`, EvtResponse},
		{"agent start", `{"type":"agent_start"}`, EvtAgentStart},
		{"agent end", `{"type":"agent_end","messages":[]}`, EvtAgentEnd},
		{"tool start", `{"type":"tool_execution_start","toolCallId":"t1","toolName":"read","args":{}}`, EvtToolExecutionStart},
		{"tool end", `{"type":"tool_execution_end","toolCallId":"t1","toolName":"read","result":{},"isError":false}`, EvtToolExecutionEnd},
		{"extension error", `{"type":"extension_error","extensionPath":"x.ts","event":"tool_call","error":"bad"}`, EvtExtensionError},
		{"unknown", `{"type":"auto_compaction_start"}`, "auto_compaction_start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.EventType() != tt.want {
				t.Errorf("EventType() = %q, want %q", ev.EventType(), tt.want)
			}
		})
	}
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	for _, line := range []string{`{not json`, `[]`, `{}`, `"text"`, `{"type":"response","success":"yes"}`} {
		if _, err := DecodeEvent([]byte(line)); err == nil {
			t.Errorf("DecodeEvent(%s) succeeded", line)
		}
	}
}

func TestDecodeMessageUpdateDeltas(t *testing.T) {
	tests := []struct {
		line string
		kind DeltaKind
		text string
		errMsg string
	}{
		{`{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"text_delta","contentIndex":0,"delta":"Hel"}}`, DeltaText, "Hel", ""},
		{`{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"thinking_delta","delta":"hmm"}}`, DeltaThinking, "hmm", ""},
		{`{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"done","reason":"stop"}}`, DeltaDone, "", ""},
		{`{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"error","reason":"error","error":{"errorMessage":"overloaded"}}}`, DeltaError, "", "overloaded"},
		{`{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"image_delta"}}`, DeltaUnknown, "", ""},
	}
	for _, tt := range tests {
		ev, err := DecodeEvent([]byte(tt.line))
		if err != nil {
			t.Fatalf("DecodeEvent(%s): %v", tt.line, err)
		}
		up, ok := ev.(MessageUpdateEvent)
		if !ok {
			t.Fatalf("got %T, want MessageUpdateEvent", ev)
		}
		if up.Delta.Kind != tt.kind || up.Delta.Text != tt.text || up.Delta.ErrorMessage != tt.errMsg {
			t.Errorf("delta = %+v, want kind %q text %q error %q", up.Delta, tt.kind, tt.text, tt.errMsg)
		}
	}
}

func TestDecodeToolCallStart(t *testing.T) {
	line := `{"type":"message_update","message":{"role":"assistant"},"assistantMessageEvent":{"type":"toolcall_start","contentIndex":1,"toolCall":{"type":"toolCall","id":"t1","name":"read","arguments":{"path":"a"}}}}`
	ev, err := DecodeEvent([]byte(line))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	d := ev.(MessageUpdateEvent).Delta
	if d.Kind != DeltaToolCallStart || d.ToolCall == nil || d.ToolCall.ID != "t1" || d.ToolCall.Name != "read" {
		t.Errorf("delta = %+v", d)
	}
}
