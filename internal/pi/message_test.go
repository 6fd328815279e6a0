package pi

import (
	"encoding/json"
	"testing"
)

func rec(t *testing.T, s string) AgentMessage {
	t.Helper()
	var m AgentMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return m
}

func TestReconstruct_ToolCallResolvedByResult(t *testing.T) {
	msgs := Reconstruct([]AgentMessage{
		rec(t, `{"role":"user","content":"a"}`),
		rec(t, `{"role":"assistant","content":[{"type":"toolCall","id":"t1","name":"read","arguments":{"path":"x"}}]}`),
		rec(t, `{"role":"toolResult","toolCallId":"t1","toolName":"read","content":[{"type":"text","text":"data"}]}`),
	})

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "a" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	tool := msgs[1]
	if tool.ID != "t1" || tool.Role != RoleTool || tool.ToolName != "read" {
		t.Errorf("tool message = %+v", tool)
	}
	if tool.ToolStatus != ToolSuccess || tool.ToolResult != "data" {
		t.Errorf("tool status/result = %q/%q", tool.ToolStatus, tool.ToolResult)
	}
}

func TestReconstruct_InterleavedBlocks(t *testing.T) {
	msgs := Reconstruct([]AgentMessage{
		rec(t, `{"role":"assistant","content":[
			{"type":"thinking","thinking":"hmm"},
			{"type":"text","text":"first"},
			{"type":"toolCall","id":"c1","name":"bash"},
			{"type":"text","text":"second"}]}`),
		rec(t, `{"role":"toolResult","toolCallId":"c1","isError":true,"content":"boom"}`),
	})

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "first" || msgs[0].Thinking != "hmm" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].ID != "c1" || msgs[1].ToolStatus != ToolError || msgs[1].ToolResult != "boom" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[2].Content != "second" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}

	seen := map[string]bool{}
	for _, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestReconstruct_SkipsUnresolvable(t *testing.T) {
	msgs := Reconstruct([]AgentMessage{
		rec(t, `{"role":"toolResult","toolCallId":"nope","content":"x"}`),
		rec(t, `{"role":"bashExecution","command":"ls"}`),
		rec(t, `{"role":"user","content":[]}`),
		rec(t, `{"role":"assistant","content":[{"type":"toolCall","name":"noid"}]}`),
	})
	if len(msgs) != 0 {
		t.Fatalf("expected nothing, got %+v", msgs)
	}
}

func TestResolve_IsMonotonic(t *testing.T) {
	m := Message{ID: "t1", Role: RoleTool, ToolStatus: ToolRunning}
	if !m.Resolve("ok", false) {
		t.Fatal("first resolve should apply")
	}
	if m.Resolve("late", true) {
		t.Fatal("second resolve should be rejected")
	}
	if m.ToolStatus != ToolSuccess || m.ToolResult != "ok" {
		t.Fatalf("status changed after terminal: %+v", m)
	}
}

func TestTextOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"hello"`, "hello"},
		{"blocks", `[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]`, "a\nb"},
		{"tool result object", `{"content":[{"type":"text","text":"out"}],"details":{}}`, "out"},
		{"empty", ``, ""},
		{"number", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TextOf(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("TextOf(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestModelRefString(t *testing.T) {
	var nilRef *ModelRef
	if nilRef.String() != "" {
		t.Error("nil model should render empty")
	}
	if got := (&ModelRef{Provider: "anthropic", ID: "claude-sonnet"}).String(); got != "anthropic/claude-sonnet" {
		t.Errorf("String() = %q", got)
	}
}
