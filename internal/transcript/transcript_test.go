package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
)

const toolTranscript = `{"type":"session","version":3,"id":"abc","timestamp":"2026-01-02T10:00:00.000Z","cwd":"/work/d"}
{"type":"message","timestamp":"2026-01-02T10:00:01.000Z","message":{"role":"user","content":"a","timestamp":1767348001000}}
{"type":"message","timestamp":"2026-01-02T10:00:02.000Z","message":{"role":"assistant","content":[{"type":"toolCall","id":"t1","name":"read","arguments":{"path":"x"}}],"provider":"anthropic","model":"claude-sonnet","timestamp":1767348002000}}
{"type":"message","timestamp":"2026-01-02T10:00:03.000Z","message":{"role":"toolResult","toolCallId":"t1","toolName":"read","content":"data","isError":false,"timestamp":1767348003000}}
`

func TestParseToolRoundTrip(t *testing.T) {
	path := "/sessions/--work-d--/2026-01-02T10-00-00-000Z_0f9c.jsonl"
	snap := Parse(path, []byte(toolTranscript), time.Time{})

	if snap.ID != "0f9c" {
		t.Errorf("ID = %q, want 0f9c", snap.ID)
	}
	if snap.Cwd != "/work/d" {
		t.Errorf("Cwd = %q", snap.Cwd)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(snap.Messages), snap.Messages)
	}

	user := snap.Messages[0]
	if user.Role != pi.RoleUser || user.Content != "a" {
		t.Errorf("first message = %+v, want user a", user)
	}
	tool := snap.Messages[1]
	if tool.Role != pi.RoleTool || tool.ID != "t1" || tool.ToolName != "read" {
		t.Errorf("second message = %+v, want tool t1 read", tool)
	}
	if tool.ToolStatus != pi.ToolSuccess || tool.ToolResult != "data" {
		t.Errorf("tool status = %q result = %q, want success data", tool.ToolStatus, tool.ToolResult)
	}

	if snap.Model.String() != "anthropic/claude-sonnet" {
		t.Errorf("Model = %q", snap.Model.String())
	}
	want := time.Date(2026, 1, 2, 10, 0, 3, 0, time.UTC)
	if !snap.LastActivity.Equal(want) {
		t.Errorf("LastActivity = %v, want %v", snap.LastActivity, want)
	}
}

func TestParseSkipsCorruptLines(t *testing.T) {
	data := `{"type":"session","cwd":"/d"}
{"type":"message","message":{"role":"user","content":"first"}}
{truncated
{"type":"message","message":"not an object"}

{"type":"message","message":{"role":"user","content":"second"}}
{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"par`
	snap := Parse("/s/x_id.jsonl", []byte(data), time.Time{})

	if snap.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", snap.Skipped)
	}
	if len(snap.Messages) != 2 || snap.Messages[0].Content != "first" || snap.Messages[1].Content != "second" {
		t.Errorf("messages = %+v", snap.Messages)
	}
}

func TestParseSkipsOversizeLine(t *testing.T) {
	defer func(n int) { maxLineSize = n }(maxLineSize)
	maxLineSize = 128

	big := `{"type":"message","message":{"role":"user","content":"` + strings.Repeat("x", 256) + `"}}`
	data := `{"type":"session","cwd":"/d"}
{"type":"message","message":{"role":"user","content":"before"}}
` + big + `
{"type":"message","message":{"role":"user","content":"after"}}
`
	snap := Parse("/s/x_id.jsonl", []byte(data), time.Time{})

	if snap.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", snap.Skipped)
	}
	if len(snap.Messages) != 2 || snap.Messages[1].Content != "after" {
		t.Errorf("messages = %+v", snap.Messages)
	}
	if snap.Cwd != "/d" {
		t.Errorf("Cwd = %q", snap.Cwd)
	}
}

func TestParseModelAndThinkingLevel(t *testing.T) {
	data := `{"type":"model_change","provider":"openai","modelId":"gpt-5"}
{"type":"thinking_level_change","thinkingLevel":"high"}
`
	snap := Parse("/s/a.jsonl", []byte(data), time.Time{})
	if snap.Model.String() != "openai/gpt-5" {
		t.Errorf("Model = %q", snap.Model.String())
	}
	if snap.ThinkingLevel != "high" {
		t.Errorf("ThinkingLevel = %q", snap.ThinkingLevel)
	}
}

func TestParseFallsBackToModTime(t *testing.T) {
	mod := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := Parse("/s/a.jsonl", []byte(`{"type":"session","cwd":"/d"}`), mod)
	if !snap.LastActivity.Equal(mod) {
		t.Errorf("LastActivity = %v, want mtime %v", snap.LastActivity, mod)
	}
	if !snap.ModTime.Equal(mod) {
		t.Errorf("ModTime = %v", snap.ModTime)
	}
}

func TestParseUnresolvedToolResultSkipped(t *testing.T) {
	data := `{"type":"message","message":{"role":"toolResult","toolCallId":"nope","content":"x"}}
{"type":"message","message":{"role":"user","content":"hi"}}
`
	snap := Parse("/s/a.jsonl", []byte(data), time.Time{})
	if len(snap.Messages) != 1 || snap.Messages[0].Role != pi.RoleUser {
		t.Errorf("messages = %+v", snap.Messages)
	}
}

func TestIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a/2026-01-01T00-00-00-000Z_1234-abcd.jsonl", "1234-abcd"},
		{"/a/plain.jsonl", "plain"},
		{"/a/trailing_.jsonl", "trailing_"},
		{"x_y_z.jsonl", "z"},
	}
	for _, tt := range tests {
		if got := IDFromPath(tt.path); got != tt.want {
			t.Errorf("IDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestParseFileAndScanDir(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "--work-d--")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	a := filepath.Join(sub, "t1_aaa.jsonl")
	b := filepath.Join(root, "t2_bbb.jsonl")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte(toolTranscript), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".hidden.jsonl"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	paths, err := ScanDir(root)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(paths) != 2 || paths[0] != a || paths[1] != b {
		t.Errorf("ScanDir = %q, want [%s %s]", paths, a, b)
	}

	snap, err := ParseFile(a)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if snap.ID != "aaa" || len(snap.Messages) != 2 || snap.ModTime.IsZero() {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, err := ParseFile(filepath.Join(root, "missing.jsonl")); err == nil {
		t.Error("ParseFile succeeded for a missing file")
	}
}

func TestScanDirMissingRoot(t *testing.T) {
	paths, err := ScanDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil || paths != nil {
		t.Errorf("ScanDir(missing) = %v, %v", paths, err)
	}
}
