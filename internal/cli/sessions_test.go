package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

func testSessions(now time.Time) []transcript.Snapshot {
	return []transcript.Snapshot{
		{
			ID:           "aaaa1111",
			Path:         "/s/2026-01-01_aaaa1111.jsonl",
			Cwd:          "/work/a",
			Model:        &pi.ModelRef{Provider: "anthropic", ID: "sonnet"},
			Messages:     []pi.Message{{Role: pi.RoleUser, Content: "hi"}},
			LastActivity: now.Add(-2 * time.Hour),
		},
		{
			ID:           "bbbb2222",
			Path:         "/s/2026-01-02_bbbb2222.jsonl",
			Cwd:          "/work/b",
			LastActivity: now.Add(-time.Minute),
		},
	}
}

func TestSessionsFormatter_FormatList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	f := NewSessionsFormatter(&buf)
	f.now = func() time.Time { return now }

	if err := f.FormatList(testSessions(now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "aaaa1111", "anthropic/sonnet", "2 hours ago", "/work/b", "1 minute ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSessionsFormatter_FormatJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewSessionsFormatter(&buf).FormatJSON(testSessions(time.Now())); err != nil {
		t.Fatal(err)
	}
	var got []transcript.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0].Messages != nil {
		t.Errorf("got %+v", got)
	}
}

func TestSessionsFormatter_FormatSummary(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	if err := NewSessionsFormatter(&buf).FormatSummary(testSessions(now)[:1], ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"aaaa1111", "Messages: 1", "Model:    anthropic/sonnet", "/work/a"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := NewSessionsFormatter(&buf).FormatSummary(testSessions(now), "{{range .}}{{.SessionID}};{{end}}"); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "aaaa1111;bbbb2222;" {
		t.Errorf("custom template = %q", got)
	}

	if err := NewSessionsFormatter(&buf).FormatSummary(nil, "{{"); err == nil {
		t.Error("expected template parse error")
	}
}

func TestFilter(t *testing.T) {
	now := time.Now()

	got := Filter(testSessions(now), SessionListOptions{Descending: true})
	if got[0].ID != "bbbb2222" {
		t.Errorf("newest first = %s", got[0].ID)
	}

	got = Filter(testSessions(now), SessionListOptions{SortBy: "name"})
	if got[0].ID != "aaaa1111" {
		t.Errorf("name order = %s", got[0].ID)
	}

	got = Filter(testSessions(now), SessionListOptions{Cwd: "/work/a"})
	if len(got) != 1 || got[0].ID != "aaaa1111" {
		t.Errorf("cwd filter = %+v", got)
	}

	got = Filter(testSessions(now), SessionListOptions{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limit = %d", len(got))
	}
}

func TestResolveSession(t *testing.T) {
	sessions := testSessions(time.Now())
	sessions = append(sessions, transcript.Snapshot{ID: "cccc2222", Path: "/s/x_cccc2222.jsonl"})

	tests := []struct {
		query   string
		want    string
		wantErr string
	}{
		{"aaaa1111", "aaaa1111", ""},
		{"/s/2026-01-02_bbbb2222.jsonl", "bbbb2222", ""},
		{"2026-01-01_aaaa1111", "aaaa1111", ""},
		{"1111", "aaaa1111", ""},
		{"2222", "", "ambiguous"},
		{"zzzz", "", "not found"},
		{" ", "", "required"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := ResolveSession(sessions, tt.query)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != tt.want {
				t.Errorf("resolved %s, want %s", got.ID, tt.want)
			}
		})
	}
}

func TestLoadSessions(t *testing.T) {
	dir := t.TempDir()
	data := `{"type":"session","cwd":"/w"}` + "\n" +
		`{"type":"message","message":{"role":"user","content":"hello"}}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "t_abcd.jsonl"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSessions(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "abcd" || got[0].Cwd != "/w" || len(got[0].Messages) != 1 {
		t.Errorf("got %+v", got)
	}

	got, err = LoadSessions(filepath.Join(dir, "missing"))
	if err != nil || len(got) != 0 {
		t.Errorf("missing dir = %v, %v", got, err)
	}
}

func TestRenderTranscriptPlain(t *testing.T) {
	snap := transcript.Snapshot{
		ID:    "abcd",
		Cwd:   "/w",
		Model: &pi.ModelRef{Provider: "fake", ID: "m"},
		Messages: []pi.Message{
			{Role: pi.RoleUser, Content: "list files"},
			{Role: pi.RoleAssistant, Content: "Sure.", Thinking: strings.Repeat("x", 600)},
			{Role: pi.RoleTool, ToolName: "bash", ToolArgs: json.RawMessage(`{"cmd":"ls"}`), ToolResult: "a.txt", ToolStatus: pi.ToolError},
		},
	}

	var buf bytes.Buffer
	r := NewRenderer(&buf, false)
	if r.Styled() {
		t.Fatal("buffer output should not be styled")
	}
	if err := r.RenderTranscript(snap); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"abcd  /w",
		"fake/m · 3 messages",
		"User\n  list files",
		"Assistant\n  Sure.",
		"Tool: bash (error)",
		`  {"cmd":"ls"}`,
		"  a.txt",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 501)) {
		t.Error("thinking block not truncated")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains escape codes")
	}
}
