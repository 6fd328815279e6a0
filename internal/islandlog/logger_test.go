package islandlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Debug("hidden", "k", 1)
	l.Info("shown", "session_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written without verbose: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "session_id=abc") {
		t.Errorf("expected info record with key-value pair, got %q", out)
	}
}

func TestLogger_Verbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	done := l.Timed("parse", "path", "/tmp/x.jsonl")
	done()

	out := buf.String()
	if !strings.Contains(out, "status=started") || !strings.Contains(out, "status=completed") {
		t.Errorf("expected timed start/complete records, got %q", out)
	}
}

func TestLogger_DisabledIsNoop(t *testing.T) {
	l := &Logger{}
	l.Info("nothing")
	if l.Enabled() {
		t.Fatal("zero logger should be disabled")
	}
	if l.Writer() == nil {
		t.Fatal("Writer should never be nil")
	}
}
