package rpc

import (
	"strings"
	"testing"
)

func feedAll(f *Framer, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		for _, line := range f.Feed([]byte(c)) {
			out = append(out, string(line))
		}
	}
	return out
}

func TestFramerSplitsAcrossChunks(t *testing.T) {
	f := NewFramer(0)
	got := feedAll(f, `{"a":`, `1}`+"\n"+`{"b"`, `:2}`+"\n")
	want := []string{`{"a":1}`, `{"b":2}`}
	if len(got) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.Pending())
	}
}

func TestFramerHoldsPartialLine(t *testing.T) {
	f := NewFramer(0)
	if got := feedAll(f, `{"partial"`); len(got) != 0 {
		t.Fatalf("got %q before newline", got)
	}
	if f.Pending() != len(`{"partial"`) {
		t.Errorf("Pending() = %d", f.Pending())
	}
}

func TestFramerTrimsCarriageReturnAndBlankLines(t *testing.T) {
	f := NewFramer(0)
	got := feedAll(f, "one\r\n\n  \r\ntwo\n")
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %q", got)
	}
}

func TestFramerDropsOversizeLine(t *testing.T) {
	f := NewFramer(8)
	got := feedAll(f, "short\n", strings.Repeat("x", 6), strings.Repeat("y", 6), "zz\nnext\n")
	if len(got) != 2 || got[0] != "short" || got[1] != "next" {
		t.Fatalf("got %q", got)
	}
	if f.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", f.Dropped())
	}

	got = feedAll(f, "0123456789\nok\n")
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("got %q after single-chunk oversize line", got)
	}
	if f.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", f.Dropped())
	}
}

func TestFramerLinesAreCopies(t *testing.T) {
	f := NewFramer(0)
	buf := []byte("abc\n")
	lines := f.Feed(buf)
	buf[0] = 'z'
	if string(lines[0]) != "abc" {
		t.Errorf("line aliases input buffer: %q", lines[0])
	}
}
