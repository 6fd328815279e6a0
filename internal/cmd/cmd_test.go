package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soporteakasiapro1-art/pi-island/internal/config"
)

// run executes the root command with args against a fresh HOME.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		sessionsDir, sessionJSON, sessionViewRaw, sessionCwd, sessionLimit = "", false, false, "", 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTranscript(t *testing.T, dir, name, cwd, text string) string {
	t.Helper()
	data := `{"type":"session","timestamp":"2026-01-02T03:04:05Z","cwd":"` + cwd + `"}` + "\n" +
		`{"type":"message","message":{"role":"user","content":"` + text + `"}}` + "\n"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "pi-island version ") {
		t.Errorf("output = %q", out)
	}
}

func TestServeToken(t *testing.T) {
	out, err := run(t, "serve", "token")
	if err != nil {
		t.Fatal(err)
	}
	if len(strings.TrimSpace(out)) != 64 {
		t.Errorf("token = %q", out)
	}
}

func TestSessionsList(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "2026-01-02_abcd1234.jsonl", "/work/a", "hello")

	out, err := run(t, "sessions", "list", "--dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "abcd1234") || !strings.Contains(out, "/work/a") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "sessions", "list", "--dir", filepath.Join(dir, "none"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No sessions found") {
		t.Errorf("empty list output:\n%s", out)
	}
}

func TestSessionsView(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "2026-01-02_abcd1234.jsonl", "/work/a", "render me")

	for _, query := range []string{"abcd1234", path} {
		out, err := run(t, "sessions", "view", "--dir", dir, query)
		if err != nil {
			t.Fatalf("view %s: %v", query, err)
		}
		if !strings.Contains(out, "render me") {
			t.Errorf("view %s output:\n%s", query, out)
		}
	}

	if _, err := run(t, "sessions", "view", "--dir", dir, "zzzz"); err == nil {
		t.Error("expected not found error")
	}
}

func TestApplyServeFlags(t *testing.T) {
	t.Cleanup(func() { servePort, serveHost, serveToken, serveNoWatch = 0, "", "", false })

	cfg := config.Default()
	applyServeFlags(&cfg)
	if cfg.Server.Port != config.DefaultPort || !cfg.Sessions.Watch {
		t.Errorf("defaults changed without flags: %+v", cfg)
	}

	servePort, serveHost, serveToken, serveNoWatch = 9000, "0.0.0.0", "tok", true
	applyServeFlags(&cfg)
	if cfg.Server.Port != 9000 || cfg.Server.Host != "0.0.0.0" || cfg.Server.Token != "tok" || cfg.Sessions.Watch {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestTailLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := tailLogFile(context.Background(), &out, path, 2, false); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "two\nthree\n" {
		t.Errorf("tail = %q", got)
	}

	if err := tailLogFile(context.Background(), &out, path+".missing", 2, false); err == nil {
		t.Error("expected error for missing file")
	}

	// Follow returns once the context is done.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tailLogFile(ctx, &out, path, 1, true); err != nil {
		t.Errorf("follow: %v", err)
	}
}
