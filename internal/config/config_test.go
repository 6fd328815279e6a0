package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WritesDefaultsOnFirstUse(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Binary != DefaultAgentBinary {
		t.Errorf("Agent.Binary = %q, want %q", cfg.Agent.Binary, DefaultAgentBinary)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".pi-island", "config.json")); err != nil {
		t.Fatalf("config.json not written: %v", err)
	}
}

func TestLoad_MissingKeysKeepDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".pi-island")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	partial := `{"agent":{"provider":"anthropic"},"server":{"port":9000}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(partial), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Provider != "anthropic" {
		t.Errorf("Agent.Provider = %q", cfg.Agent.Provider)
	}
	if cfg.Agent.Binary != DefaultAgentBinary {
		t.Errorf("Agent.Binary = %q, want default", cfg.Agent.Binary)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if !cfg.Sessions.Watch {
		t.Error("Sessions.Watch should default to true")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".pi-island")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0600)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestDurations(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"default", "", 10 * time.Second},
		{"explicit", "3s", 3 * time.Second},
		{"garbage falls back", "soon", 10 * time.Second},
		{"negative falls back", "-1s", 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (RPCConfig{RequestTimeout: tt.in}).Timeout(); got != tt.want {
				t.Errorf("Timeout(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if got := (SessionsConfig{}).DebounceDuration(); got != 250*time.Millisecond {
		t.Errorf("default debounce = %v", got)
	}
	if got := (SessionsConfig{}).Workers(); got != 4 {
		t.Errorf("default workers = %d", got)
	}
}

func TestSessionsResolvedDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	got, err := SessionsConfig{}.ResolvedDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(tmpDir, ".pi", "agent", "sessions"); got != want {
		t.Errorf("ResolvedDir() = %q, want %q", got, want)
	}

	got, _ = SessionsConfig{Dir: "~/transcripts"}.ResolvedDir()
	if want := filepath.Join(tmpDir, "transcripts"); got != want {
		t.Errorf("ResolvedDir(~) = %q, want %q", got, want)
	}
}

func TestSave_RoundTripsToken(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := Default()
	cfg.Server.Token = "secret"
	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}

	path, _ := Path()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Server.Token != "secret" {
		t.Errorf("token not persisted: %+v", onDisk.Server)
	}
}
