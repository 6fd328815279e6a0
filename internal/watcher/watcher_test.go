package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

// next returns the next event for path, skipping events for other files.
func next(t *testing.T, w *Watcher, path string) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == path {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestCreateModifyDelete(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)
	path := filepath.Join(root, "a_1.jsonl")

	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev := next(t, w, path)
	if ev.Op != Created || ev.ModTime.IsZero() {
		t.Errorf("event = %+v, want created with mtime", ev)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if _, err := f.WriteString("{}\n"); err != nil {
			t.Fatal(err)
		}
	}
	f.Close()
	if ev := next(t, w, path); ev.Op != Modified {
		t.Errorf("event = %+v, want modified", ev)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, w, path); ev.Op != Deleted {
		t.Errorf("event = %+v, want deleted", ev)
	}
}

func TestWritesAreDebounced(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "b_2.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for range 10 {
		if _, err := f.WriteString("{}\n"); err != nil {
			t.Fatal(err)
		}
	}

	if ev := next(t, w, path); ev.Op != Modified {
		t.Fatalf("event = %+v", ev)
	}
	select {
	case ev := <-w.Events():
		t.Errorf("extra event after burst: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "--home-me-project--")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory, then write.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(sub, "c_3.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, w, path); ev.Op != Created {
		t.Errorf("event = %+v, want created", ev)
	}
}

func TestRenameReportedAsDeleted(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "d_4.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root)

	if err := os.Rename(path, filepath.Join(root, "archived.bak")); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, w, path); ev.Op != Deleted {
		t.Errorf("event = %+v, want deleted", ev)
	}
}
