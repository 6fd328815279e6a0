// Package watcher reports transcript file changes under a sessions root.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

// DefaultDebounce is the quiet period after the last write before a
// change is reported.
const DefaultDebounce = 250 * time.Millisecond

// Op is the kind of change.
type Op string

const (
	Created  Op = "created"
	Modified Op = "modified"
	Deleted  Op = "deleted"
)

// Event is one reconciled change to a transcript file. ModTime is zero for
// deletions.
type Event struct {
	Op      Op
	Path    string
	ModTime time.Time
}

// Watcher monitors a directory tree for transcript changes. Writes are
// debounced per path; removals and renames are reported immediately as
// deletions.
type Watcher struct {
	root     string
	debounce time.Duration
	fw       *fsnotify.Watcher
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]*pendingChange
}

type pendingChange struct {
	op    Op
	timer *time.Timer
}

// New creates a watcher for root. A zero debounce means DefaultDebounce.
func New(root string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		fw:       fw,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingChange),
	}, nil
}

// Events returns the change stream. It is never closed; stop reading after
// Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start creates the root if needed, watches it recursively, and begins
// delivering events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.addTree(w.root, false); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop ends monitoring. Pending debounced changes are discarded.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()

		w.mu.Lock()
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
	return err
}

// addTree watches dir and every directory below it. When report is set,
// transcripts already present are reported as created; they may have been
// written before the watch was in place.
func (w *Watcher) addTree(dir string, report bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.fw.Add(path); err != nil {
				islandlog.Log.Warn("watcher: failed to watch directory", "dir", path, "error", err)
			}
			return nil
		}
		if report && transcript.IsTranscript(path) {
			w.schedule(path, Created)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			islandlog.Log.Warn("watcher: fsnotify error", "error", err)

		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path, true); err != nil {
				islandlog.Log.Warn("watcher: failed to watch new directory", "dir", path, "error", err)
			}
			return
		}
	}

	if !transcript.IsTranscript(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		w.emit(Event{Op: Deleted, Path: path})
	case ev.Has(fsnotify.Create):
		w.schedule(path, Created)
	case ev.Has(fsnotify.Write):
		w.schedule(path, Modified)
	}
}

// schedule (re)starts the debounce timer for path. A pending creation is
// not downgraded to a modification.
func (w *Watcher) schedule(path string, op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		if p.op == Created {
			op = Created
		}
	}
	p := &pendingChange{op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(path, p) })
	w.pending[path] = p
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) fire(path string, p *pendingChange) {
	w.mu.Lock()
	if w.pending[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.emit(Event{Op: Deleted, Path: path})
	case err != nil:
		islandlog.Log.Warn("watcher: stat failed", "path", path, "error", err)
	default:
		w.emit(Event{Op: p.op, Path: path, ModTime: info.ModTime()})
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
