package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/session"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
	"github.com/soporteakasiapro1-art/pi-island/internal/watcher"
)

// HandleFileEvent reconciles one transcript change with the registry.
// Transcripts owned by a live session are never reparsed: the in-memory
// state is authoritative and only the modification time is recorded.
// Other transcripts are parsed on the worker pool and upserted when their
// content changed. Deletions drop historical entries only.
func (m *Manager) HandleFileEvent(ev watcher.Event) {
	m.post(func() { m.reconcile(ev) })
}

func (m *Manager) reconcile(ev watcher.Event) {
	defer m.sweep()

	switch ev.Op {
	case watcher.Deleted:
		id, ok := m.byPath[ev.Path]
		if !ok {
			fileEventsTotal.WithLabelValues(string(ev.Op), "unknown").Inc()
			return
		}
		if s := m.sessions[id]; s != nil && s.Live() {
			fileEventsTotal.WithLabelValues(string(ev.Op), "live").Inc()
			return
		}
		m.drop(id)
		delete(m.byPath, ev.Path)
		fileEventsTotal.WithLabelValues(string(ev.Op), "dropped").Inc()

	case watcher.Created, watcher.Modified:
		if owner := m.liveOwner(ev.Path); owner != nil {
			modTime := ev.ModTime
			if modTime.IsZero() {
				modTime = time.Now()
			}
			owner.SetFileModTime(modTime)
			if owner.Phase() == session.PhaseIdle {
				m.publish(Event{Kind: EventExternalUpdate, SessionID: owner.ID(), Live: true})
			}
			fileEventsTotal.WithLabelValues(string(ev.Op), "live").Inc()
			return
		}
		m.parse(ev.Path)
		fileEventsTotal.WithLabelValues(string(ev.Op), "parsed").Inc()
	}
}

// liveOwner returns the live session bound to path. Loop only.
func (m *Manager) liveOwner(path string) *session.Session {
	if id, ok := m.byPath[path]; ok {
		if s := m.sessions[id]; s != nil && s.Live() {
			return s
		}
	}
	for _, s := range m.sessions {
		if s.Live() && s.File() == path {
			return s
		}
	}
	return nil
}

// parse reads path on the worker pool and posts the result back to the
// loop. Acquiring a worker may block, so it never happens on the loop.
func (m *Manager) parse(path string) {
	if m.ctx.Err() != nil {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.pool.Go(func() error {
			snap, err := parseTimed(path)
			if err != nil {
				if isNotExist(err) {
					m.post(func() {
						m.reconcile(watcher.Event{Op: watcher.Deleted, Path: path})
					})
					return nil
				}
				islandlog.Log.Warn("manager: parse failed", "path", path, "error", err)
				return nil
			}
			m.post(func() { m.apply(snap) })
			return nil
		})
	}()
}

func parseTimed(path string) (transcript.Snapshot, error) {
	start := time.Now()
	snap, err := transcript.ParseFile(path)
	parseDurationSeconds.Observe(time.Since(start).Seconds())
	return snap, err
}

// apply upserts a parsed transcript as a historical session. Loop only.
func (m *Manager) apply(snap transcript.Snapshot) {
	defer m.sweep()

	if owner := m.liveOwner(snap.Path); owner != nil {
		// The file became live while it was being parsed.
		owner.SetFileModTime(snap.ModTime)
		return
	}

	if id, ok := m.byPath[snap.Path]; ok {
		cur := m.sessions[id]
		if cur != nil {
			if cur.MessageCount() == len(snap.Messages) && cur.LastActivity().Equal(snap.LastActivity) {
				return
			}
			if old := cur.Snapshot(); old.FileModTime.After(snap.ModTime) {
				return // a newer parse already landed
			}
			snap.ID = id
			m.sessions[id] = session.NewHistorical(snap)
			m.publish(Event{Kind: EventUpdated, SessionID: id})
			return
		}
	}

	if _, taken := m.sessions[snap.ID]; taken || snap.ID == "" {
		snap.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+snap.Path)).String()
	}
	m.sessions[snap.ID] = session.NewHistorical(snap)
	m.byPath[snap.Path] = snap.ID
	m.publish(Event{Kind: EventAdded, SessionID: snap.ID})
	m.updateGauges()
}

// LoadHistory parses every transcript under dir into historical sessions.
// Files owned by live sessions are skipped. It returns once all parses have
// been applied.
func (m *Manager) LoadHistory(ctx context.Context, dir string) (int, error) {
	defer islandlog.Log.Timed("manager: load history", "dir", dir)()

	paths, err := transcript.ScanDir(dir)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ParseWorkers)
	snaps := make([]transcript.Snapshot, len(paths))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			snap, err := parseTimed(path)
			if err != nil {
				islandlog.Log.Warn("manager: skipping unreadable transcript", "path", path, "error", err)
				return nil
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}

	loaded := 0
	err = m.do(func() {
		for _, snap := range snaps {
			if snap.Path == "" {
				continue
			}
			m.apply(snap)
			loaded++
		}
		m.updateActivity()
	})
	return loaded, err
}
