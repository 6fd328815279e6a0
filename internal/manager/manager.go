// Package manager owns the session registry: live sessions driving agent
// processes and historical sessions recovered from transcripts. One
// goroutine mutates the registry; every other source (user actions, agent
// events, file notifications) posts work to it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/rpc"
	"github.com/soporteakasiapro1-art/pi-island/internal/session"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrAlreadyLive = errors.New("session is already live")
	ErrNoFile      = errors.New("session has no transcript file")
	ErrClosed      = errors.New("manager closed")
)

// DefaultParseWorkers bounds concurrent transcript parses.
const DefaultParseWorkers = 4

// Options configure the sessions a Manager launches.
type Options struct {
	Executable   rpc.Executable
	Provider     string
	Model        string
	Timeout      time.Duration // per-command wait bound
	ParseWorkers int
}

// Manager is the session registry.
type Manager struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	pool   *errgroup.Group
	bg     sync.WaitGroup

	qmu    sync.Mutex
	queue  []func()
	wake   chan struct{}
	quit   chan struct{}
	exited chan struct{}
	closed sync.Once

	subMu       sync.Mutex
	subscribers []*subscriber

	// Owned by the loop goroutine.
	sessions  map[string]*session.Session
	byPath    map[string]string // transcript path -> session id
	redirects map[string]string // resumed historical id -> live id
	selected  string
	activity  Activity
}

// New creates a manager and starts its loop.
func New(opts Options) *Manager {
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = DefaultParseWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := new(errgroup.Group)
	pool.SetLimit(opts.ParseWorkers)

	m := &Manager{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		pool:      pool,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
		sessions:  make(map[string]*session.Session),
		byPath:    make(map[string]string),
		redirects: make(map[string]string),
		activity:  ActivityIdle,
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.exited)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		m.qmu.Lock()
		q := m.queue
		m.queue = nil
		m.qmu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

// post queues fn for the loop without blocking. Safe to call from the loop
// itself and from session hooks.
func (m *Manager) post(fn func()) {
	m.qmu.Lock()
	m.queue = append(m.queue, fn)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// do runs fn on the loop and waits for it. Never call from the loop.
func (m *Manager) do(fn func()) error {
	select {
	case <-m.quit:
		return ErrClosed
	default:
	}
	done := make(chan struct{})
	m.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-m.quit:
		return ErrClosed
	}
}

// Close stops every live session and the loop. Subscriber channels are
// closed.
func (m *Manager) Close() error {
	var errs []error
	m.closed.Do(func() {
		// Let in-flight starts finish first so no agent launches after
		// the stop below.
		m.cancel()
		m.bg.Wait()

		var live []*session.Session
		_ = m.do(func() {
			for _, s := range m.sessions {
				if s.Live() {
					live = append(live, s)
				}
			}
		})
		for _, s := range live {
			if err := s.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", s.ID(), err))
			}
		}
		m.bg.Wait()
		_ = m.pool.Wait()
		close(m.quit)
		<-m.exited
		m.closeSubscribers()
	})
	return errors.Join(errs...)
}

func (m *Manager) sessionOptions(seed *transcript.Snapshot) session.Options {
	return session.Options{
		Executable: m.opts.Executable,
		Provider:   m.opts.Provider,
		Model:      m.opts.Model,
		Timeout:    m.opts.Timeout,
		Seed:       seed,
		Hooks: session.Hooks{
			OnChange: func(id string) {
				m.post(func() { m.sessionChanged(id) })
			},
			OnComplete: func(id string) {
				m.post(func() {
					if _, ok := m.sessions[id]; ok {
						m.publish(Event{Kind: EventCompleted, SessionID: id, Live: true})
					}
				})
			},
			OnFileChanged: func(id, path string) {
				m.post(func() { m.fileChanged(id, path) })
			},
		},
	}
}

// startAsync runs start in the background and reconciles afterwards. The
// session records its own failure.
func (m *Manager) startAsync(s *session.Session, start func(context.Context) error) {
	if m.ctx.Err() != nil {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		switch err := start(m.ctx); {
		case errors.Is(err, session.ErrStopped):
			islandlog.Log.Debug("manager: session removed while starting", "session", s.ID())
		case err != nil:
			islandlog.Log.Warn("manager: session start failed", "session", s.ID(), "error", err)
		}
		m.post(func() {
			m.sweep()
			m.updateActivity()
		})
	}()
}

// Create starts a new live session in cwd and returns its id. The first
// session is selected automatically.
func (m *Manager) Create(cwd string) (string, error) {
	id := uuid.NewString()
	s := session.NewLive(id, cwd, m.sessionOptions(nil))

	err := m.do(func() {
		m.sessions[id] = s
		if m.selected == "" {
			m.selected = id
		}
		m.publish(Event{Kind: EventAdded, SessionID: id, Live: true})
		m.updateGauges()
	})
	if err != nil {
		return "", err
	}

	islandlog.Log.Info("manager: session created", "session", id, "cwd", cwd)
	m.startAsync(s, s.Start)
	return id, nil
}

func (m *Manager) lookup(id string) (*session.Session, error) {
	var s *session.Session
	if err := m.do(func() { s = m.sessions[m.resolve(id)] }); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// resolve follows resume redirects. Loop only.
func (m *Manager) resolve(id string) string {
	if _, ok := m.sessions[id]; ok {
		return id
	}
	if to, ok := m.redirects[id]; ok {
		return to
	}
	return id
}

// Remove stops a session's agent, if any, and drops it from the registry.
// A live session's transcript stays on disk and is parsed back in as a
// historical session, so it can be resumed later.
func (m *Manager) Remove(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		islandlog.Log.Warn("manager: stop failed", "session", s.ID(), "error", err)
	}
	return m.do(func() {
		m.drop(s.ID())
		if path := s.File(); s.Live() && path != "" {
			m.parse(path)
		}
	})
}

// Delete stops the session, deletes its transcript, and only then drops it.
// If the file cannot be deleted the session stays registered and the error
// is returned.
func (m *Manager) Delete(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		islandlog.Log.Warn("manager: stop failed", "session", s.ID(), "error", err)
	}
	if path := s.File(); path != "" {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("delete transcript: %w", err)
		}
	}
	return m.do(func() { m.drop(s.ID()) })
}

// drop removes id from the registry and fixes up selection. Loop only.
func (m *Manager) drop(id string) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	for path, owner := range m.byPath {
		if owner == id {
			delete(m.byPath, path)
		}
	}
	for from, to := range m.redirects {
		if to == id || from == id {
			delete(m.redirects, from)
		}
	}
	if m.selected == id {
		m.selected = m.mostRecentLive()
	}
	m.publish(Event{Kind: EventRemoved, SessionID: id, Live: s.Live()})
	m.updateGauges()
	m.updateActivity()
}

func (m *Manager) mostRecentLive() string {
	var (
		best   string
		bestAt time.Time
	)
	for id, s := range m.sessions {
		if !s.Live() {
			continue
		}
		if at := s.LastActivity(); best == "" || at.After(bestAt) {
			best, bestAt = id, at
		}
	}
	return best
}

// liveForCwd returns a healthy live session in cwd. Loop only.
func (m *Manager) liveForCwd(cwd string) *session.Session {
	for _, s := range m.sessions {
		if s.Live() && s.Cwd() == cwd && s.Phase().Healthy() {
			return s
		}
	}
	return nil
}

// Resume promotes a historical session to live and returns the live id.
// The new session shows the parsed messages at once; the agent is started
// and bound to the transcript in the background. If a healthy live session
// already runs in the same directory, its id is returned instead. A live
// session whose agent failed or exited is relaunched the same way under a
// new id.
func (m *Manager) Resume(id string) (string, error) {
	var (
		liveID  string
		path    string
		start   *session.Session
		retired *session.Session
		err     error
	)
	if doErr := m.do(func() {
		target := id
		if to, ok := m.redirects[id]; ok {
			if cur, live := m.sessions[to]; live {
				if !cur.Terminated() {
					liveID = to
					return
				}
				target = to
			}
		}
		s, ok := m.sessions[target]
		switch {
		case !ok:
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
			return
		case s.Live() && !s.Terminated():
			err = fmt.Errorf("%w: %s", ErrAlreadyLive, id)
			return
		case s.File() == "":
			err = fmt.Errorf("%w: %s", ErrNoFile, id)
			return
		}
		if existing := m.liveForCwd(s.Cwd()); existing != nil {
			liveID = existing.ID()
			return
		}

		snap := s.Snapshot()
		path = snap.File
		seed := transcript.Snapshot{
			ID:            snap.ID,
			Path:          snap.File,
			Cwd:           snap.Cwd,
			Messages:      snap.Messages,
			Model:         snap.Model,
			ThinkingLevel: snap.ThinkingLevel,
			LastActivity:  snap.LastActivity,
			ModTime:       snap.FileModTime,
		}
		liveID = uuid.NewString()
		start = session.NewLive(liveID, snap.Cwd, m.sessionOptions(&seed))
		if s.Live() {
			retired = s
		}

		var aliases []string
		for from, to := range m.redirects {
			if to == target {
				aliases = append(aliases, from)
			}
		}
		wasSelected := m.selected == target
		m.drop(target)
		m.sessions[liveID] = start
		m.byPath[path] = liveID
		m.redirects[target] = liveID
		for _, from := range aliases {
			m.redirects[from] = liveID
		}
		if wasSelected || m.selected == "" {
			m.selected = liveID
		}
		m.publish(Event{Kind: EventAdded, SessionID: liveID, Live: true})
		m.publish(Event{Kind: EventResumed, SessionID: liveID, OldID: target, Live: true})
		m.updateGauges()
	}); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}

	if retired != nil {
		if err := retired.Stop(); err != nil {
			islandlog.Log.Warn("manager: stop failed", "session", retired.ID(), "error", err)
		}
	}

	if start != nil {
		islandlog.Log.Info("manager: resuming session", "from", id, "to", liveID, "path", path)
		m.startAsync(start, func(ctx context.Context) error {
			return start.StartResumed(ctx, path)
		})
	}
	return liveID, nil
}

// sessionChanged republishes a session update and refreshes the aggregate.
func (m *Manager) sessionChanged(id string) {
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	m.publish(Event{Kind: EventUpdated, SessionID: id, Live: s.Live()})
	m.updateActivity()
}

// fileChanged indexes a live session's transcript path. A transcript the
// session moved away from is no longer owned and is parsed back in as a
// historical session.
func (m *Manager) fileChanged(id, path string) {
	if _, ok := m.sessions[id]; !ok {
		return
	}
	var released []string
	for p, owner := range m.byPath {
		if owner == id && p != path {
			delete(m.byPath, p)
			released = append(released, p)
		}
	}
	m.byPath[path] = id
	if len(released) > 0 {
		for from, to := range m.redirects {
			if to == id {
				delete(m.redirects, from)
			}
		}
		for _, p := range released {
			m.parse(p)
		}
	}
	m.sweep()
}

// sweep removes historical entries shadowed by a live session's file and
// terminated live sessions whose directory has a healthy live session. A
// session in the error phase whose agent still runs is kept. Loop only.
func (m *Manager) sweep() {
	liveFiles := make(map[string]string)
	healthy := make(map[string]bool)
	for id, s := range m.sessions {
		if !s.Live() {
			continue
		}
		if f := s.File(); f != "" {
			liveFiles[f] = id
		}
		if s.Phase().Healthy() {
			healthy[s.Cwd()] = true
		}
	}

	var stop []*session.Session
	for id, s := range m.sessions {
		if !s.Live() {
			if f := s.File(); f != "" {
				if _, shadowed := liveFiles[f]; shadowed {
					islandlog.Log.Debug("manager: dropping historical duplicate", "session", id, "path", f)
					m.drop(id)
					duplicatesRemovedTotal.WithLabelValues("historical").Inc()
				}
			}
			continue
		}
		if s.Terminated() && healthy[s.Cwd()] {
			islandlog.Log.Debug("manager: dropping errored duplicate", "session", id, "cwd", s.Cwd())
			m.drop(id)
			stop = append(stop, s)
			duplicatesRemovedTotal.WithLabelValues("errored").Inc()
		}
	}
	for f, id := range liveFiles {
		if _, ok := m.sessions[id]; ok {
			m.byPath[f] = id
		}
	}

	if len(stop) > 0 {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			for _, s := range stop {
				_ = s.Stop()
			}
		}()
	}
}

func (m *Manager) updateActivity() {
	var phases []session.Phase
	for _, s := range m.sessions {
		if s.Live() {
			phases = append(phases, s.Phase())
		}
	}
	a := aggregate(phases)
	if a == m.activity {
		return
	}
	m.activity = a
	m.publish(Event{Kind: EventActivity, Activity: a})
}

func (m *Manager) updateGauges() {
	var live, hist int
	for _, s := range m.sessions {
		if s.Live() {
			live++
		} else {
			hist++
		}
	}
	liveSessions.Set(float64(live))
	historicalSessions.Set(float64(hist))
}

// Select marks id as the focused session.
func (m *Manager) Select(id string) error {
	var err error
	if doErr := m.do(func() {
		id = m.resolve(id)
		if _, ok := m.sessions[id]; !ok {
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
			return
		}
		m.selected = id
	}); doErr != nil {
		return doErr
	}
	return err
}

// Selected returns the focused session id, or "".
func (m *Manager) Selected() string {
	var id string
	_ = m.do(func() { id = m.selected })
	return id
}

// Activity returns the aggregate activity of live sessions.
func (m *Manager) Activity() Activity {
	a := ActivityIdle
	_ = m.do(func() { a = m.activity })
	return a
}

// Session returns the session for id, following resume redirects.
func (m *Manager) Session(id string) (*session.Session, error) {
	return m.lookup(id)
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (session.Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Live returns snapshots of live sessions, most recently active first.
func (m *Manager) Live() []session.Snapshot {
	return m.list(true)
}

// Historical returns snapshots of historical sessions, most recently
// active first.
func (m *Manager) Historical() []session.Snapshot {
	return m.list(false)
}

func (m *Manager) list(live bool) []session.Snapshot {
	var out []session.Snapshot
	_ = m.do(func() {
		for _, s := range m.sessions {
			if s.Live() == live {
				out = append(out, s.Snapshot())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// isNotExist reports whether err means the transcript is gone.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
