package manager

import (
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/session"
)

// EventKind classifies registry notifications.
type EventKind string

const (
	EventAdded          EventKind = "added"
	EventUpdated        EventKind = "updated"
	EventRemoved        EventKind = "removed"
	EventCompleted      EventKind = "completed"
	EventExternalUpdate EventKind = "external_update"
	EventResumed        EventKind = "resumed"
	EventActivity       EventKind = "activity"
)

// Event is a registry notification. Resumed events carry the replaced id in
// OldID; activity events carry the new aggregate.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	OldID     string    `json:"old_id,omitempty"`
	Live      bool      `json:"live,omitempty"`
	Activity  Activity  `json:"activity,omitempty"`
	Time      time.Time `json:"time"`
}

// Activity is the aggregate state across live sessions.
type Activity string

const (
	ActivityIdle      Activity = "idle"
	ActivityWorking   Activity = "working"
	ActivityAttention Activity = "attention"
)

// aggregate folds live session phases: any working session wins, then any
// errored one.
func aggregate(phases []session.Phase) Activity {
	a := ActivityIdle
	for _, p := range phases {
		if p.Working() {
			return ActivityWorking
		}
		if p == session.PhaseError {
			a = ActivityAttention
		}
	}
	return a
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Subscribe returns a channel of registry events and an unsubscribe
// function. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	sub := &subscriber{ch: ch}

	m.subMu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subscribers {
			if s == sub {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				if !s.closed {
					s.closed = true
					close(s.ch)
				}
				break
			}
		}
	}
}

func (m *Manager) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			eventsDroppedTotal.Inc()
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	m.subscribers = nil
}
