// Package connectivity tracks whether the remote store is reachable and
// whether a client surface is visible, and fans changes out to subscribers.
package connectivity

import (
	"context"
	"sync"
	"time"

	"bioai-workspace-be/pkg/scheduler"
)

type EventKind string

const (
	EventOnline  EventKind = "online"
	EventOffline EventKind = "offline"
	EventVisible EventKind = "visible"
	EventHidden  EventKind = "hidden"
)

type Event struct {
	Kind EventKind
	At   time.Time
}

type Monitor struct {
	mu      sync.RWMutex
	online  bool
	visible bool
	subs    map[int]func(Event)
	nextID  int
	now     func() time.Time
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:  online,
		visible: true,
		subs:    make(map[int]func(Event)),
		now:     time.Now,
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible
}

// SetOnline records reachability. Subscribers only hear about transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	kind := EventOffline
	if online {
		kind = EventOnline
	}
	m.emit(kind)
}

func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	if m.visible == visible {
		m.mu.Unlock()
		return
	}
	m.visible = visible
	m.mu.Unlock()

	kind := EventHidden
	if visible {
		kind = EventVisible
	}
	m.emit(kind)
}

func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) emit(kind EventKind) {
	m.mu.RLock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	evt := Event{Kind: kind, At: m.now()}
	for _, fn := range subs {
		fn(evt)
	}
}

// ProbeFunc checks the remote store, e.g. a database ping.
type ProbeFunc func(ctx context.Context) error

// StartProber polls probe on the scheduler and feeds the result into m.
func StartProber(m *Monitor, sched *scheduler.Scheduler, interval, timeout time.Duration, probe ProbeFunc) scheduler.Cancel {
	check := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		m.SetOnline(probe(ctx) == nil)
	}
	return sched.Every(interval, check)
}
