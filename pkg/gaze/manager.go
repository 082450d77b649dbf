package gaze

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the shared lifecycle and capture, and the sessions built on
// top of them.
type Manager struct {
	cfg Config
	lc  *Lifecycle
	cap *Capture
	env Environment
	cal ModelSource
	log *slog.Logger

	// OnStatus is called for every session status change. Set it before
	// the first Open.
	OnStatus func(s *Session, st Status, msg string)

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	s       *Session
	created time.Time
}

// NewManager wires a lifecycle and capture around load and devices. The
// camera stream is released only after the engine has ended, so quick
// consumer handoffs keep the camera open.
func NewManager(cfg Config, load Loader, devices MediaDevices, cam ConstraintSource, env Environment, cal ModelSource, log *slog.Logger) *Manager {
	lc := NewLifecycle(cfg, load, cam, log.With("component", "lifecycle"))
	capture := NewCapture(cfg, devices, cam, log.With("component", "capture"))
	lc.OnStop = capture.ReleaseStream

	m := &Manager{
		cfg:      cfg,
		lc:       lc,
		cap:      capture,
		env:      env,
		cal:      cal,
		log:      log,
		sessions: make(map[string]*entry),
	}
	lc.OnLost = m.engineLost
	return m
}

// Lifecycle returns the shared engine lifecycle.
func (m *Manager) Lifecycle() *Lifecycle {
	return m.lc
}

// Capture returns the shared capture manager.
func (m *Manager) Capture() *Capture {
	return m.cap
}

// Open creates an idle session. Call Enable on it to start tracking.
func (m *Manager) Open() *Session {
	id := uuid.NewString()
	s := NewSession(id, m.cfg, m.lc, m.cap, m.env, m.cal, m.log.With("component", "session"))
	s.OnStatus = m.onStatus

	m.mu.Lock()
	m.sessions[id] = &entry{s: s, created: time.Now()}
	m.mu.Unlock()
	return s
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.s, true
}

// Close disables and forgets a session. Returns false if it did not exist.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.s.Disable()
	return true
}

// List returns sessions in creation order.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})
	out := make([]*Session, len(entries))
	for i, e := range entries {
		out[i] = e.s
	}
	return out
}

// CloseAll disables and forgets every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range all {
		e.s.Disable()
	}
}

// Shutdown closes every session and ends the engine immediately.
func (m *Manager) Shutdown() {
	m.CloseAll()
	m.lc.Shutdown()
}

// ManagerStats is a point-in-time view for status endpoints.
type ManagerStats struct {
	Sessions  int            `json:"sessions"`
	Active    int            `json:"active"`
	Streaming bool           `json:"streaming"`
	Engine    LifecycleStats `json:"engine"`
}

// Stats summarises sessions and engine state.
func (m *Manager) Stats() ManagerStats {
	sessions := m.List()
	st := ManagerStats{
		Sessions:  len(sessions),
		Streaming: m.cap.Streaming(),
		Engine:    m.lc.Stats(),
	}
	for _, s := range sessions {
		if s.Status() == StatusActive {
			st.Active++
		}
	}
	return st
}

// engineLost fails every active session after the engine died for good.
func (m *Manager) engineLost(err error) {
	m.log.Warn("engine lost, failing active sessions", "error", err)
	for _, s := range m.List() {
		s.engineLost(err)
	}
}

func (m *Manager) onStatus(s *Session, st Status, msg string) {
	if st.Terminal() {
		m.log.Info("session status", "session", s.ID(), "status", st, "error", msg)
	}
	if cb := m.OnStatus; cb != nil {
		cb(s, st, msg)
	}
}
