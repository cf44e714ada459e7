package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transflow/transflow/pkg/metrics"
)

// Manager owns the session registry and reaps sessions whose
// heartbeat has gone silent.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		sessions: make(map[string]*Session),
		logger:   deps.Logger.With(slog.String("component", "session_manager")),
	}
}

// Create registers a new session bound to the given sink and returns
// it. The caller owns delivering its id to the client.
func (m *Manager) Create(sink EventSink) *Session {
	s := newSession(uuid.NewString(), m.cfg, m.deps, sink)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("session_created",
		slog.String("session_id", s.ID()),
		slog.Int("active_sessions", n))
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove destroys the session and drops it from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Destroy()
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run reaps dead sessions until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.HeartbeatTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

func (m *Manager) reap(now time.Time) {
	m.mu.Lock()
	var dead []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastHeartbeat()) > m.cfg.HeartbeatTimeout {
			dead = append(dead, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range dead {
		m.logger.Warn("session_reaped",
			slog.String("session_id", s.ID()),
			slog.Time("last_heartbeat", s.LastHeartbeat()))
		m.deps.Observer.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventSessionReaped,
			Time:  now,
			Value: 1,
			Tags:  map[string]string{"session_id": s.ID()},
		})
		s.Destroy()
	}
}

// Drain destroys every session, for engine shutdown.
func (m *Manager) Drain() error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Destroy()
	}
	return nil
}
