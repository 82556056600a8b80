package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"image-compressor/internal/orchestrator"
	"image-compressor/internal/statistics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Factory builds the orchestrator backing a new session.
type Factory func() *orchestrator.Orchestrator

// Session is one browser tab's compression workspace.
type Session struct {
	ID           string
	Orchestrator *orchestrator.Orchestrator
	CreatedAt    time.Time

	mutex    sync.Mutex
	lastSeen time.Time
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastSeen = time.Now()
	s.mutex.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastSeen
}

// Manager keeps the live sessions and closes idle ones.
type Manager struct {
	factory Factory
	ttl     time.Duration
	logger  *logrus.Logger
	stats   *statistics.Statistics

	mutex    sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager. Sessions idle for longer than ttl
// are closed by Sweep.
func NewManager(factory Factory, ttl time.Duration, logger *logrus.Logger, stats *statistics.Statistics) *Manager {
	return &Manager{
		factory:  factory,
		ttl:      ttl,
		logger:   logger,
		stats:    stats,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Orchestrator: m.factory(),
		CreatedAt:    now,
		lastSeen:     now,
	}

	m.mutex.Lock()
	m.sessions[s.ID] = s
	m.mutex.Unlock()

	m.stats.IncrementSessionsCreated()
	m.logger.WithField("session", s.ID).Info("Session created")
	return s
}

// Get returns the session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.RLock()
	s, ok := m.sessions[id]
	m.mutex.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// Delete closes and forgets the session with id.
func (m *Manager) Delete(id string) error {
	m.mutex.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mutex.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Orchestrator.Close()
	m.logger.WithField("session", id).Info("Session closed")
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before now-ttl and returns how many.
func (m *Manager) Sweep(now time.Time) int {
	var expired []*Session

	m.mutex.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) > m.ttl {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mutex.Unlock()

	for _, s := range expired {
		s.Orchestrator.Close()
		m.stats.IncrementSessionsExpired()
		m.logger.WithField("session", s.ID).Info("Session expired")
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.logger.Debugf("Swept %d idle sessions", n)
			}
		}
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mutex.Unlock()

	for _, s := range sessions {
		s.Orchestrator.Close()
	}
}
