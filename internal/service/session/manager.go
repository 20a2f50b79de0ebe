package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifeddx/steve/backend/internal/model/specialist"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoSpecialists   = errors.New("no specialists registered")
)

// Manager keeps the live browser sessions in memory. Sessions are not persisted.
type Manager struct {
	registry specialist.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager bootstraps an empty session table bound to the specialist registry.
func NewManager(registry specialist.Store) *Manager {
	return &Manager{
		registry: registry,
		sessions: make(map[string]*Session),
	}
}

// Registry returns the specialist registry sessions select from.
func (m *Manager) Registry() specialist.Store {
	return m.registry
}

// Create provisions an anonymous session bound to the default specialist.
func (m *Manager) Create(_ context.Context) (*Session, error) {
	initial := m.registry.Default()
	if initial.Name == "" {
		return nil, ErrNoSpecialists
	}

	sess := New(uuid.NewString(), initial)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get retrieves a session by identifier and marks it as recently used.
func (m *Manager) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	sess.touch(time.Now().UTC())
	return sess, nil
}

// Delete drops a session. Deleting an unknown id is a no-op.
func (m *Manager) Delete(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire removes sessions idle for longer than maxIdle and returns how many were dropped.
func (m *Manager) Expire(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sess := range m.sessions {
		if now.Sub(sess.idleSince()) > maxIdle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
