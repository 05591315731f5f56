package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/google/uuid"
)

// SnapshotStore persists session snapshots.
type SnapshotStore interface {
	GetSession(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	UpsertSession(ctx context.Context, snap *domain.SessionSnapshot) error
	DeleteSession(ctx context.Context, id string) error
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)
}

// Manager creates, resolves and destroys sessions. Live sessions are cached
// in memory; every saved session is also written to the SnapshotStore so it
// survives a restart.
type Manager struct {
	repo         SnapshotStore
	defaultModel string
	now          func() time.Time

	// writeMu orders snapshot writes against Destroy so a destroyed
	// session is never written back.
	writeMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
	onCount  func(int)
}

// NewManager returns a manager that assigns defaultModel to new sessions.
func NewManager(repo SnapshotStore, defaultModel string) *Manager {
	return &Manager{
		repo:         repo,
		defaultModel: defaultModel,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
}

// OnCountChange registers a callback invoked with the number of cached sessions.
func (m *Manager) OnCountChange(fn func(int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCount = fn
}

// Create starts a fresh session for username.
func (m *Manager) Create(ctx context.Context, username string) (*Session, error) {
	s := newSession(uuid.NewString(), username, m.defaultModel, m.now())
	if err := m.repo.UpsertSession(ctx, s.Snapshot()); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.notifyLocked()
	m.mu.Unlock()

	slog.Info("Session created", "user", username, "session_id", s.ID)
	return s, nil
}

// Get resolves a session by ID, loading it from storage when it is not cached.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	snap, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if snap == nil {
		return nil, domain.ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	s = restore(snap)
	m.sessions[id] = s
	m.notifyLocked()
	return s, nil
}

// Save records activity and writes the session snapshot. Saving a destroyed
// session is a no-op.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if s.Closed() {
		slog.Debug("Skipping save of destroyed session", "session_id", s.ID)
		return nil
	}
	s.Touch(m.now())
	if err := m.repo.UpsertSession(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Destroy removes a session from memory and storage. Actions still holding
// the session keep running but can no longer persist it.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.closed.Store(true)
	}
	delete(m.sessions, id)
	m.notifyLocked()
	m.mu.Unlock()

	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

// Count returns the number of cached sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) notifyLocked() {
	if m.onCount != nil {
		m.onCount(len(m.sessions))
	}
}
