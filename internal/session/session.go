// Package session holds the per-login state of a signed-in user and manages
// its lifecycle.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/curriculum-designer/internal/conversation"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/notebook"
)

// ErrBusy is returned when an action is submitted while another is running.
var ErrBusy = errors.New("another action is still running for this session")

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
	// Hint is optional remediation advice shown under the message.
	Hint string
}

// Session bundles everything owned by one login.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time

	Conversation *conversation.State
	Notebook     *notebook.Document

	busy   atomic.Bool
	closed atomic.Bool

	mu         sync.Mutex
	model      string
	curriculum *domain.Curriculum
	lastActive time.Time
	flash      *Flash
}

func newSession(id, username, model string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Username:     username,
		CreatedAt:    now,
		Conversation: conversation.New(),
		Notebook:     notebook.New(),
		model:        model,
		lastActive:   now,
	}
}

func restore(snap *domain.SessionSnapshot) *Session {
	s := &Session{
		ID:           snap.ID,
		Username:     snap.Username,
		CreatedAt:    snap.CreatedAt,
		Conversation: conversation.Restore(snap.Turns),
		Notebook:     notebook.Restore(snap.Notebook),
		model:        snap.Model,
		curriculum:   snap.Curriculum,
		lastActive:   snap.UpdatedAt,
	}
	return s
}

// TryBegin marks the session busy. It returns false if an action is already running.
func (s *Session) TryBegin() bool {
	return s.busy.CompareAndSwap(false, true)
}

// End clears the busy mark set by TryBegin.
func (s *Session) End() {
	s.busy.Store(false)
}

// Busy reports whether an action is running.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Closed reports whether the session was destroyed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Model returns the selected generation model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel changes the selected generation model.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Curriculum returns the latest successfully parsed curriculum, or nil.
func (s *Session) Curriculum() *domain.Curriculum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curriculum
}

// SetCurriculum replaces the stored curriculum.
func (s *Session) SetCurriculum(c domain.Curriculum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curriculum = &c
}

// Touch records activity.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SetFlash stores a message for the next page render.
func (s *Session) SetFlash(f Flash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash = &f
}

// TakeFlash returns and clears the pending flash message.
func (s *Session) TakeFlash() *Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flash
	s.flash = nil
	return f
}

// Snapshot returns the persistable form of the session.
func (s *Session) Snapshot() *domain.SessionSnapshot {
	s.mu.Lock()
	model, cur, last := s.model, s.curriculum, s.lastActive
	s.mu.Unlock()

	return &domain.SessionSnapshot{
		ID:         s.ID,
		Username:   s.Username,
		Model:      model,
		Turns:      s.Conversation.Turns(),
		Notebook:   s.Notebook.Get(),
		Curriculum: cur,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  last,
	}
}
