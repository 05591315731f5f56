// Package conversation holds the ordered turn log of a chat session.
package conversation

import (
	"errors"
	"strings"
	"sync"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

// ErrEmptyTurn is returned when a turn without text is appended.
var ErrEmptyTurn = errors.New("turn text is empty")

// State is an append-only, chronologically ordered log of turns.
// The zero value is an empty conversation ready for use.
type State struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

// New returns a conversation seeded with the assistant greeting.
func New() *State {
	s := &State{}
	s.Seed(domain.Greeting)
	return s
}

// Restore returns a conversation holding a copy of turns, used when a
// persisted session is loaded back into memory.
func Restore(turns []domain.Turn) *State {
	return &State{turns: append([]domain.Turn(nil), turns...)}
}

// Append adds a turn at the end of the log.
func (s *State) Append(turn domain.Turn) error {
	if strings.TrimSpace(turn.Text) == "" {
		return ErrEmptyTurn
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

// History returns the replay context for the next request: every turn except
// a trailing user turn, which is the message currently being answered.
func (s *State) History() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.turns)
	if n > 0 && s.turns[n-1].Role == domain.SpeakerUser {
		n--
	}
	out := make([]domain.Turn, n)
	copy(out, s.turns[:n])
	return out
}

// Turns returns a copy of every turn, including a pending user turn.
func (s *State) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Last returns the most recent turn, if any.
func (s *State) Last() (domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return domain.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Len returns the number of turns.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset clears the log. Calling it repeatedly is harmless.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Seed resets the log and appends a synthetic assistant greeting.
func (s *State) Seed(greeting string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = []domain.Turn{domain.AssistantTurn(greeting)}
}
