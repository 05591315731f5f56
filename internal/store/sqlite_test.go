package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountsRegisterAndLookup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Lookup(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Lookup(unknown) error = %v, want ErrNotFound", err)
	}
	if err := s.Register(ctx, "alice", "h1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Register(ctx, "alice", "h2"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate Register() error = %v, want ErrAlreadyExists", err)
	}

	hash, err := s.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if hash != "h1" {
		t.Errorf("Lookup() = %q, want %q", hash, "h1")
	}
}

func TestSeedAccountOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedAccount(ctx, domain.Account{Username: "teacher", PasswordHash: "seed"}); err != nil {
		t.Fatalf("SeedAccount() error = %v", err)
	}
	if err := s.SeedAccount(ctx, domain.Account{Username: "someone", PasswordHash: "other"}); err != nil {
		t.Fatalf("second SeedAccount() error = %v", err)
	}

	hash, err := s.Lookup(ctx, "teacher")
	if err != nil {
		t.Fatalf("Lookup(teacher) error = %v", err)
	}
	if hash != "seed" {
		t.Errorf("Lookup(teacher) = %q, want %q", hash, "seed")
	}
	if _, err := s.Lookup(ctx, "someone"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Lookup(someone) error = %v, want ErrNotFound", err)
	}
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetSession(missing) = %v, %v; want nil, nil", missing, err)
	}

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	snap := &domain.SessionSnapshot{
		ID:       "sess-1",
		Username: "alice",
		Model:    "gemini-2.5-flash",
		Turns:    []domain.Turn{domain.AssistantTurn("hi"), domain.UserTurn("math")},
		Notebook: "# notes",
		Curriculum: &domain.Curriculum{
			ProgramTitle: "Math",
			Semesters: []domain.Semester{{Semester: 1, Courses: []domain.Course{{
				CourseName: "Algebra", Credits: domain.TextCredits("4 ECTS"),
				Topics: []string{"Groups"}, LearningOutcomes: []string{},
			}}}},
		},
		CreatedAt: created,
	}
	if err := s.UpsertSession(ctx, snap); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession() = %v, %v", got, err)
	}
	if !reflect.DeepEqual(got.Turns, snap.Turns) {
		t.Errorf("Turns = %+v, want %+v", got.Turns, snap.Turns)
	}
	if !reflect.DeepEqual(got.Curriculum, snap.Curriculum) {
		t.Errorf("Curriculum = %+v, want %+v", got.Curriculum, snap.Curriculum)
	}
	if got.Notebook != "# notes" {
		t.Errorf("Notebook = %q", got.Notebook)
	}
	if got.CreatedAt.Unix() != created.Unix() {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	snap.Curriculum = nil
	snap.Turns = nil
	snap.Model = "gemini-1.5-pro"
	if err := s.UpsertSession(ctx, snap); err != nil {
		t.Fatalf("second UpsertSession() error = %v", err)
	}

	got, err = s.GetSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession() after update = %v, %v", got, err)
	}
	if got.Curriculum != nil || len(got.Turns) != 0 {
		t.Errorf("update kept old state: curriculum=%v turns=%d", got.Curriculum, len(got.Turns))
	}
	if got.Model != "gemini-1.5-pro" {
		t.Errorf("Model = %q, want gemini-1.5-pro", got.Model)
	}

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	got, err = s.GetSession(ctx, "sess-1")
	if err != nil || got != nil {
		t.Errorf("GetSession() after delete = %v, %v; want nil, nil", got, err)
	}
}

func TestExpiredSessions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	snaps := []*domain.SessionSnapshot{
		{ID: "old", Username: "a", Model: "m", CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "fresh", Username: "b", Model: "m", CreatedAt: now, UpdatedAt: now},
	}
	for _, snap := range snaps {
		if err := s.UpsertSession(ctx, snap); err != nil {
			t.Fatalf("UpsertSession(%s) error = %v", snap.ID, err)
		}
	}

	ids, err := s.ExpiredSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpiredSessions() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"old"}) {
		t.Errorf("ExpiredSessions() = %v, want [old]", ids)
	}
}
