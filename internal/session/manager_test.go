package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	snaps map[string]domain.SessionSnapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]domain.SessionSnapshot)}
}

func (m *memStore) GetSession(_ context.Context, id string) (*domain.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpsertSession(_ context.Context, snap *domain.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = *snap
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memStore) ExpiredSessions(_ context.Context, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.snaps {
		if time.Since(s.UpdatedAt) > ttl {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestCreateSeedsFreshState(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemStore(), "gemini-2.5-flash")
	s, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "gemini-2.5-flash", s.Model())
	assert.Equal(t, []domain.Turn{domain.AssistantTurn(domain.Greeting)}, s.Conversation.Turns())
	assert.Nil(t, s.Curriculum())
	assert.Equal(t, 1, m.Count())
}

func TestGetRestoresFromStore(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	first := NewManager(repo, "m1")
	s, err := first.Create(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, s.Conversation.Append(domain.UserTurn("Biology")))
	s.Notebook.Set("my notes")
	s.SetModel("m2")
	s.SetCurriculum(domain.Curriculum{ProgramTitle: "Bio"})
	require.NoError(t, first.Save(context.Background(), s))

	second := NewManager(repo, "m1")
	got, err := second.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "m2", got.Model())
	assert.Equal(t, "my notes", got.Notebook.Get())
	assert.Equal(t, s.Conversation.Turns(), got.Conversation.Turns())
	require.NotNil(t, got.Curriculum())
	assert.Equal(t, "Bio", got.Curriculum().ProgramTitle)

	again, err := second.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Same(t, got, again)
}

func TestGetUnknownSession(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemStore(), "m")
	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Get(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDestroyRemovesEverywhere(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	m := NewManager(repo, "m")
	var counts []int
	m.OnCountChange(func(n int) { counts = append(counts, n) })

	s, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, m.Destroy(context.Background(), s.ID))

	_, err = m.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []int{1, 0}, counts)
}

func TestBusyGuard(t *testing.T) {
	t.Parallel()

	s := newSession("id", "alice", "m", time.Now())
	require.True(t, s.TryBegin())
	assert.False(t, s.TryBegin())
	assert.True(t, s.Busy())
	s.End()
	assert.True(t, s.TryBegin())
}

func TestFlashIsOneShot(t *testing.T) {
	t.Parallel()

	s := newSession("id", "alice", "m", time.Now())
	assert.Nil(t, s.TakeFlash())
	s.SetFlash(Flash{Kind: "error", Message: "quota", Hint: "wait"})
	assert.Equal(t, &Flash{Kind: "error", Message: "quota", Hint: "wait"}, s.TakeFlash())
	assert.Nil(t, s.TakeFlash())
}

func TestReapRemovesIdleSessions(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	m := NewManager(repo, "m")
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base.Add(-48 * time.Hour) }
	idle, err := m.Create(ctx, "idle")
	require.NoError(t, err)
	busy, err := m.Create(ctx, "busy")
	require.NoError(t, err)
	require.True(t, busy.TryBegin())

	m.now = func() time.Time { return base }
	fresh, err := m.Create(ctx, "fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Reap(ctx, 24*time.Hour))

	_, err = m.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Get(ctx, busy.ID)
	assert.NoError(t, err)
	_, err = m.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestRunReaperStopsOnCancel(t *testing.T) {
	t.Parallel()

	m := NewManager(newMemStore(), "m")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunReaper(ctx, time.Hour, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestSaveAfterDestroyDoesNotRestore(t *testing.T) {
	t.Parallel()

	repo := newMemStore()
	m := NewManager(repo, "m")
	ctx := context.Background()

	s, err := m.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Conversation.Append(domain.UserTurn("Biology")))

	require.NoError(t, m.Destroy(ctx, s.ID))
	assert.True(t, s.Closed())
	require.NoError(t, m.Save(ctx, s))

	snap, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, snap)
	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
