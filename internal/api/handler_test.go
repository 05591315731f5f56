package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/curriculum-designer/internal/assistant"
	"github.com/ashureev/curriculum-designer/internal/auth"
	"github.com/ashureev/curriculum-designer/internal/curriculum"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/generation"
	"github.com/ashureev/curriculum-designer/internal/identity"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "teacher"
	testPassword = "curriculum2025"
)

type fakeClient struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{}
	entered chan struct{}
	calls   int
}

func (f *fakeClient) Generate(ctx context.Context, _ generation.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	reply, err, block, entered := f.reply, f.err, f.block, f.entered
	f.entered = nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", &generation.ServiceError{Detail: "canceled", Err: ctx.Err()}
		}
	}
	return reply, err
}

func (f *fakeClient) set(reply string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply, f.err = reply, err
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps map[string]domain.SessionSnapshot
}

func (m *memSnapshots) GetSession(_ context.Context, id string) (*domain.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSnapshots) UpsertSession(_ context.Context, snap *domain.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = *snap
	return nil
}

func (m *memSnapshots) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memSnapshots) ExpiredSessions(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}

type testEnv struct {
	srv      *httptest.Server
	client   *http.Client
	gen      *fakeClient
	sessions *session.Manager
	conns    *ConnRegistry
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()

	gen := &fakeClient{reply: "Here is a plan."}
	mgr := session.NewManager(&memSnapshots{snaps: make(map[string]domain.SessionSnapshot)}, "gemini-2.5-flash")
	svc := assistant.New(gen, mgr, assistant.Options{
		NotesModel: "gemini-2.5-flash",
		Models:     []string{"gemini-2.5-flash", "gemini-2.5-pro"},
	})
	h := NewHandler(Options{
		Auth:      auth.NewSingle(testUser, testPassword),
		Sessions:  mgr,
		Assistant: svc,
		Limiter:   NewRateLimiter(limit, time.Minute),
		Models:    []string{"gemini-2.5-flash", "gemini-2.5-pro"},
		IsDev:     true,
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(mgr, true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, gen: gen, sessions: mgr, conns: h.Conns()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/login", map[string]string{"username": testUser, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "bar", got["foo"])
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
		{"registration disabled", auth.ErrRegistrationDisabled, http.StatusForbidden, CodeValidation},
		{"mismatch", &auth.ValidationError{Kind: auth.Mismatch}, http.StatusBadRequest, CodeValidation},
		{"form field", &assistant.InputError{Field: "skill", Reason: "is required"}, http.StatusBadRequest, CodeValidation},
		{"busy", session.ErrBusy, http.StatusConflict, CodeBusy},
		{"quota", &generation.QuotaError{Message: "limit"}, http.StatusTooManyRequests, CodeQuotaExceeded},
		{"wrapped quota", fmt.Errorf("chat: %w", generation.ErrQuotaExceeded), http.StatusTooManyRequests, CodeQuotaExceeded},
		{"malformed", &curriculum.MalformedOutputError{Detail: "not json"}, http.StatusBadGateway, CodeMalformedOutput},
		{"timeout", &generation.ServiceError{Detail: "timeout", Err: generation.ErrTimeout}, http.StatusGatewayTimeout, CodeServiceError},
		{"service", &generation.ServiceError{Detail: "boom", StatusCode: 500}, http.StatusBadGateway, CodeServiceError},
		{"no curriculum", render.ErrNoCurriculum, http.StatusNotFound, CodeNotFound},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Classify(tc.err)
			assert.Equal(t, tc.status, p.Status)
			assert.Equal(t, tc.code, p.Code)
			assert.NotEmpty(t, p.Message)
			if tc.code == CodeQuotaExceeded {
				assert.Equal(t, QuotaHint, p.Hint)
			}
		})
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	resp := env.do(t, http.MethodPost, "/api/login", map[string]string{"username": testUser, "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	p := decode[Problem](t, resp)
	assert.Equal(t, CodeInvalidCredentials, p.Code)
	assert.Equal(t, 0, env.sessions.Count())

	resp = env.do(t, http.MethodPost, "/api/login", map[string]string{"username": "ghost", "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeInvalidCredentials, decode[Problem](t, resp).Code)
}

func TestRegisterDisabledInSingleMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	resp := env.do(t, http.MethodPost, "/api/register", map[string]string{"username": "bob", "password": "a", "confirm": "a"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIRequiresSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	resp := env.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeUnauthorized, decode[Problem](t, resp).Code)
}

func TestLoginReturnsFreshState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[stateResponse](t, resp)

	assert.Equal(t, testUser, state.Username)
	assert.Equal(t, "gemini-2.5-flash", state.Model)
	require.Len(t, state.Turns, 1)
	assert.Equal(t, domain.SpeakerAssistant, state.Turns[0].Role)
	assert.Nil(t, state.Curriculum)
}

func TestChatAppendsBothTurns(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "Grade 9 biology, 10 weeks"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[turnResponse](t, resp)
	assert.Equal(t, "Here is a plan.", got.Turn.Text)

	state := decode[stateResponse](t, env.do(t, http.MethodGet, "/api/session", nil))
	require.Len(t, state.Turns, 3)
	assert.Equal(t, "Grade 9 biology, 10 weeks", state.Turns[1].Text)
}

func TestChatQuotaKeepsOnlyUserTurn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)
	env.gen.set("", &generation.QuotaError{Message: "RESOURCE_EXHAUSTED"})

	resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "History unit"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	p := decode[Problem](t, resp)
	assert.Equal(t, CodeQuotaExceeded, p.Code)
	assert.Equal(t, QuotaHint, p.Hint)

	state := decode[stateResponse](t, env.do(t, http.MethodGet, "/api/session", nil))
	require.Len(t, state.Turns, 2)
	assert.Equal(t, domain.SpeakerUser, state.Turns[1].Role)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.gen.calls)
}

func TestChatWhileBusyConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	env.gen.mu.Lock()
	env.gen.block, env.gen.entered = release, entered
	env.gen.mu.Unlock()

	done := make(chan int, 1)
	go func() {
		resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "first"})
		done <- resp.StatusCode
	}()
	<-entered

	resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeBusy, decode[Problem](t, resp).Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestGenerateMalformedKeepsPreviousCurriculum(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	form := map[string]any{"skill": "Robotics", "level": "Beginner", "semesters": 2, "weekly_hours": 20}
	env.gen.set("Sure, here's your plan: semester one covers...", nil)

	resp := env.do(t, http.MethodPost, "/api/generate", form)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, CodeMalformedOutput, decode[Problem](t, resp).Code)

	resp = env.do(t, http.MethodGet, "/api/exports/curriculum.json", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateValidatesForm(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodPost, "/api/generate", map[string]any{"skill": "Robotics", "level": "Beginner", "semesters": 9, "weekly_hours": 20})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	p := decode[Problem](t, resp)
	assert.Equal(t, CodeValidation, p.Code)
	assert.Contains(t, p.Message, "semesters")
	assert.Equal(t, 0, env.gen.calls)
}

func TestGenerateThenExport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	env.gen.set("```json\n"+`{"program_title":"Robotics","semesters":[{"semester":1,"courses":[{"course_name":"Intro","credits":3,"topics":["Motors"],"learning_outcomes":[]}]}]}`+"\n```", nil)
	resp := env.do(t, http.MethodPost, "/api/generate", map[string]any{"skill": "Robotics", "level": "Beginner", "semesters": 1, "weekly_hours": 20})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[curriculumResponse](t, resp)
	assert.Equal(t, "Robotics", got.View.Title)

	resp = env.do(t, http.MethodGet, "/api/exports/curriculum.pdf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="curriculum.pdf"`, resp.Header.Get("Content-Disposition"))

	resp = env.do(t, http.MethodGet, "/api/exports/curriculum.json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var back map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&back))
	assert.Equal(t, "Robotics", back["program_title"])

	resp = env.do(t, http.MethodGet, "/api/exports/slides.ppt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotebookEditAndExpand(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodPut, "/api/notebook", map[string]string{"content": "# Mine"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.gen.set("- point one", nil)
	resp = env.do(t, http.MethodPost, "/api/notebook/expand", map[string]string{"topic": "Photosynthesis"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Mine\n\n## Photosynthesis\n- point one", decode[notebookResponse](t, resp).Content)

	resp = env.do(t, http.MethodGet, "/api/exports/notes.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestSetModelRejectsUnknown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	resp := env.do(t, http.MethodPut, "/api/model", map[string]string{"model": "gpt-4"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/model", map[string]string{"model": "gemini-2.5-pro"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gemini-2.5-pro", decode[stateResponse](t, env.do(t, http.MethodGet, "/api/session", nil)).Model)
}

func TestResetClearsConversation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)

	env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hello"})
	resp := env.do(t, http.MethodPost, "/api/conversation/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[stateResponse](t, resp)
	assert.Len(t, state.Turns, 1)
}

func TestLogoutDestroysSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.login(t)
	require.Equal(t, 1, env.sessions.Count())

	resp := env.do(t, http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.sessions.Count())

	resp = env.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGenerationEndpointsAreRateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 2)
	env.login(t)

	for _, msg := range []string{"one", "two"} {
		resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": msg})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "three"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, CodeRateLimited, decode[Problem](t, resp).Code)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
