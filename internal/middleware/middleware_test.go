package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/curriculum-designer/internal/identity"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://school.example"})(ok)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://school.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://school.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardWithholdsCredentials(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"*"})(ok)
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequireSession(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RequireSession(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"sign in required","code":"unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req = req.WithContext(identity.WithSession(req.Context(), &session.Session{ID: "s"}))
	rec = httptest.NewRecorder()
	RequireSession(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequirePageRedirectsToLogin(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RequirePage(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export/curriculum.pdf", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fexport%2Fcurriculum.pdf", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	RequirePage(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRealIPIgnoresHeadersUnlessTrusted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trust bool
		want  string
	}{
		{name: "untrusted", trust: false, want: "192.0.2.10"},
		{name: "trusted proxy", trust: true, want: "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RealIP(tt.trust)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = identity.IPFromRequest(r)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
			req.RemoteAddr = "192.0.2.10:41234"
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client IP = %q, want %q", got, tt.want)
			}
		})
	}
}
