// Package identity binds requests to the signed-in user's session through a
// cookie.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/session"
)

const (
	SessionCookieName = "cd_session"
	sessionCookieTTL  = 24 * time.Hour
)

type contextKey int

const (
	sessionKey contextKey = iota
)

var sessionIDPattern = regexp.MustCompile(`^[a-f0-9-]{36}$`)

// Resolver looks up a session by ID.
type Resolver interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// SessionFromContext returns the session attached by Middleware, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	if v, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return v
	}
	return nil
}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SetSessionCookie issues the session cookie for id.
func SetSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieTTL.Seconds()),
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func sessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || !sessionIDPattern.MatchString(c.Value) {
		return ""
	}
	return c.Value
}

// Middleware resolves the session cookie and attaches the session to the
// request context. Requests without a valid session pass through anonymous;
// a cookie pointing at a session that no longer exists is cleared.
func Middleware(sessions Resolver, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionIDFromRequest(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := sessions.Get(r.Context(), id)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				ClearSessionCookie(w, isDev)
				next.ServeHTTP(w, r)
				return
			case err != nil:
				slog.Error("Failed to resolve session", "session_id", id, "error", err)
				http.Error(w, `{"error":"failed to load session"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing and rate
// limiting.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
