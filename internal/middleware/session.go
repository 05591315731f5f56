package middleware

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/ashureev/curriculum-designer/internal/identity"
)

// RequireSession rejects API requests that carry no signed-in session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.SessionFromContext(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "sign in required",
				"code":  "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePage sends anonymous page requests to the login form, remembering
// where they were headed.
func RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.SessionFromContext(r.Context()) == nil {
			target := "/login"
			if r.Method == http.MethodGet && r.URL.Path != "/" {
				target += "?next=" + url.QueryEscape(r.URL.RequestURI())
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
