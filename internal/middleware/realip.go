package middleware

import (
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RealIP rewrites RemoteAddr from proxy headers when trustProxy is set.
// Otherwise the headers are ignored so clients cannot pick their own
// rate-limit key.
func RealIP(trustProxy bool) func(http.Handler) http.Handler {
	if trustProxy {
		return chiMiddleware.RealIP
	}
	return func(next http.Handler) http.Handler { return next }
}
