// Package middleware provides HTTP middleware for the Curriculum Designer server.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles cross-origin requests. Credentials are
// only allowed when every origin is explicit.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowCredentials := len(allowedOrigins) > 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCredentials = false
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})
}
