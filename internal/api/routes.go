package api

import (
	"net/http"

	"github.com/ashureev/curriculum-designer/internal/assistant"
	"github.com/ashureev/curriculum-designer/internal/auth"
	"github.com/ashureev/curriculum-designer/internal/identity"
	"github.com/ashureev/curriculum-designer/internal/middleware"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/go-chi/chi/v5"
)

// Options configures a Handler.
type Options struct {
	Auth      *auth.Authenticator
	Sessions  *session.Manager
	Assistant *assistant.Service
	Limiter   *RateLimiter
	Conns     *ConnRegistry
	Exporter  *render.Exporter
	// Models lists the selectable chat models.
	Models []string
	// AllowedOrigin is checked against the Origin of socket upgrades outside
	// development.
	AllowedOrigin string
	IsDev         bool
}

// Handler serves the JSON API and the chat socket.
type Handler struct {
	auth          *auth.Authenticator
	sessions      *session.Manager
	assistant     *assistant.Service
	limiter       *RateLimiter
	conns         *ConnRegistry
	exporter      *render.Exporter
	models        []string
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		auth:          opts.Auth,
		sessions:      opts.Sessions,
		assistant:     opts.Assistant,
		limiter:       opts.Limiter,
		conns:         opts.Conns,
		exporter:      opts.Exporter,
		models:        opts.Models,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
	}
	if h.conns == nil {
		h.conns = NewConnRegistry()
	}
	if h.exporter == nil {
		h.exporter = &render.Exporter{}
	}
	return h
}

// Conns returns the registry of open chat sockets.
func (h *Handler) Conns() *ConnRegistry {
	return h.conns
}

// RegisterRoutes mounts /api and /ws/chat on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	limited := func(next http.Handler) http.Handler { return next }
	if h.limiter != nil {
		limited = h.limiter.Middleware
	}

	r.Route("/api", func(r chi.Router) {
		r.With(limited).Post("/login", h.Login)
		r.With(limited).Post("/register", h.Register)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			r.Get("/session", h.State)
			r.Post("/conversation/reset", h.ResetConversation)
			r.Put("/model", h.SetModel)
			r.Get("/notebook", h.GetNotebook)
			r.Put("/notebook", h.PutNotebook)
			r.Get("/exports/{kind}", h.Export)

			r.Group(func(r chi.Router) {
				r.Use(limited)
				r.Post("/chat", h.Chat)
				r.Post("/generate", h.Generate)
				r.Post("/notebook/summarize", h.Summarize)
				r.Post("/notebook/expand", h.Expand)
			})
		})
	})

	r.With(middleware.RequireSession).Get("/ws/chat", h.ChatSocket)
}

func sessionFrom(r *http.Request) *session.Session {
	return identity.SessionFromContext(r.Context())
}
