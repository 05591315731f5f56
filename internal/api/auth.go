package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/curriculum-designer/internal/identity"
)

// Login verifies credentials, replaces any current session with a fresh one
// and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	username, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		slog.Info("Login rejected", "ip", identity.IPFromRequest(r))
		writeActionError(w, r, err)
		return
	}
	h.startSession(w, r, username)
}

// Register creates an account and signs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	username, err := h.auth.Register(r.Context(), req.Username, req.Password, req.Confirm)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	slog.Info("Account registered", "user", username)
	h.startSession(w, r, username)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, username string) {
	if prev := sessionFrom(r); prev != nil {
		h.endSession(r.Context(), prev.Username, prev.ID)
	}

	sess, err := h.sessions.Create(r.Context(), username)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	identity.SetSessionCookie(w, sess.ID, h.isDev)
	JSON(w, http.StatusOK, h.state(sess))
}

// Logout destroys the current session. Accounts are untouched.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFrom(r); sess != nil {
		h.endSession(r.Context(), sess.Username, sess.ID)
	}
	identity.ClearSessionCookie(w, h.isDev)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) endSession(ctx context.Context, username, id string) {
	h.conns.CloseSession(username, id)
	if err := h.sessions.Destroy(ctx, id); err != nil {
		slog.Error("Failed to destroy session", "user", username, "session_id", id, "error", err)
		return
	}
	slog.Info("Session ended", "user", username, "session_id", id)
}
