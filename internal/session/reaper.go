package session

import (
	"context"
	"log/slog"
	"time"
)

// RunReaper periodically destroys sessions idle for longer than ttl. It
// blocks until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Session reaper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			m.Reap(ctx, ttl)
		case <-ctx.Done():
			slog.Info("Session reaper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Reap destroys expired sessions once and returns how many were removed.
// Sessions that are busy or were active in memory since their last save are
// kept.
func (m *Manager) Reap(ctx context.Context, ttl time.Duration) int {
	threshold := m.now().Add(-ttl)
	candidates := make(map[string]struct{})

	ids, err := m.repo.ExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("Session reaper failed to list expired sessions", "error", err)
	}
	for _, id := range ids {
		candidates[id] = struct{}{}
	}

	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastActive().Before(threshold) {
			candidates[id] = struct{}{}
		}
	}
	m.mu.RUnlock()

	cleaned := 0
	for id := range candidates {
		m.mu.RLock()
		s, cached := m.sessions[id]
		m.mu.RUnlock()
		if cached && (s.Busy() || !s.LastActive().Before(threshold)) {
			continue
		}

		if err := m.Destroy(ctx, id); err != nil {
			slog.Warn("Session reaper failed to delete session", "session_id", id, "error", err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		slog.Info("Session reaper cleanup completed", "cleaned", cleaned)
	}
	return cleaned
}
