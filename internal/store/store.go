// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

// Repository persists accounts and session snapshots.
type Repository interface {
	// Lookup returns the password hash for username or domain.ErrNotFound.
	Lookup(ctx context.Context, username string) (string, error)

	// Register inserts a new account. A taken username yields domain.ErrAlreadyExists.
	Register(ctx context.Context, username, passwordHash string) error

	// SeedAccount inserts account only when no account exists yet.
	SeedAccount(ctx context.Context, account domain.Account) error

	// GetSession retrieves a session snapshot. Missing sessions return nil, nil.
	GetSession(ctx context.Context, id string) (*domain.SessionSnapshot, error)

	// UpsertSession creates or replaces a session snapshot.
	UpsertSession(ctx context.Context, snap *domain.SessionSnapshot) error

	// DeleteSession removes a session snapshot.
	DeleteSession(ctx context.Context, id string) error

	// ExpiredSessions lists IDs of sessions not updated within ttl.
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
