// Package auth verifies credentials and registers new accounts.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrRegistrationDisabled is returned by Register in single-account mode.
	ErrRegistrationDisabled = errors.New("registration is disabled")
)

// ValidationKind names why a registration was rejected.
type ValidationKind string

const (
	EmptyField    ValidationKind = "empty_field"
	Mismatch      ValidationKind = "mismatch"
	UsernameTaken ValidationKind = "username_taken"
)

// ValidationError is returned by Register for user-correctable input problems.
type ValidationError struct {
	Kind ValidationKind
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case EmptyField:
		return "username and password are required"
	case Mismatch:
		return "passwords do not match"
	case UsernameTaken:
		return "username already exists"
	default:
		return "invalid registration: " + string(e.Kind)
	}
}

// Store is the credential registry the authenticator reads and writes.
type Store interface {
	Lookup(ctx context.Context, username string) (string, error)
	Register(ctx context.Context, username, passwordHash string) error
}

// HashPassword returns the lowercase hex SHA-256 digest of password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticator gates access to every other component.
type Authenticator struct {
	store       Store
	allowSignup bool
}

// NewMulti returns an authenticator backed by a credential registry that
// accepts registrations.
func NewMulti(store Store) *Authenticator {
	return &Authenticator{store: store, allowSignup: true}
}

// NewSingle returns an authenticator that accepts exactly one fixed account.
func NewSingle(username, password string) *Authenticator {
	return &Authenticator{store: &singleAccount{username: username, hash: HashPassword(password)}}
}

// RegistrationEnabled reports whether Register can succeed.
func (a *Authenticator) RegistrationEnabled() bool {
	return a.allowSignup
}

// Authenticate checks username and password and returns the canonical username.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	stored, err := a.store.Lookup(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("lookup %q: %w", username, err)
	}

	got := HashPassword(password)
	if subtle.ConstantTimeCompare([]byte(got), []byte(stored)) != 1 {
		return "", ErrInvalidCredentials
	}
	return username, nil
}

// Register creates an account and returns its username.
func (a *Authenticator) Register(ctx context.Context, username, password, confirm string) (string, error) {
	if !a.allowSignup {
		return "", ErrRegistrationDisabled
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" || confirm == "" {
		return "", &ValidationError{Kind: EmptyField}
	}
	if password != confirm {
		return "", &ValidationError{Kind: Mismatch}
	}

	err := a.store.Register(ctx, username, HashPassword(password))
	if errors.Is(err, domain.ErrAlreadyExists) {
		return "", &ValidationError{Kind: UsernameTaken}
	}
	if err != nil {
		return "", fmt.Errorf("register %q: %w", username, err)
	}
	return username, nil
}

type singleAccount struct {
	username string
	hash     string
}

func (s *singleAccount) Lookup(_ context.Context, username string) (string, error) {
	if username != s.username {
		return "", domain.ErrNotFound
	}
	return s.hash, nil
}

func (s *singleAccount) Register(context.Context, string, string) error {
	return ErrRegistrationDisabled
}
