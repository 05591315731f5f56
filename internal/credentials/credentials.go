// Package credentials persists the username to password-hash registry.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

// FileStore keeps accounts in a single JSON object on disk, rewritten in
// full on every registration.
type FileStore struct {
	path string

	mu       sync.Mutex
	accounts map[string]string
}

// OpenFile loads the registry at path. When the file does not exist it is
// created holding seed. A corrupt or unreadable file is logged and treated as
// an empty registry.
func OpenFile(path string, seed domain.Account) (*FileStore, error) {
	s := &FileStore{path: path, accounts: map[string]string{}}

	accounts, err := readAccounts(path)
	switch {
	case err == nil:
		s.accounts = accounts
	case errors.Is(err, fs.ErrNotExist):
		if seed.Username != "" {
			s.accounts[seed.Username] = seed.PasswordHash
		}
		if err := writeAccounts(path, s.accounts); err != nil {
			return nil, fmt.Errorf("seed credentials file: %w", err)
		}
		slog.Info("Credentials file created with default account", "path", path, "user", seed.Username)
	default:
		slog.Error("Failed to load credentials, starting with an empty registry", "path", path, "error", err)
	}
	return s, nil
}

// Lookup returns the stored hash for username or domain.ErrNotFound.
func (s *FileStore) Lookup(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.accounts[username]
	if !ok {
		return "", domain.ErrNotFound
	}
	return hash, nil
}

// Register adds a new account and rewrites the file. The on-disk copy is
// re-read first so a registration made by another process is detected.
func (s *FileStore) Register(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return domain.ErrAlreadyExists
	}

	onDisk, err := readAccounts(s.path)
	switch {
	case err == nil:
		if _, ok := onDisk[username]; ok {
			s.accounts[username] = onDisk[username]
			return domain.ErrAlreadyExists
		}
		for u, h := range onDisk {
			if _, ok := s.accounts[u]; !ok {
				s.accounts[u] = h
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		slog.Warn("Failed to re-read credentials before write", "path", s.path, "error", err)
	}

	s.accounts[username] = passwordHash
	if err := writeAccounts(s.path, s.accounts); err != nil {
		delete(s.accounts, username)
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// Len returns the number of known accounts.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func readAccounts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	accounts := map[string]string{}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return accounts, nil
}

// writeAccounts writes the registry through a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func writeAccounts(path string, accounts map[string]string) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	cleanup = false
	return nil
}
