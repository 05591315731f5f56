package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/shared"
	_ "modernc.org/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		model TEXT NOT NULL,
		turns_json TEXT NOT NULL,
		notebook TEXT NOT NULL,
		curriculum_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lookup returns the password hash for username.
func (s *SQLiteStore) Lookup(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM accounts WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	return hash, nil
}

// Register inserts a new account.
func (s *SQLiteStore) Register(ctx context.Context, username, passwordHash string) error {
	err := shared.RetryOnConflict(ctx, "register", 3, 50*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (username, password_hash, created_at) VALUES (?, ?, ?)`,
			username, passwordHash, time.Now().Unix())
		return err
	})
	if shared.IsSQLiteUniqueError(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// SeedAccount inserts account when the accounts table is empty.
func (s *SQLiteStore) SeedAccount(ctx context.Context, account domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, password_hash, created_at)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM accounts)`,
		account.Username, account.PasswordHash, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	return nil
}

// GetSession retrieves a session snapshot by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	query := `
		SELECT session_id, username, model, turns_json, notebook,
		       curriculum_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	var snap domain.SessionSnapshot
	var turnsJSON string
	var curriculumJSON sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&snap.ID, &snap.Username, &snap.Model, &turnsJSON, &snap.Notebook,
		&curriculumJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(turnsJSON), &snap.Turns); err != nil {
		return nil, fmt.Errorf("decode session turns: %w", err)
	}
	if curriculumJSON.Valid && curriculumJSON.String != "" {
		var c domain.Curriculum
		if err := json.Unmarshal([]byte(curriculumJSON.String), &c); err != nil {
			return nil, fmt.Errorf("decode session curriculum: %w", err)
		}
		snap.Curriculum = &c
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)

	return &snap, nil
}

// UpsertSession creates or replaces a session snapshot.
func (s *SQLiteStore) UpsertSession(ctx context.Context, snap *domain.SessionSnapshot) error {
	turns := snap.Turns
	if turns == nil {
		turns = []domain.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode session turns: %w", err)
	}

	var curriculumJSON interface{}
	if snap.Curriculum != nil {
		b, err := json.Marshal(snap.Curriculum)
		if err != nil {
			return fmt.Errorf("encode session curriculum: %w", err)
		}
		curriculumJSON = string(b)
	}

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (
			session_id, username, model, turns_json, notebook,
			curriculum_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			model = excluded.model,
			turns_json = excluded.turns_json,
			notebook = excluded.notebook,
			curriculum_json = excluded.curriculum_json,
			updated_at = excluded.updated_at`

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	err = shared.RetryOnConflict(ctx, "upsert session", 3, 50*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.ID, snap.Username, snap.Model, string(turnsJSON), snap.Notebook,
			curriculumJSON, snap.CreatedAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session snapshot, retrying while the database is busy.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	err := shared.RetryOnConflict(ctx, "delete session", 3, 100*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ExpiredSessions lists sessions whose last update is older than ttl.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}
