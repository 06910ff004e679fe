package maxclient

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SessionStore keeps login state and the last chat sync between runs, so the
// bridge does not have to re-authenticate by SMS code on every start.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func OpenSession(workDir string, logger *slog.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create work dir %s: %w", workDir, err)
	}

	dbPath := filepath.Join(workDir, "session.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open session db: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SessionStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session db migration failed: %w", err)
	}
	return s, nil
}

func (s *SessionStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id        INTEGER PRIMARY KEY,
		type      TEXT NOT NULL,
		title     TEXT,
		owner     INTEGER,
		synced_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SessionStore) Close() error { return s.db.Close() }

func (s *SessionStore) get(key string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("session read failed", "key", key, "err", err)
		}
		return ""
	}
	return value
}

func (s *SessionStore) set(key, value string) {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		s.logger.Error("session write failed", "key", key, "err", err)
	}
}

// Token returns the persisted auth token, empty when the account has never
// logged in from this work dir.
func (s *SessionStore) Token() string { return s.get("auth_token") }

func (s *SessionStore) SetToken(token string) { s.set("auth_token", token) }

// DeviceID returns a stable random device identifier, generating and
// persisting one on first use.
func (s *SessionStore) DeviceID() string {
	if id := s.get("device_id"); id != "" {
		return id
	}
	buf := make([]byte, 16)
	rand.Read(buf)
	id := hex.EncodeToString(buf)
	s.set("device_id", id)
	return id
}

// SaveChats replaces the cached chat snapshot.
func (s *SessionStore) SaveChats(chats []Chat) {
	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("chat cache write failed", "err", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chats`); err != nil {
		s.logger.Error("chat cache clear failed", "err", err)
		return
	}
	now := time.Now()
	for _, c := range chats {
		_, err := tx.Exec(
			`INSERT INTO chats (id, type, title, owner, synced_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Type, c.Title, c.Owner, now,
		)
		if err != nil {
			s.logger.Error("chat cache insert failed", "chat_id", c.ID, "err", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("chat cache commit failed", "err", err)
	}
}

// CachedChats returns the snapshot from the last successful sync.
func (s *SessionStore) CachedChats() []Chat {
	rows, err := s.db.Query(`SELECT id, type, title, owner FROM chats ORDER BY id`)
	if err != nil {
		s.logger.Error("chat cache read failed", "err", err)
		return nil
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Type, &c.Title, &c.Owner); err != nil {
			s.logger.Error("chat cache scan failed", "err", err)
			return chats
		}
		chats = append(chats, c)
	}
	return chats
}
