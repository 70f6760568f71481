// Package session persists conversation state and history for the intake
// flow in SQLite or PostgreSQL.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ericksa/legaltriage/internal/triage"
)

var ErrInvalidID = errors.New("invalid session id")

// ValidID rejects empty ids and ids that could act as a path: separators,
// ".." segments and control characters.
func ValidID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

// Session is one conversation's collected fields and transcript.
type Session struct {
	ID        string                `json:"id"`
	State     triage.SessionState   `json:"state"`
	History   []triage.HistoryEntry `json:"history"`
	UpdatedAt time.Time             `json:"updated_at,omitempty"`
}

type Store struct {
	db       *sql.DB
	postgres bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

const upsertState = `INSERT INTO sessions (id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`

// Open opens or creates the store at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session tables: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenPostgres connects to the PostgreSQL database at url and creates the
// tables if needed.
func OpenPostgres(url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session tables: %w", err)
	}
	return &Store{db: db, postgres: true}, nil
}

// q rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) q(query string) string {
	if !s.postgres {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get loads a session. Unknown ids return an empty session, not an error.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if err := ValidID(id); err != nil {
		return nil, err
	}
	sess := &Session{ID: id, State: triage.SessionState{}, History: []triage.HistoryEntry{}}

	var state string
	var updated time.Time
	err := s.db.QueryRowContext(ctx, s.q("SELECT state, updated_at FROM sessions WHERE id = ?"), id).Scan(&state, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	default:
		if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
			return nil, fmt.Errorf("decode session %s state: %w", id, err)
		}
		sess.UpdatedAt = updated
	}

	rows, err := s.db.QueryContext(ctx, s.q("SELECT role, content FROM messages WHERE session_id = ? ORDER BY id"), id)
	if err != nil {
		return nil, fmt.Errorf("load session %s history: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var h triage.HistoryEntry
		if err := rows.Scan(&h.Role, &h.Content); err != nil {
			return nil, err
		}
		sess.History = append(sess.History, h)
	}
	return sess, rows.Err()
}

// SaveTurn records one conversational turn: it appends entries and replaces
// the stored fields in a single transaction, so neither lands without the other.
func (s *Store) SaveTurn(ctx context.Context, id string, state triage.SessionState, entries ...triage.HistoryEntry) error {
	if err := ValidID(id); err != nil {
		return err
	}
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)"), id, string(e.Role), e.Content); err != nil {
			return fmt.Errorf("append to session %s: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.q(upsertState), id, string(data)); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return tx.Commit()
}
