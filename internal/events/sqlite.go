package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite persists events into a local database, one row per event, stamped
// with a per-process session id so sessions can be analysed separately.
type SQLite struct {
	db        *sql.DB
	sessionID string
	now       func() time.Time
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			name TEXT NOT NULL,
			fields TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events schema: %w", err)
	}

	return &SQLite{
		db:        db,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}, nil
}

// SessionID returns the id stamped on this process's events.
func (s *SQLite) SessionID() string { return s.sessionID }

// Event inserts one row. Insert failures are logged and swallowed so the
// tick never stalls on storage.
func (s *SQLite) Event(name string, fields Fields) {
	payload, err := json.Marshal(fields)
	if err != nil {
		reportSinkError("sqlite", err)
		return
	}
	_, err = s.db.Exec(
		"INSERT INTO events (session_id, ts, name, fields) VALUES (?, ?, ?, ?)",
		s.sessionID, s.now().UnixNano(), name, string(payload),
	)
	if err != nil {
		reportSinkError("sqlite", err)
	}
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
