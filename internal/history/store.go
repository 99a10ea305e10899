// Package history persists a transcript of IRC traffic in SQLite.
//
// The transcript is a pure observer: append failures never affect delivery or
// protocol behavior, and callers are expected to log and drop them. The
// database is bounded only by disk; operators who want rotation can delete
// the file while the daemon is stopped.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    network     TEXT NOT NULL,
    direction   TEXT NOT NULL,
    line        TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_network_id ON transcript(network, id);
`

// Entry is one recorded line of traffic.
type Entry struct {
	Network    string    `json:"network"`
	Direction  string    `json:"direction"`
	Line       string    `json:"line"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store manages transcript persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the transcript database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one line of traffic. Direction is "in" or "out".
func (s *Store) Append(ctx context.Context, network, direction, line string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transcript (network, direction, line, recorded_at) VALUES (?, ?, ?, ?)`,
		network,
		direction,
		line,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

// Tail returns the most recent limit entries for network, oldest first.
func (s *Store) Tail(ctx context.Context, network string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT network, direction, line, recorded_at
         FROM transcript WHERE network = ? ORDER BY id DESC LIMIT ?`,
		network,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Network, &e.Direction, &e.Line, &ts); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		parsed, parseErr := time.Parse(time.RFC3339Nano, ts)
		if parseErr != nil {
			return nil, fmt.Errorf("parse transcript timestamp %q: %w", ts, parseErr)
		}
		e.RecordedAt = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	// Rows arrive newest-first; present them oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
