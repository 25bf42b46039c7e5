package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackmichael/bluesky-replay/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id         TEXT    NOT NULL,
		did            TEXT    NOT NULL,
		session_number INTEGER NOT NULL,
		start_ts       INTEGER NOT NULL,
		end_ts         INTEGER NOT NULL,
		impressions    TEXT    NOT NULL,
		actions        TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sessions_did ON sessions (did, session_number);`

// Repository implements domain.SessionSink and domain.SessionReader using a
// SQLite database file. Every row is tagged with the id of the run that
// wrote it.
type Repository struct {
	db    *sql.DB
	runID string
}

var (
	_ domain.SessionSink   = (*Repository)(nil)
	_ domain.SessionReader = (*Repository)(nil)
)

// NewRepository opens the SQLite database at path, creating the schema if
// needed, and returns a new Repository. The caller should call Close when the
// repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The replay is single-threaded; one connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Repository{db: db, runID: uuid.NewString()}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// RunID returns the id stamped on sessions written by this repository.
func (r *Repository) RunID() string {
	return r.runID
}

// Reset deletes every stored session.
func (r *Repository) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// Append inserts a closed session.
func (r *Repository) Append(ctx context.Context, session *domain.Session) error {
	impressions, err := json.Marshal(session.Impressions)
	if err != nil {
		return fmt.Errorf("marshal impressions: %w", err)
	}
	actions, err := json.Marshal(session.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (run_id, did, session_number, start_ts, end_ts, impressions, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID,
		session.DID,
		session.SessionNumber,
		session.StartTS,
		session.EndTS,
		string(impressions),
		string(actions),
	)
	if err != nil {
		return fmt.Errorf("insert session (did=%s, n=%d): %w", session.DID, session.SessionNumber, err)
	}
	return nil
}

// ReadSessions returns every stored session in insertion order.
func (r *Repository) ReadSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT did, session_number, start_ts, end_ts, impressions, actions
		FROM sessions
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			s                    domain.Session
			impressions, actions string
		)
		err := rows.Scan(
			&s.DID,
			&s.SessionNumber,
			&s.StartTS,
			&s.EndTS,
			&impressions,
			&actions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(impressions), &s.Impressions); err != nil {
			return nil, fmt.Errorf("unmarshal impressions: %w", err)
		}
		if err := json.Unmarshal([]byte(actions), &s.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// CountSessions returns the number of sessions written by runID.
func (r *Repository) CountSessions(ctx context.Context, runID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE run_id = ?`, runID,
	).Scan(&n)
	return n, err
}
