// Package journal records every executed editor command in SQLite so an
// editing session can be audited after the fact.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcomes stored in the journal.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal closed")

// Entry is one executed command.
type Entry struct {
	Seq       int64
	At        time.Time
	ModelID   string
	Version   uint64
	Command   string
	Params    string // JSON
	Outcome   string
	Error     string
	RequestID string
}

// Journal appends entries to a SQLite table.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	at         INTEGER NOT NULL,
	model_id   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	command    TEXT NOT NULL,
	params     JSON,
	outcome    TEXT NOT NULL,
	error      TEXT,
	request_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_commands_model ON commands(model_id, seq);
`

// Open opens (or creates) the journal at path. ":memory:" keeps it in
// memory for the lifetime of the process.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	insert, err := db.Prepare(`
		INSERT INTO commands (at, model_id, version, command, params, outcome, error, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &Journal{db: db, insert: insert}, nil
}

// Append stores e. A zero At is replaced with the current time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
	_, err := j.insert.ExecContext(ctx,
		e.At.UnixNano(), e.ModelID, int64(e.Version), e.Command,
		nullable(e.Params), e.Outcome, nullable(e.Error), nullable(e.RequestID),
	)
	if err != nil {
		return fmt.Errorf("append %s for %q: %w", e.Command, e.ModelID, err)
	}
	return nil
}

// List returns the entries of modelID in execution order. limit <= 0
// returns all of them; otherwise the latest limit entries.
func (j *Journal) List(ctx context.Context, modelID string, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	query := `
		SELECT seq, at, model_id, version, command, params, outcome, error, request_id
		FROM commands WHERE model_id = ? ORDER BY seq DESC`
	args := []any{modelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", modelID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			at, version           int64
			params, errMsg, reqID sql.NullString
		)
		if err := rows.Scan(&e.Seq, &at, &e.ModelID, &version, &e.Command, &params, &e.Outcome, &errMsg, &reqID); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at)
		e.Version = uint64(version)
		e.Params = params.String
		e.Error = errMsg.String
		e.RequestID = reqID.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Models returns the ids of every model with at least one entry.
func (j *Journal) Models(ctx context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT model_id FROM commands ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	_ = j.insert.Close()
	return j.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
