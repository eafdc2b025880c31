// Package statedb persists rollback sessions and small pieces of engine
// state in a SQLite database. One row per session; the state table holds
// single-value keys such as the active session pointer.
package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("statedb: not found")

// ActiveSessionKey is the state key holding the id of the in-flight
// session, if any. At most one session is active per repository.
const ActiveSessionKey = "active_session"

type DB struct {
	db   *sql.DB
	path string
}

type StateEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// SessionRecord is the persisted form of a rollback session. Timestamps
// are RFC3339 strings; EndedAt is empty while the session is in flight.
// Warnings and Errors are JSON-encoded string arrays, empty when none
// were recorded.
type SessionRecord struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
	Scope     string `json:"scope"`
	Trigger   string `json:"trigger"`
	Source    string `json:"source"`
	SourceRef string `json:"source_ref"`
	TargetRef string `json:"target_ref"`
	Reason    string `json:"reason"`
	BackupID  string `json:"backup_id"`
	Warnings  string `json:"warnings"`
	Errors    string `json:"errors"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

// Open creates or opens a SQLite database at path with WAL mode,
// busy timeout of 5 seconds, and foreign keys enabled. It creates
// the state and sessions tables if they do not already exist.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT 'DETECTED',
			severity   TEXT NOT NULL DEFAULT 'LOW',
			scope      TEXT NOT NULL DEFAULT 'application',
			trigger_by TEXT NOT NULL DEFAULT 'automated',
			source     TEXT NOT NULL DEFAULT '',
			source_ref TEXT NOT NULL DEFAULT '',
			target_ref TEXT NOT NULL DEFAULT '',
			reason     TEXT NOT NULL DEFAULT '',
			backup_id  TEXT NOT NULL DEFAULT '',
			warnings   TEXT NOT NULL DEFAULT '',
			errors     TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at   TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: create table: %w", err)
		}
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SetState upserts a key-value state entry. The updated_at timestamp
// is set to the current UTC time in RFC3339 format.
func (d *DB) SetState(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO state (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("statedb: set state: %w", err)
	}
	return nil
}

// GetState retrieves a state entry by key. Returns ErrNotFound if the
// key does not exist.
func (d *DB) GetState(key string) (StateEntry, error) {
	var e StateEntry
	err := d.db.QueryRow(
		`SELECT key, value, updated_at FROM state WHERE key = ?`, key,
	).Scan(&e.Key, &e.Value, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateEntry{}, ErrNotFound
		}
		return StateEntry{}, fmt.Errorf("statedb: get state: %w", err)
	}
	return e, nil
}

// DeleteState removes a state entry by key.
func (d *DB) DeleteState(key string) error {
	_, err := d.db.Exec(`DELETE FROM state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("statedb: delete state: %w", err)
	}
	return nil
}

// InsertSession inserts a new session record.
func (d *DB) InsertSession(rec SessionRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO sessions (id, status, severity, scope, trigger_by, source, source_ref, target_ref, reason, backup_id, warnings, errors, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, rec.Severity, rec.Scope, rec.Trigger, rec.Source,
		rec.SourceRef, rec.TargetRef, rec.Reason, rec.BackupID,
		rec.Warnings, rec.Errors, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("statedb: insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session record by ID. Returns ErrNotFound if
// the ID does not exist.
func (d *DB) GetSession(id string) (SessionRecord, error) {
	var r SessionRecord
	err := d.db.QueryRow(
		`SELECT id, status, severity, scope, trigger_by, source, source_ref, target_ref, reason, backup_id, warnings, errors, started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&r.ID, &r.Status, &r.Severity, &r.Scope, &r.Trigger, &r.Source,
		&r.SourceRef, &r.TargetRef, &r.Reason, &r.BackupID,
		&r.Warnings, &r.Errors, &r.StartedAt, &r.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("statedb: get session: %w", err)
	}
	return r, nil
}

// UpdateSession updates the mutable fields of a session record: status,
// severity, refs (the validator replaces the raw target with its resolved
// SHA), backup id, warnings, errors, and ended_at. The ended_at column is
// stamped when the new status is terminal.
func (d *DB) UpdateSession(rec SessionRecord) error {
	result, err := d.db.Exec(
		`UPDATE sessions SET status = ?, severity = ?, source_ref = ?, target_ref = ?, backup_id = ?, warnings = ?, errors = ?, ended_at = ? WHERE id = ?`,
		rec.Status, rec.Severity, rec.SourceRef, rec.TargetRef, rec.BackupID,
		rec.Warnings, rec.Errors, rec.EndedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("statedb: update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns the most recent session records ordered by id
// descending (session ids sort in creation order by construction).
// If limit is 0, all records are returned.
func (d *DB) ListSessions(limit int) ([]SessionRecord, error) {
	query := `SELECT id, status, severity, scope, trigger_by, source, source_ref, target_ref, reason, backup_id, warnings, errors, started_at, ended_at
	          FROM sessions ORDER BY id DESC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = d.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.Status, &r.Severity, &r.Scope, &r.Trigger, &r.Source,
			&r.SourceRef, &r.TargetRef, &r.Reason, &r.BackupID,
			&r.Warnings, &r.Errors, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows sessions: %w", err)
	}
	return records, nil
}

// ActiveSession returns the single non-terminal session, if one exists.
// Returns ErrNotFound when no session is in flight.
func (d *DB) ActiveSession() (SessionRecord, error) {
	entry, err := d.GetState(ActiveSessionKey)
	if err != nil {
		return SessionRecord{}, err
	}
	return d.GetSession(entry.Value)
}
