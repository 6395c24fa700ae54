// Package storage provides the SQLite persistence layer behind the
// content-addressed store and the terminal-task archive.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs schema
// migrations. Pass ":memory:" for an in-memory database (useful for tests).
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content (
			cid TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			cid TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			advertised_at INTEGER NOT NULL,
			PRIMARY KEY (cid, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_archive (
			task_id TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			status TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			archived_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// PutContent inserts content under its CID. A CID is written at most once;
// re-inserting an existing CID is a no-op.
func (d *DB) PutContent(cid string, data []byte, contentType string, createdAt int64) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO content (cid, data, content_type, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		cid, data, contentType, len(data), createdAt,
	)
	if err != nil {
		return fmt.Errorf("put content: %w", err)
	}
	return nil
}

// GetContent returns the content bytes for a CID, or (nil, false) when the
// CID is unknown.
func (d *DB) GetContent(cid string) ([]byte, bool, error) {
	var data []byte
	err := d.db.QueryRow(`SELECT data FROM content WHERE cid = ?`, cid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get content: %w", err)
	}
	return data, true, nil
}

// HasContent reports whether a CID exists.
func (d *DB) HasContent(cid string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM content WHERE cid = ?`, cid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has content: %w", err)
	}
	return true, nil
}

// ContentCount returns the number of stored content items.
func (d *DB) ContentCount() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return n, nil
}

// AddProvider records an agent as a provider of a CID.
func (d *DB) AddProvider(cid, agentID string, advertisedAt int64) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO providers (cid, agent_id, advertised_at) VALUES (?, ?, ?)`,
		cid, agentID, advertisedAt,
	)
	if err != nil {
		return fmt.Errorf("add provider: %w", err)
	}
	return nil
}

// Providers returns the agent IDs known to provide a CID.
func (d *DB) Providers(cid string) ([]string, error) {
	rows, err := d.db.Query(`SELECT agent_id FROM providers WHERE cid = ? ORDER BY agent_id`, cid)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ArchiveTask stores a terminal task record for post-retention lookup.
func (d *DB) ArchiveTask(taskID string, body []byte, status string, epoch uint64, archivedAt int64) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO task_archive (task_id, body, status, epoch, archived_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, body, status, epoch, archivedAt,
	)
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

// ArchivedTask returns an archived task body, or (nil, false) when unknown.
func (d *DB) ArchivedTask(taskID string) ([]byte, bool, error) {
	var body []byte
	err := d.db.QueryRow(`SELECT body FROM task_archive WHERE task_id = ?`, taskID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get archived task: %w", err)
	}
	return body, true, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
