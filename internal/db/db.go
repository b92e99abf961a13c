package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a single-row lookup or update matches nothing
var ErrNotFound = errors.New("not found")

// Table names accepted by Delete
type Table string

const (
	TableChecklists      Table = "checklists"
	TableFormDefinitions Table = "form_definitions"
	TableFormResponses   Table = "form_responses"
	TableFieldResponses  Table = "field_responses"
	TableSyncQueue       Table = "sync_queue"
	TableFileQueue       Table = "file_queue"
)

var allTables = []Table{
	TableChecklists, TableFormDefinitions, TableFormResponses,
	TableFieldResponses, TableSyncQueue, TableFileQueue,
}

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and runs any pending migrations
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := New(conn, path)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an already opened connection. Used by tests that register a
// different sqlite driver.
func New(conn *sql.DB, path string) (*DB, error) {
	// Serialize writers; sqlite allows one at a time anyway
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: path, now: time.Now}

	if _, err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// SetClock overrides the time source used for timestamps
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Delete removes a row by local id. Deleting an absent row is not an error.
func (db *DB) Delete(table Table, id int64) error {
	if !validTable(table) {
		return fmt.Errorf("delete: unknown table %q", table)
	}
	if _, err := db.conn.Exec(`DELETE FROM `+string(table)+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

func validTable(t Table) bool {
	for _, known := range allTables {
		if t == known {
			return true
		}
	}
	return false
}

// Timestamps are stored as unix milliseconds so both sqlite drivers read them back identically.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// nullID maps the unset server id (0) to NULL
func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expectOne maps a zero-row update to ErrNotFound
func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
