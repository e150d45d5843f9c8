// Package db implements the SQLite-backed session journal: one row per
// connection, recording who connected, how far they got and why they left.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory journal that vanishes on Close.
const MemoryPath = ":memory:"

// busyTimeoutMS is how long a statement waits on a locked database file
// before failing, in milliseconds.
const busyTimeoutMS = 5000

// Database is the journal's SQLite handle. The pool holds a single
// connection and writes are serialized behind mu.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// journalDSN builds the modernc DSN for path. File databases run in WAL mode.
func journalDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	if path == MemoryPath {
		return "file::memory:?" + params.Encode()
	}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + params.Encode()
}

// NewDatabase opens or creates the journal database at path, creating its
// directory when needed.
func NewDatabase(path string) (*Database, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", journalDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only lives as long as its connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("journal ping failed: %w", err)
	}

	var mode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		log.Warn().Err(err).Msg("failed to read journal mode")
	}
	log.Info().Str("path", path).Str("journal_mode", mode).Msg("session journal opened")

	return &Database{db: sqlDB, path: path}, nil
}

// Path returns the path the database was opened with.
func (d *Database) Path() string {
	return d.path
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Exec runs a write statement.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.db.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, committing when it returns nil.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
