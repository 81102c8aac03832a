package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Options tunes the sqlite connection. The zero value keeps the defaults a
// single-process desktop deployment wants.
type Options struct {
	// MaxOpenConns caps the connection pool. Values below 1 mean 1:
	// sqlite handles one writer at a time, and a single connection avoids
	// SQLITE_BUSY under concurrent task updates.
	MaxOpenConns int

	// JournalMode sets the sqlite journal mode (e.g. WAL, DELETE). Empty
	// leaves the driver default.
	JournalMode string
}

// Open opens the sqlite database at path with default options and ensures
// the schema exists. An empty path opens an in-memory database (used by
// tests).
func Open(path string) (*sql.DB, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens the sqlite database at path and ensures the schema
// exists.
func OpenWithOptions(path string, opts Options) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	if opts.JournalMode != "" {
		dsn += "&_journal_mode=" + opts.JournalMode
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := opts.MaxOpenConns
	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	if err := ensureSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the required tables if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			directory TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kb_id INTEGER NOT NULL,
			original_filename TEXT NOT NULL,
			original_path TEXT NOT NULL,
			converted_path TEXT,
			is_scanned BOOLEAN NOT NULL DEFAULT FALSE,
			conversion_status TEXT NOT NULL DEFAULT 'pending',
			conversion_progress REAL NOT NULL DEFAULT 0,
			page_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (kb_id) REFERENCES knowledge_bases(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT UNIQUE NOT NULL,
			data_element TEXT NOT NULL,
			procedure TEXT NOT NULL,
			kb_id INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (kb_id) REFERENCES knowledge_bases(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			is_user BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
