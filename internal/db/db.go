package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrDatabaseInit = errors.New("database initialization failed")
)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	// Open the database
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Configure connection pool limits to prevent resource exhaustion
	// SQLite handles concurrency differently than other databases, but these
	// limits still help prevent file descriptor exhaustion and memory issues
	conn.SetMaxOpenConns(25)   // Maximum number of open connections
	conn.SetMaxIdleConns(5)    // Maximum idle connections in pool
	conn.SetConnMaxLifetime(0) // Connections are reused forever
	conn.SetConnMaxIdleTime(0) // Idle connections are kept forever

	// Configure SQLite for optimal performance and security
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}

	// Run migrations
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	// Set file permissions (0600 for security)
	if err := os.Chmod(dbPath, 0600); err != nil {
		// Log warning but don't fail - file might not exist yet in WAL mode
		_ = err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		// Connections table (one per account)
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			account_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			sync_interval INTEGER NOT NULL DEFAULT 300,
			auto_sync INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'disconnected',
			last_sync_at DATETIME,
			last_error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Index on account_id for connections
		`CREATE INDEX IF NOT EXISTS idx_connections_account_id ON connections(account_id)`,

		// Calendars table
		`CREATE TABLE IF NOT EXISTS calendars (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			remote_url TEXT,
			display_name TEXT NOT NULL,
			color TEXT,
			change_token TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			origin TEXT NOT NULL DEFAULT 'remote',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(connection_id, remote_url),
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		// Index on connection_id for calendars
		`CREATE INDEX IF NOT EXISTS idx_calendars_connection_id ON calendars(connection_id)`,

		// Events table
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			calendar_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT,
			location TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			all_day INTEGER NOT NULL DEFAULT 0,
			recurrence_rule TEXT,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			attendees TEXT,
			resources TEXT,
			remote_url TEXT,
			etag TEXT,
			raw_data TEXT,
			sync_status TEXT NOT NULL DEFAULT 'local',
			last_sync_attempt DATETIME,
			last_error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
		)`,

		// UID lookups cross calendars; rows sharing a UID form one series
		`CREATE INDEX IF NOT EXISTS idx_events_uid ON events(uid)`,
		`CREATE INDEX IF NOT EXISTS idx_events_calendar_id ON events(calendar_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_sync_status ON events(sync_status)`,

		// Sync logs table
		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		// Index on connection_id and created_at for sync_logs
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_connection_id ON sync_logs(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,

		// Migration: Add per-cycle counters to sync_logs
		`ALTER TABLE sync_logs ADD COLUMN events_created INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE sync_logs ADD COLUMN events_updated INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE sync_logs ADD COLUMN events_deleted INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE sync_logs ADD COLUMN events_skipped INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE sync_logs ADD COLUMN events_pushed INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE sync_logs ADD COLUMN calendars_synced INTEGER NOT NULL DEFAULT 0`,

		// Malformed objects table for payloads that stayed unparseable
		`CREATE TABLE IF NOT EXISTS malformed_objects (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			object_path TEXT NOT NULL,
			error_message TEXT NOT NULL,
			discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(connection_id, object_path),
			FOREIGN KEY (connection_id) REFERENCES connections(id) ON DELETE CASCADE
		)`,

		// Index on connection_id for malformed_objects
		`CREATE INDEX IF NOT EXISTS idx_malformed_objects_connection_id ON malformed_objects(connection_id)`,

		// UID aliases for events created before UID adoption
		`CREATE TABLE IF NOT EXISTS uid_aliases (
			internal_id TEXT PRIMARY KEY,
			uid TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Migration: Add organizer/sequence/status columns to events
		`ALTER TABLE events ADD COLUMN organizer TEXT`,
		`ALTER TABLE events ADD COLUMN sequence INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE events ADD COLUMN event_status TEXT`,

		// Migration: Add RFC 6578 sync token column to calendars
		`ALTER TABLE calendars ADD COLUMN sync_token TEXT`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE migrations
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
