package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/logging"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("database")

// Database represents a connection to the unified SQLite database.
// All writes are serialized through a single writer; readers share
// the same connection under an RWMutex.
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens a database connection and verifies it
func Open(path string) (*Database, error) {
	log.Info("opening database", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error("failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.Error("failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; bound the pool accordingly
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		log.Error("failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:   db,
		path: path,
	}

	log.Info("database connection established", "path", path)
	return database, nil
}

// InitSchema initializes the database schema: tables, indices,
// the FTS5 virtual table, and its sync triggers.
func (d *Database) InitSchema() error {
	log.Info("initializing database schema", "version", SchemaVersion)

	d.mu.Lock()
	defer d.mu.Unlock()

	var tableName string
	err := d.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='unified_memories'
		LIMIT 1
	`).Scan(&tableName)
	if err == nil && tableName != "" {
		log.Debug("schema already initialized")
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(CoreSchema); err != nil {
		log.Error("failed to create core schema", "error", err)
		return fmt.Errorf("failed to create core schema: %w", err)
	}

	// FTS5 is optional; keyword search falls back to substring matching
	if _, err := tx.Exec(FTS5Schema); err != nil {
		log.Warn("failed to create FTS5 schema (skipping)", "error", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
	`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	log.Info("database schema initialized", "version", SchemaVersion)
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
			return err
		}
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Exec executes a SQL statement under the write lock
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query executes a SQL query and returns rows
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.Query(query, args...)
}

// QueryRow executes a SQL query and returns a single row
func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.QueryRow(query, args...)
}

// GetSchemaVersion returns the current schema version
func (d *Database) GetSchemaVersion() (int, error) {
	var version int
	err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// TableExists checks if a table exists in the database
func (d *Database) TableExists(name string) (bool, error) {
	var count int
	err := d.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type IN ('table', 'view') AND name = ?
	`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Vacuum runs VACUUM to compact the database file
func (d *Database) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("VACUUM")
	return err
}

// Checkpoint forces a WAL checkpoint
func (d *Database) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// FileStats holds database file statistics
type FileStats struct {
	Path          string
	SchemaVersion int
	MemoryCount   int
	AccessLogRows int
	PatternRows   int
	SessionCount  int
	FileSizeBytes int64
}

// GetFileStats returns database file statistics
func (d *Database) GetFileStats() (*FileStats, error) {
	stats := &FileStats{
		Path: d.path,
	}

	if version, err := d.GetSchemaVersion(); err == nil {
		stats.SchemaVersion = version
	}

	d.QueryRow("SELECT COUNT(*) FROM unified_memories").Scan(&stats.MemoryCount)
	d.QueryRow("SELECT COUNT(*) FROM memory_access_log").Scan(&stats.AccessLogRows)
	d.QueryRow("SELECT COUNT(*) FROM memory_behavioral_patterns").Scan(&stats.PatternRows)
	d.QueryRow("SELECT COUNT(*) FROM memory_sessions").Scan(&stats.SessionCount)

	if info, err := os.Stat(d.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}

	return stats, nil
}
