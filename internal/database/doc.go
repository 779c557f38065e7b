// Package database manages the unified SQLite store: schema, FTS5
// index maintenance, row marshalling, and all raw persistence
// operations for memories, access events, and behavioural patterns.
package database
