// Package testutil provides testing helpers for copilot-memory.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

// NewTestDB opens a temporary database with the full schema applied.
// It is closed and removed when the test completes.
func NewTestDB(t *testing.T) *database.Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		t.Fatalf("Failed to init schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// TestConfig returns a config pointed at a throwaway database path.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
}
