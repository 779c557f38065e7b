package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

var (
	// Version is set during build
	Version = "1.0.0"

	cfg *config.Config

	dbPathFlag string
	quiet      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "copilot-memory",
	Short: "Persistent tiered memory store for AI coding assistants",
	Long: `copilot-memory stores assistant memories across two tiers (core,
longterm) and two scopes (global, project), with BM25 keyword search,
local lexical-semantic search, and behaviour-driven tier optimization.

Examples:
  copilot-memory store "User prefers dark theme" --tier core --scope global --tags theme
  copilot-memory search "dark theme"
  copilot-memory migrate <memory-id> longterm
  copilot-memory optimize --dry-run

  copilot-memory serve     # MCP stdio server
  copilot-memory api       # REST API server`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPathFlag != "" {
			cfg.Database.Path = dbPathFlag
		}

		level := cfg.Logging.Level
		if quiet {
			level = "error"
		}
		logging.Init(logging.Config{
			Level:  level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path (default ~/.copilot-mcp/memory/unified.db)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error logging")
}

// openDatabase opens the configured database with schema applied.
func openDatabase() (*database.Database, error) {
	if err := cfg.EnsureDatabaseDir(); err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
