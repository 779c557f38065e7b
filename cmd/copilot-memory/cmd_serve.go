package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copilot-mcp/copilot-memory/internal/api"
	"github.com/copilot-mcp/copilot-memory/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP stdio server",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		server := mcp.NewServer(db, cfg)
		if err := server.Run(ctx); err != nil && err != context.Canceled {
			fatal(err)
		}
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the REST API server",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		server := api.NewServer(db, cfg)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				fatal(err)
			}
		case <-ctx.Done():
			_ = server.Shutdown(context.Background())
		}
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database health and index state",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		stats, err := db.GetFileStats()
		if err != nil {
			fatal(err)
		}

		fmt.Println("Database:", stats.Path)
		fmt.Println("Schema version:", stats.SchemaVersion)
		fmt.Println("Memories:", stats.MemoryCount)
		fmt.Println("Access log rows:", stats.AccessLogRows)
		fmt.Println("Behavioral patterns:", stats.PatternRows)
		fmt.Println("Sessions:", stats.SessionCount)
		fmt.Printf("File size: %d bytes\n", stats.FileSizeBytes)

		if ok, _ := db.TableExists("memories_fts"); !ok {
			fmt.Fprintln(os.Stderr, "Warning: FTS index missing; keyword search will use substring fallback")
		}
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the full-text index from the store",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		if err := db.RebuildFTS(); err != nil {
			fatal(err)
		}
		fmt.Println("FTS index rebuilt")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, apiCmd, doctorCmd, rebuildCmd)
}
