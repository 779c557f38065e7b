package main

import (
	"github.com/spf13/cobra"

	"github.com/copilot-mcp/copilot-memory/internal/analyzer"
	"github.com/copilot-mcp/copilot-memory/internal/lifecycle"
)

var optimizeDryRun bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate store statistics",
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		stats, err := store.Stats()
		if err != nil {
			fatal(err)
		}
		printJSON(stats)
	},
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show extended analytics",
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		analytics, err := store.Analytics()
		if err != nil {
			fatal(err)
		}
		printJSON(analytics)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <memory-id>",
	Short: "Compute behavioural insights for a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		insights, err := analyzer.New(db).Analyze(args[0])
		if err != nil {
			fatal(err)
		}
		printJSON(insights)
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Apply analyzer recommendations: promote, demote, archive",
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		manager := lifecycle.NewManager(store, analyzer.New(db), db, cfg)
		result, err := manager.Optimize(optimizeDryRun)
		if err != nil {
			fatal(err)
		}
		printJSON(result)
	},
}

func init() {
	optimizeCmd.Flags().BoolVar(&optimizeDryRun, "dry-run", false, "report recommendations without mutating")
	rootCmd.AddCommand(statsCmd, analyticsCmd, analyzeCmd, optimizeCmd)
}
