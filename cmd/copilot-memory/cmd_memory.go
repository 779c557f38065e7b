package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/search"
	"github.com/copilot-mcp/copilot-memory/internal/semantic"
)

var (
	storeTier      string
	storeScope     string
	storeProjectID string
	storeTags      []string

	searchTier      string
	searchScope     string
	searchProjectID string
	searchLimit     int
	searchSemantic  bool

	deleteCascade   bool
	deleteThreshold float64

	migrateReason string
)

// newCore wires the store, engines, and database for CLI commands.
func newCore() (*database.Database, *memory.Service, *search.Engine, *semantic.Engine, error) {
	db, err := openDatabase()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	semEng := semantic.NewEngine(cfg.Semantic.CacheSize)
	store := memory.NewService(db, semEng, cfg)
	searchEng := search.NewEngine(db, store, cfg)
	return db, store, searchEng, semEng, nil
}

var storeCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		result, err := store.Store(&memory.StoreOptions{
			Content:   args[0],
			Tier:      database.Tier(storeTier),
			Scope:     database.Scope(storeScope),
			ProjectID: storeProjectID,
			Tags:      storeTags,
		})
		if err != nil {
			fatal(err)
		}

		fmt.Println("Stored:", result.Memory.ID)
		if result.Warning != "" {
			fmt.Fprintln(os.Stderr, "Warning:", result.Warning)
		}
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, store, searchEng, semEng, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		if searchSemantic {
			corpus, err := db.AllMemories()
			if err != nil {
				fatal(err)
			}
			opts := semantic.DefaultOptions()
			opts.MaxResults = searchLimit
			results := semEng.Search(args[0], corpus, opts)

			hits := make([]*memory.SearchHit, 0, len(results))
			for _, r := range results {
				fmt.Printf("%-8.2f %-10s %s  %s\n", r.Score, r.MatchType, r.Memory.ID, firstLine(r.Memory.Content))
				hits = append(hits, &memory.SearchHit{Memory: r.Memory, Score: r.Score, MatchType: r.MatchType})
			}
			store.TouchHits(hits, args[0], "")
			return
		}

		results, err := searchEng.Search(&search.Options{
			Query:     args[0],
			Tier:      database.Tier(searchTier),
			Scope:     database.Scope(searchScope),
			ProjectID: searchProjectID,
			Limit:     searchLimit,
		})
		if err != nil {
			fatal(err)
		}
		for _, r := range results {
			fmt.Printf("%-8.2f %-10s %s  %s\n", r.Score, r.MatchType, r.Memory.ID, firstLine(r.Memory.Content))
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <memory-id>",
	Short: "Delete a memory, optionally cascading to similar memories",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		result, err := store.Delete(args[0], deleteCascade, deleteThreshold)
		if err != nil {
			fatal(err)
		}
		fmt.Println(result.Message)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <memory-id> <target-tier>",
	Short: "Move a memory between tiers",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		result, err := store.Migrate(args[0], database.Tier(args[1]), migrateReason)
		if err != nil {
			fatal(err)
		}
		fmt.Println(result.Message)
		if result.Warning != "" {
			fmt.Fprintln(os.Stderr, "Warning:", result.Warning)
		}
	},
}

var checkDuplicateCmd = &cobra.Command{
	Use:   "check-duplicate <content>",
	Short: "Check whether similar content is already stored",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, store, _, _, err := newCore()
		if err != nil {
			fatal(err)
		}
		defer db.Close()

		result, err := store.CheckDuplicate(args[0], "", "", "", 0)
		if err != nil {
			fatal(err)
		}
		printJSON(result)
	},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
		if i > 72 {
			return s[:i] + "…"
		}
	}
	return s
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}

func init() {
	storeCmd.Flags().StringVar(&storeTier, "tier", "longterm", "tier: core or longterm")
	storeCmd.Flags().StringVar(&storeScope, "scope", "global", "scope: global or project")
	storeCmd.Flags().StringVar(&storeProjectID, "project", "", "project ID (required for project scope)")
	storeCmd.Flags().StringSliceVar(&storeTags, "tags", nil, "comma-separated tags")

	searchCmd.Flags().StringVar(&searchTier, "tier", "", "filter by tier")
	searchCmd.Flags().StringVar(&searchScope, "scope", "", "filter by scope")
	searchCmd.Flags().StringVar(&searchProjectID, "project", "", "filter by project ID")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic", false, "use the local semantic engine")

	deleteCmd.Flags().BoolVar(&deleteCascade, "cascade", false, "also delete semantically similar memories")
	deleteCmd.Flags().Float64Var(&deleteThreshold, "threshold", 0.7, "cascade similarity threshold")

	migrateCmd.Flags().StringVar(&migrateReason, "reason", "", "migration reason recorded in metadata")

	rootCmd.AddCommand(storeCmd, searchCmd, deleteCmd, migrateCmd, checkDuplicateCmd)
}
