package lifecycle

import (
	"testing"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/analyzer"
	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/semantic"
	"github.com/copilot-mcp/copilot-memory/internal/testutil"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

func newTestManager(t *testing.T) (*Manager, *memory.Service, *database.Database) {
	t.Helper()

	db := testutil.NewTestDB(t)
	cfg := config.DefaultConfig()
	store := memory.NewService(db, semantic.NewEngine(cfg.Semantic.CacheSize), cfg)
	manager := NewManager(store, analyzer.New(db), db, cfg)
	return manager, store, db
}

// seedDemotionCandidate creates a core memory whose fresh insights
// demote it: heavily accessed historically but stale for 10 days.
func seedDemotionCandidate(t *testing.T, store *memory.Service, db *database.Database) string {
	t.Helper()

	result, err := store.Store(&memory.StoreOptions{
		Content: "stale core entry",
		Tier:    database.TierCore,
		Scope:   database.ScopeGlobal,
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	id := result.Memory.ID

	// Backdate the last access and inflate the historical count so R2
	// and R5 both fire: confidence 0.75, score 0.5 -> longterm
	stale := time.Now().Add(-10 * 24 * time.Hour)
	if _, err := db.Exec(`
		UPDATE unified_memories SET accessed_at = ?, access_count = 60 WHERE id = ?
	`, stale, id); err != nil {
		t.Fatalf("Backdate failed: %v", err)
	}

	if err := db.UpsertBehavioralPattern(&database.BehavioralPattern{MemoryID: id}); err != nil {
		t.Fatalf("Seed pattern failed: %v", err)
	}
	return id
}

// seedArchivalCandidate creates a longterm memory old and cold enough
// to archive with confidence above the action floor.
func seedArchivalCandidate(t *testing.T, store *memory.Service, db *database.Database) string {
	t.Helper()

	result, err := store.Store(&memory.StoreOptions{
		Content: "ancient forgotten note",
		Tier:    database.TierLongterm,
		Scope:   database.ScopeGlobal,
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	id := result.Memory.ID

	created := time.Now().Add(-200 * 24 * time.Hour)
	accessed := time.Now().Add(-70 * 24 * time.Hour)
	if _, err := db.Exec(`
		UPDATE unified_memories SET created_at = ?, accessed_at = ?, access_count = 60 WHERE id = ?
	`, created, accessed, id); err != nil {
		t.Fatalf("Backdate failed: %v", err)
	}

	if err := db.UpsertBehavioralPattern(&database.BehavioralPattern{MemoryID: id}); err != nil {
		t.Fatalf("Seed pattern failed: %v", err)
	}
	return id
}

func TestOptimizeDryRunDoesNotMutate(t *testing.T) {
	manager, store, db := newTestManager(t)
	id := seedDemotionCandidate(t, store, db)

	result, err := manager.Optimize(true)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if !result.DryRun {
		t.Error("DryRun flag should be set")
	}
	if len(result.Recommendations) == 0 {
		t.Fatal("Expected a recommendation for the stale core memory")
	}
	if result.Promoted+result.Demoted+result.Archived != 0 {
		t.Error("Dry run must not realize any action")
	}

	m, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Tier != database.TierCore {
		t.Error("Dry run must not change the tier")
	}
}

func TestOptimizeDemotesStaleCoreMemory(t *testing.T) {
	manager, store, db := newTestManager(t)
	id := seedDemotionCandidate(t, store, db)

	result, err := manager.Optimize(false)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Demoted != 1 {
		t.Fatalf("Demoted = %d, want 1 (recommendations: %+v, errors: %v)",
			result.Demoted, result.Recommendations, result.Errors)
	}

	m, _ := store.Get(id)
	if m.Tier != database.TierLongterm {
		t.Errorf("Tier = %s, want longterm", m.Tier)
	}

	// Realized migrations show up in the access log
	events, err := db.GetAccessEvents(id, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetAccessEvents failed: %v", err)
	}
	found := false
	for _, e := range events {
		if e.AccessType == database.AccessUpdate && e.ContextType == "tier_migration_core_to_longterm" {
			found = true
		}
	}
	if !found {
		t.Error("Demotion should log a tier_migration update event")
	}
}

func TestOptimizeArchivesColdMemory(t *testing.T) {
	manager, store, db := newTestManager(t)
	id := seedArchivalCandidate(t, store, db)

	result, err := manager.Optimize(false)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Archived != 1 {
		t.Fatalf("Archived = %d, want 1 (recommendations: %+v, errors: %v)",
			result.Archived, result.Recommendations, result.Errors)
	}

	m, _ := store.Get(id)
	if m.Tier != database.TierLongterm {
		t.Errorf("Archived memory should live in longterm, got %s", m.Tier)
	}
	if m.Metadata["archived"] != true {
		t.Errorf("Archived flag missing: %v", m.Metadata)
	}
}

func TestOptimizeDryRunDoesNotRewritePatterns(t *testing.T) {
	manager, store, db := newTestManager(t)

	// A memory with real history: five logged events, pattern cached
	// by a live analysis pass
	result, err := store.Store(&memory.StoreOptions{
		Content: "frequently read note",
		Tier:    database.TierLongterm,
		Scope:   database.ScopeGlobal,
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	id := result.Memory.ID

	for i := 0; i < 5; i++ {
		if err := db.AppendAccessEvent(&database.AccessEvent{
			MemoryID:   id,
			AccessType: database.AccessRead,
			Timestamp:  time.Now().Add(-time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if _, err := manager.analyzer.Analyze(id); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	before, err := db.GetBehavioralPattern(id)
	if err != nil || before == nil {
		t.Fatalf("Pattern should be cached: %v", err)
	}
	eventsBefore, _ := db.CountAccessEvents(id)

	if _, err := manager.Optimize(true); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	after, err := db.GetBehavioralPattern(id)
	if err != nil || after == nil {
		t.Fatalf("Pattern should still exist: %v", err)
	}
	if !after.LastAnalysisTimestamp.Equal(before.LastAnalysisTimestamp) {
		t.Error("Dry run must not rewrite the cached pattern")
	}
	if after.AccessFrequencyScore != before.AccessFrequencyScore ||
		after.AnalysisConfidence != before.AnalysisConfidence {
		t.Error("Dry run must not change cached scores")
	}

	eventsAfter, _ := db.CountAccessEvents(id)
	if eventsAfter != eventsBefore {
		t.Errorf("Dry run must not log: events %d -> %d", eventsBefore, eventsAfter)
	}
}

func TestOptimizeDropsStalePatterns(t *testing.T) {
	manager, _, db := newTestManager(t)

	// Pattern for a memory that no longer exists
	if err := db.UpsertBehavioralPattern(&database.BehavioralPattern{MemoryID: "ghost"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := manager.Optimize(false); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	pattern, _ := db.GetBehavioralPattern("ghost")
	if pattern != nil {
		t.Error("Stale pattern should be dropped during a live pass")
	}
}

func TestOptimizeEmptyStore(t *testing.T) {
	manager, _, _ := newTestManager(t)

	result, err := manager.Optimize(false)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Scanned != 0 || len(result.Recommendations) != 0 {
		t.Errorf("Empty store should produce an empty pass: %+v", result)
	}
}
