package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestDB opens a temporary database with the schema applied.
func newTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabaseOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}
}

func TestDatabaseInitSchema(t *testing.T) {
	db := newTestDB(t)

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", SchemaVersion, version)
	}

	tables := []string{
		"unified_memories", "memory_access_log", "memory_behavioral_patterns",
		"memory_sessions", "system_performance_metrics", "schema_version",
		"memories_fts",
	}
	for _, table := range tables {
		exists, err := db.TableExists(table)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Table %s should exist", table)
		}
	}

	// Re-initializing is a no-op
	if err := db.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema should be a no-op: %v", err)
	}
}

func TestMemoryCRUD(t *testing.T) {
	db := newTestDB(t)

	t.Run("Create", func(t *testing.T) {
		m := &Memory{
			Content:  "Test memory content",
			Tier:     TierCore,
			Scope:    ScopeGlobal,
			Tags:     []string{"test", "golang"},
			Metadata: map[string]any{"source": "unit-test"},
		}
		if err := db.CreateMemory(m); err != nil {
			t.Fatalf("Failed to create memory: %v", err)
		}
		if m.ID == "" {
			t.Error("Memory ID should be generated")
		}
		if m.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
		if m.ContentSize != len("Test memory content") {
			t.Errorf("ContentSize = %d, want %d", m.ContentSize, len("Test memory content"))
		}
	})

	t.Run("Get", func(t *testing.T) {
		m := &Memory{Content: "retrievable", Tier: TierLongterm, Scope: ScopeGlobal}
		if err := db.CreateMemory(m); err != nil {
			t.Fatalf("Failed to create memory: %v", err)
		}

		got, err := db.GetMemory(m.ID)
		if err != nil {
			t.Fatalf("Failed to get memory: %v", err)
		}
		if got == nil {
			t.Fatal("Memory should exist")
		}
		if got.Content != "retrievable" {
			t.Errorf("Content = %q, want %q", got.Content, "retrievable")
		}
		if got.Tier != TierLongterm || got.Scope != ScopeGlobal {
			t.Errorf("Tier/Scope = %s/%s", got.Tier, got.Scope)
		}
		if got.AccessCount != 0 {
			t.Errorf("AccessCount = %d, want 0", got.AccessCount)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := db.GetMemory("nonexistent")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != nil {
			t.Error("Expected nil for missing memory")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		m := &Memory{Content: "to delete", Tier: TierLongterm, Scope: ScopeGlobal}
		if err := db.CreateMemory(m); err != nil {
			t.Fatalf("Failed to create memory: %v", err)
		}
		if err := db.DeleteMemory(m.ID); err != nil {
			t.Fatalf("Failed to delete memory: %v", err)
		}

		got, _ := db.GetMemory(m.ID)
		if got != nil {
			t.Error("Memory should be gone after delete")
		}

		if err := db.DeleteMemory(m.ID); err == nil {
			t.Error("Deleting a missing memory should error")
		}
	})
}

func TestProjectScopeConstraint(t *testing.T) {
	db := newTestDB(t)

	// The schema CHECK rejects project scope without a project_id
	_, err := db.Exec(`
		INSERT INTO unified_memories (id, content, tier, scope, content_size)
		VALUES ('bad', 'x', 'longterm', 'project', 1)
	`)
	if err == nil {
		t.Error("Expected CHECK constraint violation for project scope without project_id")
	}
}

func TestUnicodeRoundTrip(t *testing.T) {
	db := newTestDB(t)

	content := `Unicode: 日本語 émojis 🎉 and "embedded 'quotes'"`
	m := &Memory{Content: content, Tier: TierLongterm, Scope: ScopeGlobal}
	if err := db.CreateMemory(m); err != nil {
		t.Fatalf("Failed to create memory: %v", err)
	}

	got, err := db.GetMemory(m.ID)
	if err != nil || got == nil {
		t.Fatalf("Failed to get memory: %v", err)
	}
	if got.Content != content {
		t.Errorf("Content round-trip mismatch: %q", got.Content)
	}
}

func TestFTSTriggers(t *testing.T) {
	db := newTestDB(t)

	m := &Memory{
		Content: "kubernetes deployment rollback procedure",
		Tier:    TierLongterm,
		Scope:   ScopeGlobal,
		Tags:    []string{"kubernetes", "ops"},
	}
	if err := db.CreateMemory(m); err != nil {
		t.Fatalf("Failed to create memory: %v", err)
	}

	hits, err := db.FTSSearch(`content:"kubernetes"`, &MemoryFilters{Limit: 10})
	if err != nil {
		t.Fatalf("FTS search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ID != m.ID {
		t.Fatalf("Expected 1 hit for inserted memory, got %d", len(hits))
	}
	if hits[0].NativeScore < 0 {
		t.Errorf("Native score should be non-negative, got %f", hits[0].NativeScore)
	}

	// Delete trigger removes the FTS row
	if err := db.DeleteMemory(m.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	hits, err = db.FTSSearch(`content:"kubernetes"`, &MemoryFilters{Limit: 10})
	if err != nil {
		t.Fatalf("FTS search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected 0 hits after delete, got %d", len(hits))
	}
}

func TestFTSFilters(t *testing.T) {
	db := newTestDB(t)

	mustCreate(t, db, &Memory{Content: "typescript strict mode", Tier: TierLongterm, Scope: ScopeProject, ProjectID: "/p1"})
	mustCreate(t, db, &Memory{Content: "typescript loose mode", Tier: TierCore, Scope: ScopeProject, ProjectID: "/p2"})

	hits, err := db.FTSSearch(`content:"typescript"`, &MemoryFilters{ProjectID: "/p1", Limit: 10})
	if err != nil {
		t.Fatalf("FTS search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ProjectID != "/p1" {
		t.Fatalf("Project filter failed: %d hits", len(hits))
	}

	hits, err = db.FTSSearch(`content:"typescript"`, &MemoryFilters{Tier: TierCore, Limit: 10})
	if err != nil {
		t.Fatalf("FTS search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.Tier != TierCore {
		t.Fatalf("Tier filter failed: %d hits", len(hits))
	}
}

func TestRebuildFTS(t *testing.T) {
	db := newTestDB(t)

	mustCreate(t, db, &Memory{Content: "alpha indexing check", Tier: TierLongterm, Scope: ScopeGlobal})
	mustCreate(t, db, &Memory{Content: "beta indexing check", Tier: TierLongterm, Scope: ScopeGlobal})

	if err := db.RebuildFTS(); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	hits, err := db.FTSSearch(`content:"indexing"`, &MemoryFilters{Limit: 10})
	if err != nil {
		t.Fatalf("FTS search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("Expected 2 hits after rebuild, got %d", len(hits))
	}
}

func TestTouchMemoryAccess(t *testing.T) {
	db := newTestDB(t)

	m := &Memory{Content: "counted", Tier: TierLongterm, Scope: ScopeGlobal}
	mustCreate(t, db, m)

	for i := 0; i < 3; i++ {
		if err := db.TouchMemoryAccess(m.ID); err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
	}

	got, _ := db.GetMemory(m.ID)
	if got.AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", got.AccessCount)
	}
	if got.AccessedAt.Before(got.CreatedAt) {
		t.Error("AccessedAt should not precede CreatedAt")
	}
}

func TestSubstringSearch(t *testing.T) {
	db := newTestDB(t)

	mustCreate(t, db, &Memory{Content: "User prefers dark theme", Tier: TierCore, Scope: ScopeGlobal, Tags: []string{"theme"}})
	mustCreate(t, db, &Memory{Content: "Unrelated note", Tier: TierLongterm, Scope: ScopeGlobal})

	results, err := db.SubstringSearch("DARK", &MemoryFilters{Limit: 10})
	if err != nil {
		t.Fatalf("Substring search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	// Tag matches count too
	results, err = db.SubstringSearch("theme", &MemoryFilters{Limit: 10})
	if err != nil {
		t.Fatalf("Substring search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result for tag match, got %d", len(results))
	}
}

func TestCorePartitionSize(t *testing.T) {
	db := newTestDB(t)

	mustCreate(t, db, &Memory{Content: "aaaa", Tier: TierCore, Scope: ScopeGlobal})
	mustCreate(t, db, &Memory{Content: "bbbbbb", Tier: TierCore, Scope: ScopeGlobal})
	mustCreate(t, db, &Memory{Content: "ignored longterm", Tier: TierLongterm, Scope: ScopeGlobal})
	mustCreate(t, db, &Memory{Content: "cc", Tier: TierCore, Scope: ScopeProject, ProjectID: "/p1"})

	global, err := db.CorePartitionSize(ScopeGlobal, "")
	if err != nil {
		t.Fatalf("Partition size failed: %v", err)
	}
	if global != 10 {
		t.Errorf("Global core partition = %d, want 10", global)
	}

	project, err := db.CorePartitionSize(ScopeProject, "/p1")
	if err != nil {
		t.Fatalf("Partition size failed: %v", err)
	}
	if project != 2 {
		t.Errorf("Project core partition = %d, want 2", project)
	}
}

func TestUpdateTier(t *testing.T) {
	db := newTestDB(t)

	m := &Memory{Content: "movable", Tier: TierLongterm, Scope: ScopeGlobal}
	mustCreate(t, db, m)

	if err := db.UpdateTier(m.ID, TierCore, map[string]any{"migrated_from": "longterm"}); err != nil {
		t.Fatalf("UpdateTier failed: %v", err)
	}

	got, _ := db.GetMemory(m.ID)
	if got.Tier != TierCore {
		t.Errorf("Tier = %s, want core", got.Tier)
	}
	if got.Metadata["migrated_from"] != "longterm" {
		t.Errorf("Metadata not updated: %v", got.Metadata)
	}

	if err := db.UpdateTier("missing", TierCore, nil); err == nil {
		t.Error("Expected error for missing memory")
	}
}

func TestAccessLog(t *testing.T) {
	db := newTestDB(t)

	m := &Memory{Content: "logged", Tier: TierLongterm, Scope: ScopeGlobal}
	mustCreate(t, db, m)

	relevance := 0.8
	events := []*AccessEvent{
		{MemoryID: m.ID, AccessType: AccessRead, Timestamp: time.Now().Add(-2 * time.Hour)},
		{MemoryID: m.ID, AccessType: AccessSearchMatch, Timestamp: time.Now().Add(-1 * time.Hour),
			QueryTerms: []string{"logged"}, RelevanceScore: &relevance, SessionID: "s1"},
		{MemoryID: m.ID, AccessType: AccessContextLoad, Timestamp: time.Now()},
	}
	for _, e := range events {
		if err := db.AppendAccessEvent(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := db.GetAccessEvents(m.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetAccessEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	// Oldest first
	if got[0].AccessType != AccessRead || got[2].AccessType != AccessContextLoad {
		t.Error("Events should be ordered oldest first")
	}
	if got[1].RelevanceScore == nil || *got[1].RelevanceScore != 0.8 {
		t.Error("Relevance score should round-trip")
	}
	if got[1].SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", got[1].SessionID)
	}

	count, err := db.CountAccessEvents(m.ID)
	if err != nil || count != 3 {
		t.Errorf("CountAccessEvents = %d (%v), want 3", count, err)
	}
}

func TestBehavioralPatterns(t *testing.T) {
	db := newTestDB(t)

	predicted := time.Now().Add(6 * time.Hour).Truncate(time.Second)
	p := &BehavioralPattern{
		MemoryID:              "mem-1",
		AccessFrequencyScore:  0.8,
		AccessRegularityScore: 0.6,
		PredictedNextAccess:   &predicted,
		TierOptimizationScore: 0.75,
		ArchivalProbability:   0.1,
		AnalysisConfidence:    0.9,
	}
	if err := db.UpsertBehavioralPattern(p); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := db.GetBehavioralPattern("mem-1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessFrequencyScore != 0.8 || got.AnalysisConfidence != 0.9 {
		t.Errorf("Pattern mismatch: %+v", got)
	}
	if got.PredictedNextAccess == nil {
		t.Error("PredictedNextAccess should round-trip")
	}

	// Upsert overwrites
	p.AccessFrequencyScore = 0.2
	if err := db.UpsertBehavioralPattern(p); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	got, _ = db.GetBehavioralPattern("mem-1")
	if got.AccessFrequencyScore != 0.2 {
		t.Errorf("Upsert should overwrite, got %f", got.AccessFrequencyScore)
	}

	patterns, err := db.ListBehavioralPatterns()
	if err != nil || len(patterns) != 1 {
		t.Errorf("ListBehavioralPatterns = %d (%v), want 1", len(patterns), err)
	}

	if err := db.DeleteBehavioralPattern("mem-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ = db.GetBehavioralPattern("mem-1")
	if got != nil {
		t.Error("Pattern should be deleted")
	}
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)

	id, err := db.CreateSession("analysis", map[string]any{"agent": "copilot"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("Session ID should be generated")
	}

	s, err := db.GetSession(id)
	if err != nil || s == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.SessionType != "analysis" {
		t.Errorf("SessionType = %q", s.SessionType)
	}
	if s.SessionMetadata["agent"] != "copilot" {
		t.Errorf("Metadata = %v", s.SessionMetadata)
	}
}

func TestAnalyticsAggregates(t *testing.T) {
	db := newTestDB(t)

	mustCreate(t, db, &Memory{Content: "aa", Tier: TierCore, Scope: ScopeGlobal, Tags: []string{"go", "db"}})
	mustCreate(t, db, &Memory{Content: "bbbb", Tier: TierLongterm, Scope: ScopeGlobal, Tags: []string{"go"}})
	mustCreate(t, db, &Memory{Content: "cccccc", Tier: TierLongterm, Scope: ScopeProject, ProjectID: "/p1", Tags: []string{"go", "api"}})

	tiers, err := db.TierAggregates()
	if err != nil {
		t.Fatalf("TierAggregates failed: %v", err)
	}
	if tiers[TierCore].Count != 1 || tiers[TierLongterm].Count != 2 {
		t.Errorf("Tier counts: core=%d longterm=%d", tiers[TierCore].Count, tiers[TierLongterm].Count)
	}
	if tiers[TierLongterm].TotalSize != 10 {
		t.Errorf("Longterm total size = %d, want 10", tiers[TierLongterm].TotalSize)
	}

	scopes, err := db.ScopeCounts()
	if err != nil {
		t.Fatalf("ScopeCounts failed: %v", err)
	}
	if scopes[ScopeGlobal] != 2 || scopes[ScopeProject] != 1 {
		t.Errorf("Scope counts: %v", scopes)
	}

	tags, err := db.TopTags(10)
	if err != nil {
		t.Fatalf("TopTags failed: %v", err)
	}
	if len(tags) == 0 || tags[0].Tag != "go" || tags[0].Count != 3 {
		t.Errorf("TopTags = %v", tags)
	}

	projects, err := db.ActiveProjects()
	if err != nil {
		t.Fatalf("ActiveProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ProjectID != "/p1" {
		t.Errorf("ActiveProjects = %v", projects)
	}

	created, err := db.CreatedSince(time.Now().Add(-time.Hour))
	if err != nil || created != 3 {
		t.Errorf("CreatedSince = %d (%v), want 3", created, err)
	}
}

func TestMostLeastAccessed(t *testing.T) {
	db := newTestDB(t)

	hot := &Memory{Content: "hot", Tier: TierCore, Scope: ScopeGlobal}
	cold := &Memory{Content: "cold", Tier: TierLongterm, Scope: ScopeGlobal}
	mustCreate(t, db, hot)
	mustCreate(t, db, cold)

	for i := 0; i < 5; i++ {
		db.TouchMemoryAccess(hot.ID)
	}

	most, err := db.MostAccessed(1)
	if err != nil || len(most) != 1 || most[0].ID != hot.ID {
		t.Errorf("MostAccessed failed: %v", err)
	}

	least, err := db.LeastAccessed(1)
	if err != nil || len(least) != 1 || least[0].ID != cold.ID {
		t.Errorf("LeastAccessed failed: %v", err)
	}
}

func TestParseHelpers(t *testing.T) {
	if tags := ParseTags(`["a","b"]`); len(tags) != 2 {
		t.Errorf("ParseTags = %v", tags)
	}
	if tags := ParseTags("not json"); tags != nil {
		t.Errorf("Malformed tags should parse to nil, got %v", tags)
	}
	md := ParseMetadata(`{"k":"v"}`)
	if md["k"] != "v" {
		t.Errorf("ParseMetadata = %v", md)
	}
	if md := ParseMetadata("broken"); len(md) != 0 {
		t.Errorf("Malformed metadata should parse empty, got %v", md)
	}
}

func TestNewMemoryID(t *testing.T) {
	a := NewMemoryID(TierCore, ScopeGlobal)
	b := NewMemoryID(TierCore, ScopeGlobal)
	if a == b {
		t.Error("IDs must be unique")
	}
}

func mustCreate(t *testing.T, db *Database, m *Memory) {
	t.Helper()
	if err := db.CreateMemory(m); err != nil {
		t.Fatalf("Failed to create memory: %v", err)
	}
}
