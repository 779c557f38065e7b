package analyzer

import (
	"fmt"
	"testing"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/testutil"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *database.Database) {
	t.Helper()

	db := testutil.NewTestDB(t)
	return New(db), db
}

func seedMemory(t *testing.T, db *database.Database, m *database.Memory) *database.Memory {
	t.Helper()
	if m.Tier == "" {
		m.Tier = database.TierLongterm
	}
	if m.Scope == "" {
		m.Scope = database.ScopeGlobal
	}
	if err := db.CreateMemory(m); err != nil {
		t.Fatalf("Failed to seed memory: %v", err)
	}
	return m
}

func eventsAt(memoryID string, times ...time.Time) []*database.AccessEvent {
	events := make([]*database.AccessEvent, 0, len(times))
	for _, ts := range times {
		events = append(events, &database.AccessEvent{
			MemoryID:   memoryID,
			AccessType: database.AccessRead,
			Timestamp:  ts,
		})
	}
	return events
}

func TestFrequencyScore(t *testing.T) {
	now := time.Now()

	t.Run("NoEvents", func(t *testing.T) {
		if got := frequencyScore(nil, now); got != 0 {
			t.Errorf("frequencyScore = %f, want 0", got)
		}
	})

	t.Run("RecentEventsScoreHigh", func(t *testing.T) {
		var events []*database.AccessEvent
		relevance := 1.0
		for i := 0; i < 5; i++ {
			events = append(events, &database.AccessEvent{
				Timestamp:      now.Add(-time.Duration(i) * time.Minute),
				RelevanceScore: &relevance,
			})
		}
		got := frequencyScore(events, now)
		if got < 0.9 {
			t.Errorf("Fresh relevant events should score near 1, got %f", got)
		}
	})

	t.Run("OutsideWindowIgnored", func(t *testing.T) {
		events := eventsAt("x", now.Add(-40*24*time.Hour))
		if got := frequencyScore(events, now); got != 0 {
			t.Errorf("Events outside 30 days should not count, got %f", got)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		var events []*database.AccessEvent
		relevance := 1.0
		for i := 0; i < 200; i++ {
			events = append(events, &database.AccessEvent{
				Timestamp:      now.Add(-time.Duration(i) * time.Second),
				RelevanceScore: &relevance,
			})
		}
		if got := frequencyScore(events, now); got > 1 {
			t.Errorf("frequencyScore must clamp to 1, got %f", got)
		}
	})
}

func TestRegularityScore(t *testing.T) {
	now := time.Now()

	t.Run("TooFewEvents", func(t *testing.T) {
		events := eventsAt("x", now.Add(-time.Hour), now)
		if got := regularityScore(events, now); got != 0 {
			t.Errorf("Fewer than 3 events should score 0, got %f", got)
		}
	})

	t.Run("PerfectlyRegular", func(t *testing.T) {
		events := eventsAt("x",
			now.Add(-3*time.Hour), now.Add(-2*time.Hour), now.Add(-1*time.Hour), now)
		got := regularityScore(events, now)
		if got < 0.99 {
			t.Errorf("Equal intervals should score ~1, got %f", got)
		}
	})

	t.Run("Irregular", func(t *testing.T) {
		events := eventsAt("x",
			now.Add(-100*time.Hour), now.Add(-99*time.Hour), now.Add(-98*time.Hour))
		// Those are outside the 7-day window? 100h ≈ 4.2 days, inside.
		irregular := eventsAt("x",
			now.Add(-120*time.Hour), now.Add(-119*time.Hour), now.Add(-1*time.Minute))
		if regularityScore(irregular, now) >= regularityScore(events, now) {
			t.Error("Irregular intervals should score lower than regular ones")
		}
	})
}

func TestPredictNextAccess(t *testing.T) {
	now := time.Now()

	t.Run("RegularPatternPredicts", func(t *testing.T) {
		events := eventsAt("x",
			now.Add(-3*time.Hour), now.Add(-2*time.Hour), now.Add(-1*time.Hour), now)
		predicted := predictNextAccess(events, now)
		if predicted == nil {
			t.Fatal("Regular pattern should yield a prediction")
		}
		// Regularity ~1, mean interval 1h: next access about an hour out
		diff := predicted.Sub(now)
		if diff < 50*time.Minute || diff > 70*time.Minute {
			t.Errorf("Predicted offset = %v, want ~1h", diff)
		}
	})

	t.Run("SparseHistoryPredictsNothing", func(t *testing.T) {
		events := eventsAt("x", now.Add(-time.Hour), now)
		if predicted := predictNextAccess(events, now); predicted != nil {
			t.Error("Sparse history should not predict")
		}
	})
}

func TestLearningPhase(t *testing.T) {
	cases := []struct {
		name        string
		accessCount int
		frequency   float64
		regularity  float64
		want        LearningPhase
	}{
		{"Bootstrap", 2, 0.9, 0.9, PhaseBootstrap},
		{"Declining", 30, 0.05, 0.2, PhaseDeclining},
		{"Stable", 15, 0.5, 0.8, PhaseStable},
		{"Learning", 8, 0.5, 0.5, PhaseLearning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &database.Memory{AccessCount: tc.accessCount}
			if got := learningPhase(m, tc.frequency, tc.regularity); got != tc.want {
				t.Errorf("learningPhase = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRecommendTier(t *testing.T) {
	now := time.Now()

	t.Run("HotSmallMemoryGoesCore", func(t *testing.T) {
		m := &database.Memory{
			Tier:        database.TierLongterm,
			Scope:       database.ScopeGlobal,
			ContentSize: 500,
			AccessedAt:  now,
		}
		tier, score, confidence := recommendTier(m, 0.8, 0.7, now)
		if tier != database.TierCore {
			t.Errorf("tier = %s, want core (score %f)", tier, score)
		}
		// R1 + R3 raise confidence above the action floor
		if confidence <= 0.7 {
			t.Errorf("confidence = %f, want > 0.7", confidence)
		}
	})

	t.Run("BigColdMemoryStaysLongterm", func(t *testing.T) {
		m := &database.Memory{
			Tier:        database.TierLongterm,
			Scope:       database.ScopeGlobal,
			ContentSize: 4096,
			AccessedAt:  now.Add(-10 * 24 * time.Hour),
		}
		tier, score, _ := recommendTier(m, 0.1, 0.1, now)
		if tier != database.TierCore && score > 0.6 {
			t.Error("inconsistent recommendation")
		}
		if tier != database.TierLongterm {
			t.Errorf("tier = %s, want longterm", tier)
		}
	})

	t.Run("AgreementBoostsConfidence", func(t *testing.T) {
		agree := &database.Memory{Tier: database.TierLongterm, Scope: database.ScopeGlobal, ContentSize: 4096, AccessedAt: now.Add(-10 * 24 * time.Hour)}
		disagree := &database.Memory{Tier: database.TierCore, Scope: database.ScopeGlobal, ContentSize: 500, AccessedAt: now.Add(-10 * 24 * time.Hour)}
		disagree.ContentSize = 4096

		_, _, cAgree := recommendTier(agree, 0.1, 0.1, now)
		_, _, cDisagree := recommendTier(disagree, 0.1, 0.1, now)
		if cAgree <= cDisagree {
			t.Errorf("Agreement should add confidence: %f vs %f", cAgree, cDisagree)
		}
	})

	t.Run("ConfidenceClamped", func(t *testing.T) {
		m := &database.Memory{
			Tier:        database.TierCore,
			Scope:       database.ScopeGlobal,
			ContentSize: 100,
			AccessCount: 100,
			AccessedAt:  now,
		}
		_, _, confidence := recommendTier(m, 0.9, 0.9, now)
		if confidence > 1.0 {
			t.Errorf("confidence must clamp to 1.0, got %f", confidence)
		}
	})
}

func TestArchivalProbability(t *testing.T) {
	now := time.Now()

	fresh := &database.Memory{CreatedAt: now, AccessedAt: now, ContentSize: 100}
	if got := archivalProbability(fresh, 0.9, now); got != 0 {
		t.Errorf("Fresh hot memory archival = %f, want 0", got)
	}

	stale := &database.Memory{
		CreatedAt:   now.Add(-200 * 24 * time.Hour),
		AccessedAt:  now.Add(-70 * 24 * time.Hour),
		ContentSize: 6000,
	}
	if got := archivalProbability(stale, 0.01, now); got != 1 {
		t.Errorf("Old cold memory archival = %f, want clamped 1", got)
	}
}

func TestRecordAccess(t *testing.T) {
	an, db := newTestAnalyzer(t)
	m := seedMemory(t, db, &database.Memory{Content: "tracked"})

	if err := an.RecordAccess(m.ID, database.AccessRead, "manual", "s1"); err != nil {
		t.Fatalf("RecordAccess failed: %v", err)
	}

	count, _ := db.CountAccessEvents(m.ID)
	if count != 1 {
		t.Errorf("Event count = %d, want 1", count)
	}

	if err := an.RecordAccess("missing", database.AccessRead, "", ""); !memory.IsKind(err, memory.KindNotFound) {
		t.Errorf("Expected not-found, got %v", err)
	}
	if err := an.RecordAccess(m.ID, "peek", "", ""); !memory.IsKind(err, memory.KindValidation) {
		t.Errorf("Unknown access type should fail validation, got %v", err)
	}
}

func TestStartSession(t *testing.T) {
	an, db := newTestAnalyzer(t)

	id, err := an.StartSession("coding", map[string]any{"editor": "vscode"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	s, err := db.GetSession(id)
	if err != nil || s == nil {
		t.Fatalf("Session should exist: %v", err)
	}
	if s.SessionType != "coding" {
		t.Errorf("SessionType = %q", s.SessionType)
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	an, db := newTestAnalyzer(t)

	// Seed 10 memories; record 5 reads on item 3
	var target *database.Memory
	for i := 0; i < 10; i++ {
		m := seedMemory(t, db, &database.Memory{Content: fmt.Sprintf("item %d", i)})
		if i == 3 {
			target = m
		}
	}
	for i := 0; i < 5; i++ {
		if err := db.AppendAccessEvent(&database.AccessEvent{
			MemoryID:   target.ID,
			AccessType: database.AccessRead,
			Timestamp:  time.Now().Add(-time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		db.TouchMemoryAccess(target.ID)
	}

	insights, err := an.Analyze(target.ID)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if insights.FrequencyScore <= 0 {
		t.Errorf("FrequencyScore = %f, want > 0", insights.FrequencyScore)
	}
	if insights.OptimalTier != database.TierCore {
		t.Errorf("Small hot memory should recommend core, got %s", insights.OptimalTier)
	}
	if insights.EventCount != 5 {
		t.Errorf("EventCount = %d, want 5", insights.EventCount)
	}

	// With >= 5 events the pattern is cached
	pattern, err := db.GetBehavioralPattern(target.ID)
	if err != nil || pattern == nil {
		t.Fatalf("Pattern should be cached: %v", err)
	}
	if pattern.AccessFrequencyScore != insights.FrequencyScore {
		t.Error("Cached pattern should mirror insights")
	}
}

func TestAnalyzeSparseMemoryNotCached(t *testing.T) {
	an, db := newTestAnalyzer(t)
	m := seedMemory(t, db, &database.Memory{Content: "barely touched"})

	db.AppendAccessEvent(&database.AccessEvent{MemoryID: m.ID, AccessType: database.AccessRead})

	insights, err := an.Analyze(m.ID)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if insights.LearningPhase != PhaseBootstrap {
		t.Errorf("Phase = %s, want bootstrap", insights.LearningPhase)
	}

	pattern, _ := db.GetBehavioralPattern(m.ID)
	if pattern != nil {
		t.Error("Sparse history should not cache a pattern")
	}
}

func TestAnalyzeNotFound(t *testing.T) {
	an, _ := newTestAnalyzer(t)
	if _, err := an.Analyze("missing"); !memory.IsKind(err, memory.KindNotFound) {
		t.Errorf("Expected not-found, got %v", err)
	}
}
