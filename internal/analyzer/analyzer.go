package analyzer

import (
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
)

var log = logging.GetLogger("analyzer")

// minEventsForCaching is the event count from which insights are
// persisted to memory_behavioral_patterns.
const minEventsForCaching = 5

// LearningPhase classifies how settled a memory's access behaviour is.
type LearningPhase string

const (
	PhaseBootstrap LearningPhase = "bootstrap"
	PhaseDeclining LearningPhase = "declining"
	PhaseStable    LearningPhase = "stable"
	PhaseLearning  LearningPhase = "learning"
)

// Insights is the full analyzer output for one memory.
type Insights struct {
	MemoryID            string        `json:"memory_id"`
	FrequencyScore      float64       `json:"access_frequency_score"`
	RegularityScore     float64       `json:"access_regularity_score"`
	PredictedNextAccess *time.Time    `json:"predicted_next_access,omitempty"`
	OptimalTier         database.Tier `json:"optimal_tier"`
	TierScore           float64       `json:"tier_optimization_score"`
	Confidence          float64       `json:"analysis_confidence"`
	ArchivalProbability float64       `json:"archival_probability"`
	LearningPhase       LearningPhase `json:"learning_phase"`
	EventCount          int           `json:"event_count"`
	AnalyzedAt          time.Time     `json:"analyzed_at"`
}

// Analyzer scores memories from their access history. It depends only
// on the database so its caches can be fenced off in tests.
type Analyzer struct {
	db *database.Database
}

// New creates an analyzer.
func New(db *database.Database) *Analyzer {
	return &Analyzer{db: db}
}

// StartSession registers a new analysis session and returns its ID.
func (a *Analyzer) StartSession(sessionType string, metadata map[string]any) (string, error) {
	id, err := a.db.CreateSession(sessionType, metadata)
	if err != nil {
		return "", memory.NewStorageError(err, "failed to start session")
	}
	log.Info("session started", "session_id", id, "type", sessionType)
	return id, nil
}

// RecordAccess appends one event to the access log. The memory must
// exist; the log never outlives its subject.
func (a *Analyzer) RecordAccess(memoryID string, accessType database.AccessType, contextType, sessionID string) error {
	m, err := a.db.GetMemory(memoryID)
	if err != nil {
		return memory.NewStorageError(err, "failed to load memory")
	}
	if m == nil {
		return memory.NewNotFoundError(memoryID)
	}

	switch accessType {
	case database.AccessRead, database.AccessSearchMatch, database.AccessContextLoad, database.AccessUpdate:
	default:
		return memory.NewValidationError("unknown access type: %s", accessType)
	}

	return a.db.AppendAccessEvent(&database.AccessEvent{
		MemoryID:    memoryID,
		AccessType:  accessType,
		ContextType: contextType,
		SessionID:   sessionID,
	})
}

// Analyze computes fresh insights for a memory and caches them as a
// behavioural pattern once the memory has enough history.
func (a *Analyzer) Analyze(memoryID string) (*Insights, error) {
	return a.analyze(memoryID, true)
}

// Inspect computes fresh insights without touching the pattern cache.
// Dry-run passes go through here so they stay mutation-free.
func (a *Analyzer) Inspect(memoryID string) (*Insights, error) {
	return a.analyze(memoryID, false)
}

func (a *Analyzer) analyze(memoryID string, persist bool) (*Insights, error) {
	m, err := a.db.GetMemory(memoryID)
	if err != nil {
		return nil, memory.NewStorageError(err, "failed to load memory")
	}
	if m == nil {
		return nil, memory.NewNotFoundError(memoryID)
	}

	now := time.Now()
	events, err := a.db.GetAccessEvents(memoryID, now.Add(-frequencyWindow))
	if err != nil {
		return nil, memory.NewStorageError(err, "failed to load access events")
	}

	insights := a.computeInsights(m, events, now)

	if persist && insights.EventCount >= minEventsForCaching {
		pattern := &database.BehavioralPattern{
			MemoryID:              memoryID,
			AccessFrequencyScore:  insights.FrequencyScore,
			AccessRegularityScore: insights.RegularityScore,
			PredictedNextAccess:   insights.PredictedNextAccess,
			TierOptimizationScore: insights.TierScore,
			ArchivalProbability:   insights.ArchivalProbability,
			LastAnalysisTimestamp: insights.AnalyzedAt,
			AnalysisConfidence:    insights.Confidence,
		}
		if err := a.db.UpsertBehavioralPattern(pattern); err != nil {
			log.Warn("failed to cache behavioral pattern", "id", memoryID, "error", err)
		}
	}

	return insights, nil
}

// computeInsights runs the full scoring pipeline over a memory and its
// recent events.
func (a *Analyzer) computeInsights(m *database.Memory, events []*database.AccessEvent, now time.Time) *Insights {
	frequency := frequencyScore(events, now)
	regularity := regularityScore(events, now)
	predicted := predictNextAccess(events, now)

	tier, tierScore, confidence := recommendTier(m, frequency, regularity, now)
	archival := archivalProbability(m, frequency, now)

	return &Insights{
		MemoryID:            m.ID,
		FrequencyScore:      frequency,
		RegularityScore:     regularity,
		PredictedNextAccess: predicted,
		OptimalTier:         tier,
		TierScore:           tierScore,
		Confidence:          confidence,
		ArchivalProbability: archival,
		LearningPhase:       learningPhase(m, frequency, regularity),
		EventCount:          len(events),
		AnalyzedAt:          now,
	}
}

// learningPhase classifies the memory's behaviour maturity.
func learningPhase(m *database.Memory, frequency, regularity float64) LearningPhase {
	switch {
	case m.AccessCount < 5:
		return PhaseBootstrap
	case frequency < 0.1 && m.AccessCount > 20:
		return PhaseDeclining
	case regularity > 0.7 && m.AccessCount > 10:
		return PhaseStable
	default:
		return PhaseLearning
	}
}

// recommendTier applies the additive rule set. Score and confidence
// both start at 0.5; each matched rule moves them. A recommendation
// matching the current tier gains extra confidence, and confidence is
// clamped to [0.1, 1.0].
func recommendTier(m *database.Memory, frequency, regularity float64, now time.Time) (database.Tier, float64, float64) {
	score := 0.5
	confidence := 0.5

	daysSinceAccess := now.Sub(m.AccessedAt).Hours() / 24

	if frequency > 0.7 && m.ContentSize < 1024 {
		score += 0.30
		confidence += 0.20
	}
	if m.AccessCount > 50 {
		score += 0.20
		confidence += 0.15
	}
	if regularity > 0.6 {
		score += 0.15
		confidence += 0.10
	}
	if m.ContentSize > database.CoreContentLimit && frequency < 0.3 {
		score -= 0.40
		confidence += 0.20
	}
	if daysSinceAccess > 7 {
		score -= 0.20
		confidence += 0.10
	}
	if m.Scope == database.ScopeProject && frequency < 0.4 {
		score -= 0.10
	}

	tier := database.TierLongterm
	if score > 0.6 {
		tier = database.TierCore
	}

	if tier == m.Tier {
		confidence += 0.10
	}

	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return tier, score, confidence
}

// archivalProbability sums age, staleness, and size signals into a
// [0,1] archival score.
func archivalProbability(m *database.Memory, frequency float64, now time.Time) float64 {
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	daysSinceAccess := now.Sub(m.AccessedAt).Hours() / 24

	var p float64
	if ageDays > 90 {
		p += 0.3
	}
	if ageDays > 180 {
		p += 0.2
	}
	if frequency < 0.1 {
		p += 0.4
	}
	if frequency < 0.05 {
		p += 0.2
	}
	if daysSinceAccess > 30 {
		p += 0.3
	}
	if daysSinceAccess > 60 {
		p += 0.2
	}
	if m.ContentSize > 5000 && frequency < 0.2 {
		p += 0.2
	}

	if p > 1 {
		return 1
	}
	return p
}
