// Package lifecycle applies analyzer recommendations across the
// store: promotions into core, demotions into longterm, and archival
// of cold memories. The manager owns the analyzer, never the other
// way around.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/analyzer"
	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

var log = logging.GetLogger("lifecycle")

// Action names one lifecycle decision.
type Action string

const (
	ActionPromote Action = "promote"
	ActionDemote  Action = "demote"
	ActionArchive Action = "archive"
	ActionNone    Action = "none"
)

// Recommendation is one per-memory decision, realized or not.
type Recommendation struct {
	MemoryID            string        `json:"memory_id"`
	Action              Action        `json:"action"`
	FromTier            database.Tier `json:"from_tier"`
	ToTier              database.Tier `json:"to_tier,omitempty"`
	Confidence          float64       `json:"confidence"`
	ArchivalProbability float64       `json:"archival_probability"`
	Reason              string        `json:"reason"`
}

// OptimizeResult aggregates one optimization pass.
type OptimizeResult struct {
	DryRun          bool             `json:"dry_run"`
	Scanned         int              `json:"scanned"`
	Promoted        int              `json:"promoted"`
	Demoted         int              `json:"demoted"`
	Archived        int              `json:"archived"`
	Recommendations []Recommendation `json:"recommendations"`
	Errors          []string         `json:"errors,omitempty"`
}

// Manager runs lifecycle optimization passes.
type Manager struct {
	store    *memory.Service
	analyzer *analyzer.Analyzer
	db       *database.Database
	config   *config.Config
}

// NewManager creates a lifecycle manager.
func NewManager(store *memory.Service, an *analyzer.Analyzer, db *database.Database, cfg *config.Config) *Manager {
	return &Manager{
		store:    store,
		analyzer: an,
		db:       db,
		config:   cfg,
	}
}

// Optimize traverses every memory with a stored behavioural pattern,
// recomputes fresh insights, and applies the resulting action. With
// dryRun the pass reports recommendations without mutating or logging.
// Per-row failures are collected; the batch never aborts.
func (m *Manager) Optimize(dryRun bool) (*OptimizeResult, error) {
	patterns, err := m.db.ListBehavioralPatterns()
	if err != nil {
		return nil, memory.NewStorageError(err, "failed to list behavioral patterns")
	}

	confidenceFloor := m.config.Lifecycle.ConfidenceThreshold
	archivalFloor := m.config.Lifecycle.ArchivalThreshold

	result := &OptimizeResult{DryRun: dryRun}
	for _, pattern := range patterns {
		result.Scanned++

		// Dry runs must not mutate: Inspect skips the pattern cache
		var insights *analyzer.Insights
		var err error
		if dryRun {
			insights, err = m.analyzer.Inspect(pattern.MemoryID)
		} else {
			insights, err = m.analyzer.Analyze(pattern.MemoryID)
		}
		if err != nil {
			if memory.IsKind(err, memory.KindNotFound) {
				// Memory deleted since last analysis; drop the stale pattern
				if !dryRun {
					m.db.DeleteBehavioralPattern(pattern.MemoryID)
				}
				continue
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: %v", pattern.MemoryID, err))
			continue
		}

		rec := m.decide(insights, confidenceFloor, archivalFloor)
		if rec.Action == ActionNone {
			continue
		}
		result.Recommendations = append(result.Recommendations, rec)

		if dryRun {
			continue
		}

		if err := m.apply(rec, result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: %v", rec.MemoryID, err))
		}
	}

	log.Info("optimization pass complete",
		"dry_run", dryRun, "scanned", result.Scanned,
		"promoted", result.Promoted, "demoted", result.Demoted,
		"archived", result.Archived, "errors", len(result.Errors))
	return result, nil
}

// decide turns insights into a single action. Archival outranks tier
// moves; anything below the confidence floor stays put.
func (m *Manager) decide(insights *analyzer.Insights, confidenceFloor, archivalFloor float64) Recommendation {
	current, err := m.store.Get(insights.MemoryID)
	if err != nil {
		return Recommendation{MemoryID: insights.MemoryID, Action: ActionNone}
	}

	rec := Recommendation{
		MemoryID:            insights.MemoryID,
		FromTier:            current.Tier,
		Confidence:          insights.Confidence,
		ArchivalProbability: insights.ArchivalProbability,
		Action:              ActionNone,
	}

	if insights.ArchivalProbability > archivalFloor && insights.Confidence > confidenceFloor {
		rec.Action = ActionArchive
		rec.ToTier = database.TierLongterm
		rec.Reason = fmt.Sprintf("archival probability %.2f with confidence %.2f",
			insights.ArchivalProbability, insights.Confidence)
		return rec
	}

	if insights.OptimalTier != current.Tier && insights.Confidence > confidenceFloor {
		rec.ToTier = insights.OptimalTier
		if insights.OptimalTier == database.TierCore {
			rec.Action = ActionPromote
			rec.Reason = fmt.Sprintf("tier score %.2f favors core", insights.TierScore)
		} else {
			rec.Action = ActionDemote
			rec.Reason = fmt.Sprintf("tier score %.2f favors longterm", insights.TierScore)
		}
	}

	return rec
}

// apply realizes one recommendation. Migrations go through the store
// so the access log records them.
func (m *Manager) apply(rec Recommendation, result *OptimizeResult) error {
	switch rec.Action {
	case ActionPromote, ActionDemote:
		migrated, err := m.store.Migrate(rec.MemoryID, rec.ToTier, rec.Reason)
		if err != nil {
			return err
		}
		if !migrated.Migrated {
			return fmt.Errorf("migration rejected: %s", migrated.Message)
		}
		if rec.Action == ActionPromote {
			result.Promoted++
		} else {
			result.Demoted++
		}
		return nil

	case ActionArchive:
		return m.archive(rec, result)
	}
	return nil
}

// archive flags the memory and parks it in longterm. Archived rows
// stay queryable; archival only removes them from the hot tier.
func (m *Manager) archive(rec Recommendation, result *OptimizeResult) error {
	mem, err := m.store.Get(rec.MemoryID)
	if err != nil {
		return err
	}

	metadata := mem.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["archived"] = true
	metadata["archived_at"] = time.Now().Format(time.RFC3339)
	metadata["archival_probability"] = rec.ArchivalProbability

	if err := m.db.UpdateTier(rec.MemoryID, database.TierLongterm, metadata); err != nil {
		return err
	}

	if mem.Tier != database.TierLongterm {
		if err := m.db.AppendAccessEvent(&database.AccessEvent{
			MemoryID:    rec.MemoryID,
			AccessType:  database.AccessUpdate,
			ContextType: fmt.Sprintf("tier_migration_%s_to_%s", mem.Tier, database.TierLongterm),
		}); err != nil {
			log.Warn("failed to log archival migration", "id", rec.MemoryID, "error", err)
		}
	}

	result.Archived++
	return nil
}
