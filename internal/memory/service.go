package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

var log = logging.GetLogger("memory")

// DefaultDuplicateThreshold is the similarity floor for duplicate detection.
const DefaultDuplicateThreshold = 0.8

// DefaultCascadeThreshold is the similarity floor for cascade delete.
const DefaultCascadeThreshold = 0.7

// similarityScorer is the slice of the semantic engine the store
// needs, abstracted so tests can fence it off.
type similarityScorer interface {
	Similarity(a, b *database.Memory) float64
	Invalidate()
}

// Service provides the business logic layer over the unified store.
type Service struct {
	db     *database.Database
	sem    similarityScorer
	config *config.Config
}

// NewService creates a new memory service.
func NewService(db *database.Database, sem similarityScorer, cfg *config.Config) *Service {
	return &Service{
		db:     db,
		sem:    sem,
		config: cfg,
	}
}

// DB exposes the underlying database to sibling engines.
func (s *Service) DB() *database.Database {
	return s.db
}

// StoreOptions contains options for storing a memory.
type StoreOptions struct {
	Content   string
	Tier      database.Tier
	Scope     database.Scope
	ProjectID string
	Tags      []string
	Metadata  map[string]any
	SessionID string
}

// StoreResult contains the result of storing a memory. Warning is
// non-empty when the core partition soft limit was exceeded.
type StoreResult struct {
	Memory  *database.Memory
	Warning string
}

// Store validates and persists a new memory. Scope and tier
// invariants fail with a validation error; the partition soft limit
// only produces a warning.
func (s *Service) Store(opts *StoreOptions) (*StoreResult, error) {
	content := opts.Content
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("content is required")
	}
	if !database.IsValidTier(opts.Tier) {
		return nil, NewValidationError("unknown tier: %s", opts.Tier)
	}
	if !database.IsValidScope(opts.Scope) {
		return nil, NewValidationError("unknown scope: %s", opts.Scope)
	}
	if opts.Scope == database.ScopeProject && opts.ProjectID == "" {
		return nil, NewValidationError("project_id is required for project scope")
	}

	size := len(content)
	if opts.Tier == database.TierCore && size > database.CoreContentLimit {
		return nil, NewValidationError(
			"core memory exceeds 2KB limit: %d bytes (use longterm tier)", size)
	}

	var warning string
	if opts.Tier == database.TierCore {
		partitionSize, err := s.db.CorePartitionSize(opts.Scope, opts.ProjectID)
		if err != nil {
			log.Warn("core partition size check failed", "error", err)
		} else if partitionSize+size > database.CorePartitionSoftLimit {
			warning = fmt.Sprintf(
				"core partition for scope=%s project=%s would reach %d bytes (soft limit %d)",
				opts.Scope, opts.ProjectID, partitionSize+size, database.CorePartitionSoftLimit)
			log.Warn("core partition soft limit exceeded",
				"scope", opts.Scope, "project_id", opts.ProjectID,
				"size", partitionSize+size)
		}
	}

	m := &database.Memory{
		Content:   content,
		Tier:      opts.Tier,
		Scope:     opts.Scope,
		ProjectID: opts.ProjectID,
		Tags:      normalizeTags(opts.Tags),
		Metadata:  opts.Metadata,
	}

	if err := s.db.CreateMemory(m); err != nil {
		return nil, NewStorageError(err, "failed to store memory")
	}

	// Writes invalidate the semantic index; the FTS triggers keep the
	// keyword index in sync on their own.
	s.sem.Invalidate()

	log.Info("memory stored", "id", m.ID, "tier", m.Tier, "scope", m.Scope, "size", size)
	return &StoreResult{Memory: m, Warning: warning}, nil
}

// Get retrieves a memory by ID without touching access metadata.
func (s *Service) Get(id string) (*database.Memory, error) {
	m, err := s.db.GetMemory(id)
	if err != nil {
		return nil, NewStorageError(err, "failed to get memory")
	}
	if m == nil {
		return nil, NewNotFoundError(id)
	}
	return m, nil
}

// DeleteResult describes a delete, including cascade counts.
type DeleteResult struct {
	Deleted        bool     `json:"deleted"`
	RelatedDeleted int      `json:"related_deleted"`
	Errors         []string `json:"errors,omitempty"`
	Message        string   `json:"message"`
}

// Delete removes a memory. With cascade enabled, memories whose
// similarity to the primary meets the threshold are removed first and
// the primary last. A related delete that fails is recorded in Errors
// and the cascade goes on; the primary is still deleted.
func (s *Service) Delete(id string, cascade bool, threshold float64) (*DeleteResult, error) {
	primary, err := s.db.GetMemory(id)
	if err != nil {
		return nil, NewStorageError(err, "failed to load memory")
	}
	if primary == nil {
		return &DeleteResult{
			Deleted: false,
			Message: fmt.Sprintf("memory not found: %s", id),
		}, NewNotFoundError(id)
	}

	result := &DeleteResult{}

	if cascade {
		if threshold <= 0 {
			threshold = DefaultCascadeThreshold
		}
		all, err := s.db.AllMemories()
		if err != nil {
			return nil, NewStorageError(err, "failed to scan for related memories")
		}
		for _, candidate := range all {
			if candidate.ID == id {
				continue
			}
			if s.sem.Similarity(primary, candidate) >= threshold {
				if err := s.db.DeleteMemory(candidate.ID); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("%s: %v", candidate.ID, err))
					continue
				}
				result.RelatedDeleted++
			}
		}
	}

	if err := s.db.DeleteMemory(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, NewNotFoundError(id)
		}
		return result, NewStorageError(err, "failed to delete memory")
	}
	result.Deleted = true
	result.Message = fmt.Sprintf("deleted %s (%d related)", id, result.RelatedDeleted)

	s.sem.Invalidate()

	log.Info("memory deleted", "id", id, "related_deleted", result.RelatedDeleted)
	return result, nil
}

// DuplicateHit is one near-duplicate candidate.
type DuplicateHit struct {
	Memory     *database.Memory `json:"memory"`
	Similarity float64          `json:"similarity"`
}

// DuplicateResult is the outcome of a duplicate check.
type DuplicateResult struct {
	IsDuplicate    bool           `json:"is_duplicate"`
	Duplicates     []DuplicateHit `json:"duplicates"`
	Recommendation string         `json:"recommendation"`
}

// CheckDuplicate reports memories whose similarity to the given
// content meets the threshold (0.8 by default). It never mutates.
func (s *Service) CheckDuplicate(content string, tier database.Tier, scope database.Scope, projectID string, threshold float64) (*DuplicateResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewValidationError("content is required")
	}
	if threshold == 0 {
		threshold = DefaultDuplicateThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, NewValidationError("threshold must be between 0 and 1: %v", threshold)
	}

	candidates, err := s.db.ListMemories(&database.MemoryFilters{
		Tier:      tier,
		Scope:     scope,
		ProjectID: projectID,
		Limit:     1000,
	})
	if err != nil {
		return nil, NewStorageError(err, "failed to scan for duplicates")
	}

	probe := &database.Memory{Content: content}
	result := &DuplicateResult{}
	for _, candidate := range candidates {
		if sim := s.sem.Similarity(probe, candidate); sim >= threshold {
			result.Duplicates = append(result.Duplicates, DuplicateHit{
				Memory:     candidate,
				Similarity: sim,
			})
		}
	}

	result.IsDuplicate = len(result.Duplicates) > 0
	if result.IsDuplicate {
		result.Recommendation = "similar content already stored; consider updating the existing memory instead"
	} else {
		result.Recommendation = "no duplicates found; safe to store"
	}
	return result, nil
}

// MigrateResult describes a tier migration attempt. Warning is
// non-empty when the destination core partition soft limit was
// exceeded; the migration still succeeds.
type MigrateResult struct {
	Migrated bool          `json:"migrated"`
	FromTier database.Tier `json:"from_tier"`
	ToTier   database.Tier `json:"to_tier"`
	Message  string        `json:"message"`
	Warning  string        `json:"warning,omitempty"`
}

// Migrate moves a memory between tiers. Moves into core re-validate
// the per-item and destination-partition limits. A rejected move is a
// result, not an error; the caller sees {migrated:false, message}.
func (s *Service) Migrate(id string, target database.Tier, reason string) (*MigrateResult, error) {
	if !database.IsValidTier(target) {
		return nil, NewValidationError("unknown tier: %s", target)
	}

	m, err := s.db.GetMemory(id)
	if err != nil {
		return nil, NewStorageError(err, "failed to load memory")
	}
	if m == nil {
		return nil, NewNotFoundError(id)
	}

	if m.Tier == target {
		return &MigrateResult{
			Migrated: false,
			FromTier: m.Tier,
			ToTier:   target,
			Message:  fmt.Sprintf("memory is already in %s tier", target),
		}, nil
	}

	var warning string
	if target == database.TierCore {
		if m.ContentSize > database.CoreContentLimit {
			return &MigrateResult{
				Migrated: false,
				FromTier: m.Tier,
				ToTier:   target,
				Message: fmt.Sprintf(
					"content exceeds the core tier 2KB limit: %d bytes", m.ContentSize),
			}, nil
		}
		partitionSize, err := s.db.CorePartitionSize(m.Scope, m.ProjectID)
		if err != nil {
			log.Warn("core partition size check failed", "error", err)
		} else if partitionSize+m.ContentSize > database.CorePartitionSoftLimit {
			warning = fmt.Sprintf(
				"core partition for scope=%s project=%s would reach %d bytes (soft limit %d)",
				m.Scope, m.ProjectID, partitionSize+m.ContentSize, database.CorePartitionSoftLimit)
			log.Warn("migration exceeds core partition soft limit",
				"id", id, "partition_size", partitionSize+m.ContentSize)
		}
	}

	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if reason != "" {
		metadata["migration_reason"] = reason
	}
	metadata["migrated_at"] = time.Now().Format(time.RFC3339)
	metadata["migrated_from"] = string(m.Tier)

	if err := s.db.UpdateTier(id, target, metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewNotFoundError(id)
		}
		return nil, NewStorageError(err, "failed to migrate memory")
	}

	// Migrations are the one mutation the access log records as an update
	if err := s.db.AppendAccessEvent(&database.AccessEvent{
		MemoryID:    id,
		AccessType:  database.AccessUpdate,
		ContextType: fmt.Sprintf("tier_migration_%s_to_%s", m.Tier, target),
	}); err != nil {
		log.Warn("failed to log migration access event", "id", id, "error", err)
	}

	s.sem.Invalidate()

	log.Info("memory migrated", "id", id, "from", m.Tier, "to", target, "reason", reason)
	return &MigrateResult{
		Migrated: true,
		FromTier: m.Tier,
		ToTier:   target,
		Message:  fmt.Sprintf("migrated from %s to %s", m.Tier, target),
		Warning:  warning,
	}, nil
}

// normalizeTags lowercases, trims, and deduplicates tags.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized != "" && !seen[normalized] {
			seen[normalized] = true
			result = append(result, normalized)
		}
	}
	return result
}
