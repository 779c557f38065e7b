package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier identifies the storage tier of a memory.
type Tier string

const (
	// TierCore is the small, always-resident tier (<= 2 KiB per item).
	TierCore Tier = "core"
	// TierLongterm is the unbounded tier.
	TierLongterm Tier = "longterm"
)

// Scope identifies the visibility partition of a memory.
type Scope string

const (
	// ScopeGlobal memories are visible across all projects.
	ScopeGlobal Scope = "global"
	// ScopeProject memories belong to a single project.
	ScopeProject Scope = "project"
)

// CoreContentLimit is the maximum content size in bytes for a core memory.
const CoreContentLimit = 2048

// CorePartitionSoftLimit is the soft aggregate core size per
// (scope, project) partition. Exceeding it yields a warning, not an error.
const CorePartitionSoftLimit = 20480

// IsValidTier reports whether t is a known tier.
func IsValidTier(t Tier) bool {
	return t == TierCore || t == TierLongterm
}

// IsValidScope reports whether s is a known scope.
func IsValidScope(s Scope) bool {
	return s == ScopeGlobal || s == ScopeProject
}

// Memory is a row of unified_memories.
type Memory struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Tier        Tier           `json:"tier"`
	Scope       Scope          `json:"scope"`
	ProjectID   string         `json:"project_id,omitempty"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata"`
	ContentSize int            `json:"content_size"`
	CreatedAt   time.Time      `json:"created_at"`
	AccessedAt  time.Time      `json:"accessed_at"`
	AccessCount int            `json:"access_count"`
}

// NewMemoryID allocates a collision-resistant identifier. The embedded
// tier/scope/timestamp are for debuggability only and are never parsed.
func NewMemoryID(tier Tier, scope Scope) string {
	u := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s_%d_%s", tier, scope, time.Now().UnixMilli(), u[:12])
}

// TagsJSON serializes tags as a JSON array string for storage.
func (m *Memory) TagsJSON() string {
	if len(m.Tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(m.Tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// MetadataJSON serializes metadata as a JSON object string for storage.
func (m *Memory) MetadataJSON() string {
	if len(m.Metadata) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m.Metadata)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseTags decodes a stored JSON array of tags. Malformed input
// yields nil rather than an error.
func ParseTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// ParseMetadata decodes a stored JSON metadata object. Malformed input
// yields an empty map rather than an error.
func ParseMetadata(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return map[string]any{}
	}
	if md == nil {
		md = map[string]any{}
	}
	return md
}

// AccessType classifies an access-log event.
type AccessType string

const (
	AccessRead        AccessType = "read"
	AccessSearchMatch AccessType = "search_match"
	AccessContextLoad AccessType = "context_load"
	AccessUpdate      AccessType = "update"
)

// AccessEvent is a row of memory_access_log.
type AccessEvent struct {
	MemoryID       string     `json:"memory_id"`
	AccessType     AccessType `json:"access_type"`
	Timestamp      time.Time  `json:"access_timestamp"`
	ContextType    string     `json:"context_type,omitempty"`
	QueryTerms     []string   `json:"query_terms,omitempty"`
	RelevanceScore *float64   `json:"relevance_score,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	UserMetadata   map[string]any `json:"user_metadata,omitempty"`
}

// BehavioralPattern is a row of memory_behavioral_patterns.
type BehavioralPattern struct {
	MemoryID              string     `json:"memory_id"`
	AccessFrequencyScore  float64    `json:"access_frequency_score"`
	AccessRegularityScore float64    `json:"access_regularity_score"`
	PredictedNextAccess   *time.Time `json:"predicted_next_access,omitempty"`
	TierOptimizationScore float64    `json:"tier_optimization_score"`
	ArchivalProbability   float64    `json:"archival_probability"`
	LastAnalysisTimestamp time.Time  `json:"last_analysis_timestamp"`
	AnalysisConfidence    float64    `json:"analysis_confidence"`
}

// Session is a row of memory_sessions.
type Session struct {
	ID              string         `json:"id"`
	StartTimestamp  time.Time      `json:"start_timestamp"`
	SessionType     string         `json:"session_type"`
	SessionMetadata map[string]any `json:"session_metadata,omitempty"`
}
