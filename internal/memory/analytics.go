package memory

import (
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
)

// MemoryStats is the compact aggregate view of the store.
type MemoryStats struct {
	TotalMemories int                                      `json:"total_memories"`
	ByTier        map[database.Tier]*database.TierAggregate `json:"by_tier"`
	ByScope       map[database.Scope]int                   `json:"by_scope"`
	TotalSize     int                                      `json:"total_size"`
	// CoreUtilization is core size over the 20 KiB heuristic budget.
	// It is a heuristic and can exceed 1.0.
	CoreUtilization float64 `json:"core_utilization"`
}

// MemorySummary is the trimmed memory view used in analytics listings.
type MemorySummary struct {
	ID          string    `json:"id"`
	Preview     string    `json:"preview"`
	Tier        string    `json:"tier"`
	AccessCount int       `json:"access_count"`
	AccessedAt  time.Time `json:"accessed_at"`
}

// Analytics is the extended aggregate view.
type Analytics struct {
	Stats            *MemoryStats            `json:"stats"`
	MostAccessed     []MemorySummary         `json:"most_accessed"`
	LeastAccessed    []MemorySummary         `json:"least_accessed"`
	RecentlyAccessed []MemorySummary         `json:"recently_accessed"`
	CreatedToday     int                     `json:"created_today"`
	CreatedThisWeek  int                     `json:"created_this_week"`
	TopTags          []database.TagCount     `json:"top_tags"`
	ActiveProjects   []database.ProjectCount `json:"active_projects"`
}

// Stats returns the compact aggregates. Pure; never mutates.
func (s *Service) Stats() (*MemoryStats, error) {
	tiers, err := s.db.TierAggregates()
	if err != nil {
		return nil, NewStorageError(err, "failed to aggregate tiers")
	}
	scopes, err := s.db.ScopeCounts()
	if err != nil {
		return nil, NewStorageError(err, "failed to count scopes")
	}

	stats := &MemoryStats{
		ByTier:  tiers,
		ByScope: scopes,
	}
	for _, agg := range tiers {
		stats.TotalMemories += agg.Count
		stats.TotalSize += agg.TotalSize
	}
	if core, ok := tiers[database.TierCore]; ok {
		stats.CoreUtilization = float64(core.TotalSize) / float64(database.CorePartitionSoftLimit)
	}
	return stats, nil
}

// Analytics returns the extended aggregates. Pure; never mutates.
func (s *Service) Analytics() (*Analytics, error) {
	stats, err := s.Stats()
	if err != nil {
		return nil, err
	}

	const topN = 5

	most, err := s.db.MostAccessed(topN)
	if err != nil {
		return nil, NewStorageError(err, "failed to rank most accessed")
	}
	least, err := s.db.LeastAccessed(topN)
	if err != nil {
		return nil, NewStorageError(err, "failed to rank least accessed")
	}
	recent, err := s.db.RecentlyAccessed(topN)
	if err != nil {
		return nil, NewStorageError(err, "failed to rank recently accessed")
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	createdToday, err := s.db.CreatedSince(startOfDay)
	if err != nil {
		return nil, NewStorageError(err, "failed to count today's creations")
	}
	createdThisWeek, err := s.db.CreatedSince(now.AddDate(0, 0, -7))
	if err != nil {
		return nil, NewStorageError(err, "failed to count this week's creations")
	}

	topTags, err := s.db.TopTags(10)
	if err != nil {
		return nil, NewStorageError(err, "failed to tally tags")
	}
	projects, err := s.db.ActiveProjects()
	if err != nil {
		return nil, NewStorageError(err, "failed to list projects")
	}

	return &Analytics{
		Stats:            stats,
		MostAccessed:     summarize(most),
		LeastAccessed:    summarize(least),
		RecentlyAccessed: summarize(recent),
		CreatedToday:     createdToday,
		CreatedThisWeek:  createdThisWeek,
		TopTags:          topTags,
		ActiveProjects:   projects,
	}, nil
}

func summarize(memories []*database.Memory) []MemorySummary {
	summaries := make([]MemorySummary, 0, len(memories))
	for _, m := range memories {
		preview := m.Content
		if runes := []rune(preview); len(runes) > 80 {
			preview = string(runes[:80]) + "…"
		}
		summaries = append(summaries, MemorySummary{
			ID:          m.ID,
			Preview:     preview,
			Tier:        string(m.Tier),
			AccessCount: m.AccessCount,
			AccessedAt:  m.AccessedAt,
		})
	}
	return summaries
}
