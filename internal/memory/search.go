package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
)

// SearchOptions narrows a baseline keyword search.
type SearchOptions struct {
	Query     string
	Tier      database.Tier
	Scope     database.Scope
	ProjectID string
	// Limit: < 0 means the default (10); 0 returns nothing.
	Limit     int
	SessionID string
}

// SearchHit is a scored baseline search result.
type SearchHit struct {
	Memory    *database.Memory `json:"memory"`
	Score     float64          `json:"score"`
	MatchType string           `json:"match_type"`
}

// Search performs the baseline substring search over content and tags,
// ranks hits, and updates access metadata for every returned row. It
// is used standalone and as the fallback when an FTS query errors.
func (s *Service) Search(opts *SearchOptions) ([]*SearchHit, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, NewValidationError("query is required")
	}
	if opts.Limit == 0 {
		return []*SearchHit{}, nil
	}
	limit := opts.Limit
	if limit < 0 {
		limit = 10
	}

	// Unknown filter values yield empty results rather than errors
	if opts.Tier != "" && !database.IsValidTier(opts.Tier) {
		return []*SearchHit{}, nil
	}
	if opts.Scope != "" && !database.IsValidScope(opts.Scope) {
		return []*SearchHit{}, nil
	}

	// Over-fetch so ranking sees more than the final page
	candidates, err := s.db.SubstringSearch(opts.Query, &database.MemoryFilters{
		Tier:      opts.Tier,
		Scope:     opts.Scope,
		ProjectID: opts.ProjectID,
		Limit:     limit * 10,
	})
	if err != nil {
		return nil, NewStorageError(err, "search failed")
	}

	hits := s.RankMemories(opts.Query, candidates)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	s.TouchHits(hits, opts.Query, opts.SessionID)
	return hits, nil
}

// RankMemories scores candidates against the query with the baseline
// relevance model and returns them best first.
func (s *Service) RankMemories(query string, candidates []*database.Memory) []*SearchHit {
	hits := make([]*SearchHit, 0, len(candidates))
	for _, m := range candidates {
		hits = append(hits, &SearchHit{
			Memory:    m,
			Score:     BaselineScore(query, m),
			MatchType: MatchType(query, m),
		})
	}
	sortHits(hits)
	return hits
}

// TouchHits bumps access metadata and appends a search_match event for
// every returned row. Failures are logged at warn level and never fail
// the enclosing read.
func (s *Service) TouchHits(hits []*SearchHit, query, sessionID string) {
	terms := strings.Fields(strings.ToLower(query))
	for _, hit := range hits {
		if err := s.db.TouchMemoryAccess(hit.Memory.ID); err != nil {
			log.Warn("failed to update access metadata", "id", hit.Memory.ID, "error", err)
			continue
		}
		hit.Memory.AccessCount++
		hit.Memory.AccessedAt = time.Now()

		relevance := normalizeScore(hit.Score)
		if err := s.db.AppendAccessEvent(&database.AccessEvent{
			MemoryID:       hit.Memory.ID,
			AccessType:     database.AccessSearchMatch,
			ContextType:    "search",
			QueryTerms:     terms,
			RelevanceScore: &relevance,
			SessionID:      sessionID,
		}); err != nil {
			log.Warn("failed to log access event", "id", hit.Memory.ID, "error", err)
		}
	}
}

// BaselineScore implements the baseline relevance model:
// substring hits in content and tags dominate, the core tier gets a
// flat boost, and recency and access count break the rest apart.
func BaselineScore(query string, m *database.Memory) float64 {
	q := strings.ToLower(query)
	var score float64

	if strings.Contains(strings.ToLower(m.Content), q) {
		score += 100
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			score += 80
			break
		}
	}
	if m.Tier == database.TierCore {
		score += 50
	}

	days := time.Since(m.AccessedAt).Hours() / 24
	if recency := 30 - days; recency > 0 {
		score += recency
	}

	accessBonus := float64(m.AccessCount)
	if accessBonus > 20 {
		accessBonus = 20
	}
	score += accessBonus

	return score
}

// MatchType labels a hit: exact for a direct substring match in
// content or tags, semantic when at least 60% of query tokens appear
// as substrings of content tokens, fuzzy otherwise.
func MatchType(query string, m *database.Memory) string {
	q := strings.ToLower(query)

	if strings.Contains(strings.ToLower(m.Content), q) {
		return "exact"
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return "exact"
		}
	}

	queryTokens := strings.Fields(q)
	if len(queryTokens) > 0 {
		contentTokens := strings.Fields(strings.ToLower(m.Content))
		matched := 0
		for _, qt := range queryTokens {
			for _, ct := range contentTokens {
				if strings.Contains(ct, qt) {
					matched++
					break
				}
			}
		}
		if float64(matched)/float64(len(queryTokens)) >= 0.6 {
			return "semantic"
		}
	}
	return "fuzzy"
}

func sortHits(hits []*SearchHit) {
	// Descending score, ties broken by most recent access
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.AccessedAt.After(hits[j].Memory.AccessedAt)
	})
}

// normalizeScore maps a baseline score into [0,1] for the access log.
// 280 is the model's maximum (100+80+50+30+20).
func normalizeScore(score float64) float64 {
	normalized := score / 280
	if normalized > 1 {
		return 1
	}
	if normalized < 0 {
		return 0
	}
	return normalized
}
