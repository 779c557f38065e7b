package database

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TierAggregate summarizes one tier of the store.
type TierAggregate struct {
	Count       int     `json:"count"`
	TotalSize   int     `json:"total_size"`
	AverageSize float64 `json:"average_size"`
}

// TagCount is a tag with its occurrence count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ProjectCount is a project with its memory count.
type ProjectCount struct {
	ProjectID string `json:"project_id"`
	Count     int    `json:"count"`
}

// TierAggregates groups counts and sizes by tier.
func (d *Database) TierAggregates() (map[Tier]*TierAggregate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT tier, COUNT(*), COALESCE(SUM(content_size), 0), COALESCE(AVG(content_size), 0)
		FROM unified_memories
		GROUP BY tier
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tiers: %w", err)
	}
	defer rows.Close()

	result := map[Tier]*TierAggregate{
		TierCore:     {},
		TierLongterm: {},
	}
	for rows.Next() {
		var tier string
		agg := &TierAggregate{}
		if err := rows.Scan(&tier, &agg.Count, &agg.TotalSize, &agg.AverageSize); err != nil {
			return nil, fmt.Errorf("failed to scan tier aggregate: %w", err)
		}
		result[Tier(tier)] = agg
	}
	return result, rows.Err()
}

// ScopeCounts groups memory counts by scope.
func (d *Database) ScopeCounts() (map[Scope]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT scope, COUNT(*) FROM unified_memories GROUP BY scope
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count scopes: %w", err)
	}
	defer rows.Close()

	result := map[Scope]int{ScopeGlobal: 0, ScopeProject: 0}
	for rows.Next() {
		var scope string
		var count int
		if err := rows.Scan(&scope, &count); err != nil {
			return nil, fmt.Errorf("failed to scan scope count: %w", err)
		}
		result[Scope(scope)] = count
	}
	return result, rows.Err()
}

// MostAccessed returns the top-n memories by access count.
func (d *Database) MostAccessed(n int) ([]*Memory, error) {
	return d.orderedMemories("access_count DESC, accessed_at DESC", n)
}

// LeastAccessed returns the bottom-n memories by access count.
func (d *Database) LeastAccessed(n int) ([]*Memory, error) {
	return d.orderedMemories("access_count ASC, accessed_at ASC", n)
}

// RecentlyAccessed returns the n most recently accessed memories.
func (d *Database) RecentlyAccessed(n int) ([]*Memory, error) {
	return d.orderedMemories("accessed_at DESC", n)
}

func (d *Database) orderedMemories(order string, n int) ([]*Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 {
		n = 5
	}

	rows, err := d.db.Query(fmt.Sprintf(`
		SELECT id, content, tier, scope, project_id, tags, metadata,
		       content_size, created_at, accessed_at, access_count
		FROM unified_memories
		ORDER BY %s
		LIMIT %d
	`, order, n))
	if err != nil {
		return nil, fmt.Errorf("failed to order memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// CreatedSince counts memories created at or after the given time.
func (d *Database) CreatedSince(since time.Time) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM unified_memories WHERE created_at >= ?
	`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent creations: %w", err)
	}
	return count, nil
}

// TopTags tallies tag occurrences across the store and returns the
// top-n. Tags are stored as JSON arrays, so the tally happens here.
func (d *Database) TopTags(n int) ([]TagCount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 {
		n = 10
	}

	rows, err := d.db.Query(`SELECT tags FROM unified_memories WHERE tags != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan tags: %w", err)
		}
		for _, tag := range ParseTags(tagsJSON) {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" {
				counts[tag]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		result = append(result, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Tag < result[j].Tag
	})
	if len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// ActiveProjects returns project-scoped memory counts, busiest first.
func (d *Database) ActiveProjects() ([]ProjectCount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT project_id, COUNT(*) AS n
		FROM unified_memories
		WHERE scope = 'project' AND project_id IS NOT NULL
		GROUP BY project_id
		ORDER BY n DESC, project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectCount
	for rows.Next() {
		var p ProjectCount
		if err := rows.Scan(&p.ProjectID, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan project count: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
