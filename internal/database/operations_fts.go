package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// FTSHit is a raw full-text hit with the engine's native BM25 score.
type FTSHit struct {
	Memory      *Memory
	NativeScore float64 // |bm25|; SQLite returns negative values, lower is better
}

// FTSSearch runs a MATCH query against memories_fts and hydrates each
// hit from unified_memories. The match expression is built by the
// search engine; this layer only executes it.
func (d *Database) FTSSearch(matchExpr string, filters *MemoryFilters) ([]*FTSHit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if matchExpr == "" {
		return nil, fmt.Errorf("match expression is required")
	}

	var clauses []string
	var args []interface{}
	args = append(args, matchExpr)

	if filters.Tier != "" {
		clauses = append(clauses, "m.tier = ?")
		args = append(args, string(filters.Tier))
	}
	if filters.Scope != "" {
		clauses = append(clauses, "m.scope = ?")
		args = append(args, string(filters.Scope))
	}
	if filters.ProjectID != "" {
		clauses = append(clauses, "m.project_id = ?")
		args = append(args, filters.ProjectID)
	}

	sqlQuery := `
		SELECT m.id, m.content, m.tier, m.scope, m.project_id, m.tags, m.metadata,
		       m.content_size, m.created_at, m.accessed_at, m.access_count,
		       bm25(memories_fts) AS rank
		FROM memories_fts fts
		JOIN unified_memories m ON m.id = fts.memory_id
		WHERE memories_fts MATCH ?
	`
	if len(clauses) > 0 {
		sqlQuery += " AND " + strings.Join(clauses, " AND ")
	}
	sqlQuery += " ORDER BY rank"

	limit := filters.Limit
	if limit <= 0 {
		limit = 10
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := d.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	defer rows.Close()

	var hits []*FTSHit
	for rows.Next() {
		var m Memory
		var tier, scope, tagsJSON, metadataJSON string
		var projectID sql.NullString
		var rank float64

		err := rows.Scan(
			&m.ID, &m.Content, &tier, &scope, &projectID, &tagsJSON, &metadataJSON,
			&m.ContentSize, &m.CreatedAt, &m.AccessedAt, &m.AccessCount, &rank,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fts hit: %w", err)
		}

		m.Tier = Tier(tier)
		m.Scope = Scope(scope)
		m.ProjectID = projectID.String
		m.Tags = ParseTags(tagsJSON)
		m.Metadata = ParseMetadata(metadataJSON)

		// SQLite bm25() returns negative values by convention
		if rank < 0 {
			rank = -rank
		}

		hits = append(hits, &FTSHit{Memory: &m, NativeScore: rank})
	}

	return hits, rows.Err()
}

// RebuildFTS drops every FTS row and reinserts from unified_memories.
func (d *Database) RebuildFTS() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Info("rebuilding FTS index")

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM memories_fts"); err != nil {
		return fmt.Errorf("failed to clear fts index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO memories_fts(memory_id, content, tags, metadata, tier, project_id, created_at, accessed_at, access_count)
		SELECT id, content, tags, metadata, tier, project_id, created_at, accessed_at, access_count
		FROM unified_memories
	`); err != nil {
		return fmt.Errorf("failed to repopulate fts index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}

	log.Info("FTS index rebuilt")
	return nil
}

// OptimizeFTS invokes the FTS5 optimize command to merge index segments.
func (d *Database) OptimizeFTS() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`INSERT INTO memories_fts(memories_fts) VALUES('optimize')`)
	if err != nil {
		return fmt.Errorf("fts optimize failed: %w", err)
	}
	return nil
}
