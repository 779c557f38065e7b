package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateMemory inserts a new memory row. The caller is responsible for
// invariant checks; this layer only persists.
func (d *Database) CreateMemory(m *Memory) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m.ID == "" {
		m.ID = NewMemoryID(m.Tier, m.Scope)
	}

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.AccessedAt.IsZero() {
		m.AccessedAt = m.CreatedAt
	}
	m.ContentSize = len(m.Content)

	_, err := d.db.Exec(`
		INSERT INTO unified_memories (
			id, content, tier, scope, project_id, tags, metadata,
			content_size, created_at, accessed_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.Content, string(m.Tier), string(m.Scope), nullString(m.ProjectID),
		m.TagsJSON(), m.MetadataJSON(), m.ContentSize, m.CreatedAt, m.AccessedAt,
		m.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}

	return nil
}

// GetMemory retrieves a memory by ID. Returns (nil, nil) when absent.
func (d *Database) GetMemory(id string) (*Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRow(`
		SELECT id, content, tier, scope, project_id, tags, metadata,
		       content_size, created_at, accessed_at, access_count
		FROM unified_memories WHERE id = ?
	`, id)

	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// DeleteMemory removes a memory by ID. The FTS delete trigger mirrors
// the removal into memories_fts.
func (d *Database) DeleteMemory(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	result, err := d.db.Exec("DELETE FROM unified_memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// MemoryFilters narrows list and search operations.
type MemoryFilters struct {
	Tier      Tier
	Scope     Scope
	ProjectID string
	Limit     int
	Offset    int
}

func (f *MemoryFilters) whereClauses() ([]string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.Tier != "" {
		clauses = append(clauses, "tier = ?")
		args = append(args, string(f.Tier))
	}
	if f.Scope != "" {
		clauses = append(clauses, "scope = ?")
		args = append(args, string(f.Scope))
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	return clauses, args
}

// ListMemories retrieves memories with optional filters, newest first.
func (d *Database) ListMemories(filters *MemoryFilters) ([]*Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	clauses, args := filters.whereClauses()

	query := `
		SELECT id, content, tier, scope, project_id, tags, metadata,
		       content_size, created_at, accessed_at, access_count
		FROM unified_memories
	`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// SubstringSearch performs a case-insensitive substring match over
// content and tags. This is the baseline keyword search and the
// fallback path when an FTS query errors.
func (d *Database) SubstringSearch(query string, filters *MemoryFilters) ([]*Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	clauses, args := filters.whereClauses()
	pattern := "%" + strings.ToLower(query) + "%"
	clauses = append(clauses, "(lower(content) LIKE ? OR lower(tags) LIKE ?)")
	args = append(args, pattern, pattern)

	sqlQuery := `
		SELECT id, content, tier, scope, project_id, tags, metadata,
		       content_size, created_at, accessed_at, access_count
		FROM unified_memories
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY accessed_at DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := d.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("substring search failed: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// TouchMemoryAccess bumps access_count and accessed_at for a returned
// search hit. access_count never decreases.
func (d *Database) TouchMemoryAccess(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		UPDATE unified_memories
		SET access_count = access_count + 1, accessed_at = ?
		WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update access metadata: %w", err)
	}
	return nil
}

// UpdateTier moves a memory to a new tier and replaces its metadata.
// Content is immutable; tier and metadata are the only mutable fields
// besides access tracking.
func (d *Database) UpdateTier(id string, tier Tier, metadata map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := Memory{Metadata: metadata}
	result, err := d.db.Exec(`
		UPDATE unified_memories
		SET tier = ?, metadata = ?, accessed_at = ?
		WHERE id = ?
	`, string(tier), m.MetadataJSON(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CorePartitionSize returns the aggregate core content size for a
// (scope, project) partition, used for the soft capacity check.
func (d *Database) CorePartitionSize(scope Scope, projectID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total int
	var err error
	if scope == ScopeProject {
		err = d.db.QueryRow(`
			SELECT COALESCE(SUM(content_size), 0) FROM unified_memories
			WHERE tier = 'core' AND scope = 'project' AND project_id = ?
		`, projectID).Scan(&total)
	} else {
		err = d.db.QueryRow(`
			SELECT COALESCE(SUM(content_size), 0) FROM unified_memories
			WHERE tier = 'core' AND scope = 'global'
		`).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute core partition size: %w", err)
	}
	return total, nil
}

// AllMemories loads the entire store, used as the semantic engine's
// corpus snapshot and for cascade similarity scans.
func (d *Database) AllMemories() ([]*Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, content, tier, scope, project_id, tags, metadata,
		       content_size, created_at, accessed_at, access_count
		FROM unified_memories
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// CountMemories returns the total number of stored memories.
func (d *Database) CountMemories() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM unified_memories").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return count, nil
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryFields(s rowScanner) (*Memory, error) {
	var m Memory
	var tier, scope, tagsJSON, metadataJSON string
	var projectID sql.NullString

	err := s.Scan(
		&m.ID, &m.Content, &tier, &scope, &projectID, &tagsJSON, &metadataJSON,
		&m.ContentSize, &m.CreatedAt, &m.AccessedAt, &m.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	m.Tier = Tier(tier)
	m.Scope = Scope(scope)
	m.ProjectID = projectID.String
	m.Tags = ParseTags(tagsJSON)
	m.Metadata = ParseMetadata(metadataJSON)
	return &m, nil
}

func scanMemoryRow(row *sql.Row) (*Memory, error) {
	return scanMemoryFields(row)
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		m, err := scanMemoryFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
