package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACCESS LOG OPERATIONS
// =============================================================================

// AppendAccessEvent appends one event to the access log. The log is
// append-only; nothing ever updates or deletes rows here.
func (d *Database) AppendAccessEvent(e *AccessEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	terms := "[]"
	if len(e.QueryTerms) > 0 {
		if b, err := json.Marshal(e.QueryTerms); err == nil {
			terms = string(b)
		}
	}
	userMeta := "{}"
	if len(e.UserMetadata) > 0 {
		if b, err := json.Marshal(e.UserMetadata); err == nil {
			userMeta = string(b)
		}
	}

	var relevance sql.NullFloat64
	if e.RelevanceScore != nil {
		relevance = sql.NullFloat64{Float64: *e.RelevanceScore, Valid: true}
	}

	_, err := d.db.Exec(`
		INSERT INTO memory_access_log (
			memory_id, access_type, access_timestamp, context_type,
			query_terms, relevance_score, session_id, user_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.MemoryID, string(e.AccessType), e.Timestamp, nullString(e.ContextType),
		terms, relevance, nullString(e.SessionID), userMeta,
	)
	if err != nil {
		return fmt.Errorf("failed to append access event: %w", err)
	}
	return nil
}

// GetAccessEvents returns events for a memory since the given time,
// oldest first.
func (d *Database) GetAccessEvents(memoryID string, since time.Time) ([]*AccessEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT memory_id, access_type, access_timestamp, context_type,
		       query_terms, relevance_score, session_id, user_metadata
		FROM memory_access_log
		WHERE memory_id = ? AND access_timestamp >= ?
		ORDER BY access_timestamp ASC
	`, memoryID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get access events: %w", err)
	}
	defer rows.Close()

	var events []*AccessEvent
	for rows.Next() {
		var e AccessEvent
		var accessType, termsJSON, userMetaJSON string
		var contextType, sessionID sql.NullString
		var relevance sql.NullFloat64

		err := rows.Scan(
			&e.MemoryID, &accessType, &e.Timestamp, &contextType,
			&termsJSON, &relevance, &sessionID, &userMetaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}

		e.AccessType = AccessType(accessType)
		e.ContextType = contextType.String
		e.SessionID = sessionID.String
		e.QueryTerms = ParseTags(termsJSON)
		e.UserMetadata = ParseMetadata(userMetaJSON)
		if relevance.Valid {
			v := relevance.Float64
			e.RelevanceScore = &v
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

// CountAccessEvents returns the total number of logged events for a memory.
func (d *Database) CountAccessEvents(memoryID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM memory_access_log WHERE memory_id = ?
	`, memoryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count access events: %w", err)
	}
	return count, nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession registers a new session and returns its ID.
func (d *Database) CreateSession(sessionType string, metadata map[string]any) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sessionType == "" {
		sessionType = "general"
	}

	id := uuid.New().String()
	meta := "{}"
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}

	_, err := d.db.Exec(`
		INSERT INTO memory_sessions (id, start_timestamp, session_type, session_metadata)
		VALUES (?, ?, ?, ?)
	`, id, time.Now(), sessionType, meta)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	return id, nil
}

// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
func (d *Database) GetSession(id string) (*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var s Session
	var metaJSON string
	err := d.db.QueryRow(`
		SELECT id, start_timestamp, session_type, session_metadata
		FROM memory_sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.StartTimestamp, &s.SessionType, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.SessionMetadata = ParseMetadata(metaJSON)
	return &s, nil
}

// =============================================================================
// BEHAVIORAL PATTERN OPERATIONS
// =============================================================================

// UpsertBehavioralPattern writes the analyzer's cached insights for a memory.
func (d *Database) UpsertBehavioralPattern(p *BehavioralPattern) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p.LastAnalysisTimestamp.IsZero() {
		p.LastAnalysisTimestamp = time.Now()
	}

	var predicted sql.NullTime
	if p.PredictedNextAccess != nil {
		predicted = sql.NullTime{Time: *p.PredictedNextAccess, Valid: true}
	}

	_, err := d.db.Exec(`
		INSERT INTO memory_behavioral_patterns (
			memory_id, access_frequency_score, access_regularity_score,
			predicted_next_access, tier_optimization_score, archival_probability,
			last_analysis_timestamp, analysis_confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			access_frequency_score = excluded.access_frequency_score,
			access_regularity_score = excluded.access_regularity_score,
			predicted_next_access = excluded.predicted_next_access,
			tier_optimization_score = excluded.tier_optimization_score,
			archival_probability = excluded.archival_probability,
			last_analysis_timestamp = excluded.last_analysis_timestamp,
			analysis_confidence = excluded.analysis_confidence
	`,
		p.MemoryID, p.AccessFrequencyScore, p.AccessRegularityScore,
		predicted, p.TierOptimizationScore, p.ArchivalProbability,
		p.LastAnalysisTimestamp, p.AnalysisConfidence,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert behavioral pattern: %w", err)
	}
	return nil
}

// GetBehavioralPattern retrieves cached insights for a memory.
// Returns (nil, nil) when the memory has never been analyzed.
func (d *Database) GetBehavioralPattern(memoryID string) (*BehavioralPattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRow(`
		SELECT memory_id, access_frequency_score, access_regularity_score,
		       predicted_next_access, tier_optimization_score, archival_probability,
		       last_analysis_timestamp, analysis_confidence
		FROM memory_behavioral_patterns WHERE memory_id = ?
	`, memoryID)

	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get behavioral pattern: %w", err)
	}
	return p, nil
}

// ListBehavioralPatterns returns all cached patterns, for the
// lifecycle manager's batch traversal.
func (d *Database) ListBehavioralPatterns() ([]*BehavioralPattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT memory_id, access_frequency_score, access_regularity_score,
		       predicted_next_access, tier_optimization_score, archival_probability,
		       last_analysis_timestamp, analysis_confidence
		FROM memory_behavioral_patterns
		ORDER BY memory_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list behavioral patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*BehavioralPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan behavioral pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// DeleteBehavioralPattern drops cached insights, e.g. after archival.
func (d *Database) DeleteBehavioralPattern(memoryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec("DELETE FROM memory_behavioral_patterns WHERE memory_id = ?", memoryID)
	if err != nil {
		return fmt.Errorf("failed to delete behavioral pattern: %w", err)
	}
	return nil
}

func scanPattern(s rowScanner) (*BehavioralPattern, error) {
	var p BehavioralPattern
	var predicted sql.NullTime
	err := s.Scan(
		&p.MemoryID, &p.AccessFrequencyScore, &p.AccessRegularityScore,
		&predicted, &p.TierOptimizationScore, &p.ArchivalProbability,
		&p.LastAnalysisTimestamp, &p.AnalysisConfidence,
	)
	if err != nil {
		return nil, err
	}
	if predicted.Valid {
		t := predicted.Time
		p.PredictedNextAccess = &t
	}
	return &p, nil
}

// =============================================================================
// PERFORMANCE METRICS
// =============================================================================

// RecordMetric records an operation timing sample.
func (d *Database) RecordMetric(metricType string, durationMs int, efficiencyScore float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO system_performance_metrics (metric_type, operation_duration_ms, efficiency_score, timestamp)
		VALUES (?, ?, ?, ?)
	`, metricType, durationMs, efficiencyScore, time.Now())
	return err
}
