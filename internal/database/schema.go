package database

// SchemaVersion is the current schema version
const SchemaVersion = 1

// CoreSchema contains the main table definitions for the unified
// memory store: unified_memories plus the access log, behavioural
// patterns, sessions, and performance metric tables.
const CoreSchema = `
PRAGMA foreign_keys = ON;

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- =============================================================================
-- UNIFIED MEMORIES TABLE
-- Primary content storage across both tiers and both scopes
-- =============================================================================
CREATE TABLE IF NOT EXISTS unified_memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	tier TEXT NOT NULL CHECK (tier IN ('core', 'longterm')),
	scope TEXT NOT NULL CHECK (scope IN ('global', 'project')),
	project_id TEXT,
	tags TEXT NOT NULL DEFAULT '[]',      -- JSON array: ["tag1", "tag2"]
	metadata TEXT NOT NULL DEFAULT '{}',  -- JSON object
	content_size INTEGER NOT NULL CHECK (content_size >= 0),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	access_count INTEGER NOT NULL DEFAULT 0 CHECK (access_count >= 0),
	CHECK ((scope = 'project' AND project_id IS NOT NULL) OR scope = 'global')
);

CREATE INDEX IF NOT EXISTS idx_memories_tier_scope ON unified_memories(tier, scope);
CREATE INDEX IF NOT EXISTS idx_memories_project ON unified_memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_content_lower ON unified_memories(lower(content));
CREATE INDEX IF NOT EXISTS idx_memories_tags_lower ON unified_memories(lower(tags));
CREATE INDEX IF NOT EXISTS idx_memories_tier_access ON unified_memories(tier, access_count, accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_tier_size ON unified_memories(tier, content_size);

-- =============================================================================
-- MEMORY ACCESS LOG TABLE
-- Append-only log of every read, search match, context load, and update
-- =============================================================================
CREATE TABLE IF NOT EXISTS memory_access_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id TEXT NOT NULL,
	access_type TEXT NOT NULL CHECK (
		access_type IN ('read', 'search_match', 'context_load', 'update')
	),
	access_timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	context_type TEXT,
	query_terms TEXT NOT NULL DEFAULT '[]',   -- JSON array
	relevance_score REAL,
	session_id TEXT,
	user_metadata TEXT NOT NULL DEFAULT '{}'  -- JSON object
);

CREATE INDEX IF NOT EXISTS idx_access_log_memory ON memory_access_log(memory_id, access_timestamp);
CREATE INDEX IF NOT EXISTS idx_access_log_session ON memory_access_log(session_id);

-- =============================================================================
-- BEHAVIORAL PATTERNS TABLE
-- Cached analyzer output, one row per analyzed memory
-- =============================================================================
CREATE TABLE IF NOT EXISTS memory_behavioral_patterns (
	memory_id TEXT PRIMARY KEY,
	access_frequency_score REAL NOT NULL DEFAULT 0,
	access_regularity_score REAL NOT NULL DEFAULT 0,
	predicted_next_access DATETIME,
	tier_optimization_score REAL NOT NULL DEFAULT 0.5,
	archival_probability REAL NOT NULL DEFAULT 0,
	last_analysis_timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	analysis_confidence REAL NOT NULL DEFAULT 0.5
);

-- =============================================================================
-- SESSIONS TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS memory_sessions (
	id TEXT PRIMARY KEY,
	start_timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	session_type TEXT NOT NULL DEFAULT 'general',
	session_metadata TEXT NOT NULL DEFAULT '{}'
);

-- =============================================================================
-- PERFORMANCE METRICS TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS system_performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_type TEXT NOT NULL,
	operation_duration_ms INTEGER NOT NULL,
	efficiency_score REAL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// FTS5Schema contains the full-text search configuration.
// Using a standalone FTS5 table (stores own content) for reliable
// trigger behaviour; non-text columns ride along UNINDEXED so hits can
// be filtered and scored without a join when needed.
const FTS5Schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	memory_id UNINDEXED,
	content,
	tags,
	metadata,
	tier UNINDEXED,
	project_id UNINDEXED,
	created_at UNINDEXED,
	accessed_at UNINDEXED,
	access_count UNINDEXED
);

-- Insert trigger: add new content to the FTS index
CREATE TRIGGER IF NOT EXISTS unified_memories_fts_insert AFTER INSERT ON unified_memories BEGIN
	INSERT INTO memories_fts(memory_id, content, tags, metadata, tier, project_id, created_at, accessed_at, access_count)
	VALUES (new.id, new.content, new.tags, new.metadata, new.tier, new.project_id, new.created_at, new.accessed_at, new.access_count);
END;

-- Delete trigger: remove content from the FTS index
CREATE TRIGGER IF NOT EXISTS unified_memories_fts_delete AFTER DELETE ON unified_memories BEGIN
	DELETE FROM memories_fts WHERE memory_id = old.id;
END;

-- Update trigger: mirror row state into the FTS index
CREATE TRIGGER IF NOT EXISTS unified_memories_fts_update AFTER UPDATE ON unified_memories BEGIN
	UPDATE memories_fts SET
		content = new.content,
		tags = new.tags,
		metadata = new.metadata,
		tier = new.tier,
		project_id = new.project_id,
		created_at = new.created_at,
		accessed_at = new.accessed_at,
		access_count = new.access_count
	WHERE memory_id = old.id;
END;
`
