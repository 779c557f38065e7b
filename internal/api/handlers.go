package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/search"
	"github.com/copilot-mcp/copilot-memory/internal/semantic"
)

// StoreRequest is the body of POST /memories.
type StoreRequest struct {
	Content   string         `json:"content" binding:"required"`
	Tier      string         `json:"tier" binding:"required"`
	Scope     string         `json:"scope" binding:"required"`
	ProjectID string         `json:"project_id"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata"`
	SessionID string         `json:"session_id"`
}

// MigrateRequest is the body of POST /memories/:id/migrate.
type MigrateRequest struct {
	TargetTier string `json:"target_tier" binding:"required"`
	Reason     string `json:"reason"`
}

// CheckDuplicateRequest is the body of POST /memories/check-duplicate.
type CheckDuplicateRequest struct {
	Content   string  `json:"content" binding:"required"`
	Tier      string  `json:"tier"`
	Scope     string  `json:"scope"`
	ProjectID string  `json:"project_id"`
	Threshold float64 `json:"threshold"`
}

// SessionRequest is the body of POST /sessions.
type SessionRequest struct {
	SessionType string         `json:"session_type"`
	Metadata    map[string]any `json:"metadata"`
}

// AccessRequest is the body of POST /memories/:id/access.
type AccessRequest struct {
	AccessType  string `json:"access_type" binding:"required"`
	ContextType string `json:"context_type"`
	SessionID   string `json:"session_id"`
}

func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.db.GetFileStats()
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	SuccessResponse(c, "ok", gin.H{
		"schema_version": stats.SchemaVersion,
		"memories":       stats.MemoryCount,
	})
}

func (s *Server) handleStore(c *gin.Context) {
	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.store.Store(&memory.StoreOptions{
		Content:   req.Content,
		Tier:      database.Tier(req.Tier),
		Scope:     database.Scope(req.Scope),
		ProjectID: req.ProjectID,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
		SessionID: req.SessionID,
	})
	if err != nil {
		CoreError(c, err)
		return
	}

	message := "memory stored"
	if result.Warning != "" {
		message = result.Warning
	}
	CreatedResponse(c, message, result.Memory)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		ErrorResponse(c, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := -1
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	if c.Query("semantic") == "true" {
		s.handleSemanticSearch(c, query, limit)
		return
	}

	results, err := s.searchEng.Search(&search.Options{
		Query:     query,
		Tier:      database.Tier(c.Query("tier")),
		Scope:     database.Scope(c.Query("scope")),
		ProjectID: c.Query("project_id"),
		Limit:     limit,
		SessionID: c.Query("session_id"),
	})
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "search complete", gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleSemanticSearch(c *gin.Context, query string, limit int) {
	if limit == 0 {
		SuccessResponse(c, "search complete", gin.H{"results": []any{}, "count": 0})
		return
	}
	if limit < 0 {
		limit = s.config.Search.DefaultLimit
	}

	corpus, err := s.db.AllMemories()
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	opts := semantic.DefaultOptions()
	opts.MaxResults = limit
	opts.MinScore = s.config.Search.MinScore
	opts.UseNgrams = s.config.Semantic.UseNgrams
	opts.FastMode = s.config.Semantic.FastMode

	results := s.semEng.Search(query, corpus, opts)

	hits := make([]*memory.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &memory.SearchHit{Memory: r.Memory, Score: r.Score, MatchType: r.MatchType})
	}
	s.store.TouchHits(hits, query, c.Query("session_id"))

	SuccessResponse(c, "search complete", gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleDelete(c *gin.Context) {
	cascade := c.Query("cascade") == "true"
	threshold := 0.0
	if raw := c.Query("threshold"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			threshold = parsed
		}
	}

	result, err := s.store.Delete(c.Param("id"), cascade, threshold)
	if err != nil {
		if memory.IsKind(err, memory.KindNotFound) {
			c.JSON(http.StatusNotFound, result)
			return
		}
		CoreError(c, err)
		return
	}
	SuccessResponse(c, result.Message, result)
}

func (s *Server) handleCheckDuplicate(c *gin.Context) {
	var req CheckDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.store.CheckDuplicate(req.Content, database.Tier(req.Tier),
		database.Scope(req.Scope), req.ProjectID, req.Threshold)
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, result.Recommendation, result)
}

func (s *Server) handleMigrate(c *gin.Context) {
	var req MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.store.Migrate(c.Param("id"), database.Tier(req.TargetTier), req.Reason)
	if err != nil {
		CoreError(c, err)
		return
	}

	message := result.Message
	if result.Warning != "" {
		message = result.Warning
	}
	SuccessResponse(c, message, result)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats()
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "stats", stats)
}

func (s *Server) handleAnalytics(c *gin.Context) {
	analytics, err := s.store.Analytics()
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "analytics", analytics)
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.analyzer.StartSession(req.SessionType, req.Metadata)
	if err != nil {
		CoreError(c, err)
		return
	}
	CreatedResponse(c, "session started", gin.H{"session_id": id})
}

func (s *Server) handleRecordAccess(c *gin.Context) {
	var req AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	err := s.analyzer.RecordAccess(c.Param("id"), database.AccessType(req.AccessType),
		req.ContextType, req.SessionID)
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "access recorded", nil)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	insights, err := s.analyzer.Analyze(c.Param("id"))
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "insights computed", insights)
}

func (s *Server) handleOptimize(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"
	result, err := s.lifecycle.Optimize(dryRun)
	if err != nil {
		CoreError(c, err)
		return
	}
	SuccessResponse(c, "optimization complete", result)
}
