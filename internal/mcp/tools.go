package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/search"
	"github.com/copilot-mcp/copilot-memory/internal/semantic"
)

// toolDefinitions lists the collaborator surface exposed over MCP.
func toolDefinitions() []Tool {
	tierProp := Property{Type: "string", Enum: []string{"core", "longterm"}}
	scopeProp := Property{Type: "string", Enum: []string{"global", "project"}}

	return []Tool{
		{
			Name:        "store_memory",
			Description: "Store a memory in the unified store. Core-tier memories are limited to 2KB; project scope requires project_id.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"content":    {Type: "string", Description: "Memory content"},
					"tier":       tierProp,
					"scope":      scopeProp,
					"project_id": {Type: "string", Description: "Required when scope is project"},
					"tags":       {Type: "array", Items: &Property{Type: "string"}},
					"metadata":   {Type: "object"},
					"session_id": {Type: "string"},
				},
				Required: []string{"content", "tier", "scope"},
			},
		},
		{
			Name:        "search_memory",
			Description: "Search memories by keyword (BM25 with recency/frequency/tier priors) or lexical-semantic similarity.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":      {Type: "string"},
					"tier":       tierProp,
					"scope":      scopeProp,
					"project_id": {Type: "string"},
					"limit":      {Type: "integer", Default: 10},
					"semantic":   {Type: "boolean", Description: "Use the local TF-IDF engine instead of BM25"},
					"session_id": {Type: "string"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory, optionally cascading to semantically similar memories.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"id":              {Type: "string"},
					"cascade_related": {Type: "boolean", Default: false},
					"threshold":       {Type: "number", Default: 0.7},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "check_duplicate",
			Description: "Check whether similar content is already stored. Never mutates.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"content":    {Type: "string"},
					"tier":       tierProp,
					"scope":      scopeProp,
					"project_id": {Type: "string"},
					"threshold":  {Type: "number", Default: 0.8},
				},
				Required: []string{"content"},
			},
		},
		{
			Name:        "migrate_memory",
			Description: "Move a memory between tiers. Moves into core re-validate size limits.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"id":          {Type: "string"},
					"target_tier": tierProp,
					"reason":      {Type: "string"},
				},
				Required: []string{"id", "target_tier"},
			},
		},
		{
			Name:        "memory_stats",
			Description: "Aggregate statistics: counts and sizes by tier and scope.",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "memory_analytics",
			Description: "Extended analytics: access rankings, creation counts, top tags, active projects.",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "start_session",
			Description: "Start an analysis session and return its ID.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"session_type": {Type: "string", Default: "general"},
					"metadata":     {Type: "object"},
				},
			},
		},
		{
			Name:        "record_access",
			Description: "Record an access event for a memory.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"id":           {Type: "string"},
					"access_type":  {Type: "string", Enum: []string{"read", "search_match", "context_load", "update"}},
					"context_type": {Type: "string"},
					"session_id":   {Type: "string"},
				},
				Required: []string{"id", "access_type"},
			},
		},
		{
			Name:        "analyze_memory",
			Description: "Compute behavioural insights for a memory: frequency, regularity, tier recommendation, archival probability.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"id": {Type: "string"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        "optimize_memories",
			Description: "Apply analyzer recommendations across the store: promote, demote, archive. Supports dry_run.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"dry_run": {Type: "boolean", Default: false},
				},
			},
		},
	}
}

// handleToolsCall dispatches one tool invocation.
func (s *Server) handleToolsCall(ctx context.Context, req Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()},
		}
	}

	if !s.limiter.Allow(params.Name) {
		return s.toolError(req, "rate limit exceeded, retry shortly")
	}

	start := time.Now()
	result, err := s.dispatch(params)
	durationMs := int(time.Since(start).Milliseconds())

	if recErr := s.db.RecordMetric("tool_"+params.Name, durationMs, 0); recErr != nil {
		s.log.Warn("failed to record metric", "tool", params.Name, "error", recErr)
	}

	if err != nil {
		s.log.LogError(params.Name, err)
		return s.toolError(req, err.Error())
	}

	s.log.Debug("tool call complete", "tool", params.Name, "duration_ms", durationMs)
	return s.toolResult(req, result)
}

// dispatch routes a tool call into the core.
func (s *Server) dispatch(params CallToolParams) (interface{}, error) {
	switch params.Name {
	case "store_memory":
		var p StoreMemoryParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		result, err := s.store.Store(&memory.StoreOptions{
			Content:   p.Content,
			Tier:      database.Tier(p.Tier),
			Scope:     database.Scope(p.Scope),
			ProjectID: p.ProjectID,
			Tags:      p.Tags,
			Metadata:  p.Metadata,
			SessionID: p.SessionID,
		})
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"id":      result.Memory.ID,
			"tier":    result.Memory.Tier,
			"scope":   result.Memory.Scope,
			"size":    result.Memory.ContentSize,
			"message": "memory stored",
		}
		if result.Warning != "" {
			out["warning"] = result.Warning
		}
		return out, nil

	case "search_memory":
		var p SearchMemoryParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		limit := -1
		if p.Limit != nil {
			limit = *p.Limit
		}
		if p.Semantic {
			return s.semanticSearch(&p, limit)
		}
		hits, err := s.searchEng.Search(&search.Options{
			Query:     p.Query,
			Tier:      database.Tier(p.Tier),
			Scope:     database.Scope(p.Scope),
			ProjectID: p.ProjectID,
			Limit:     limit,
			SessionID: p.SessionID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"results": hits, "count": len(hits)}, nil

	case "delete_memory":
		var p DeleteMemoryParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		result, err := s.store.Delete(p.ID, p.CascadeRelated, p.Threshold)
		if err != nil && memory.IsKind(err, memory.KindNotFound) {
			// NotFound surfaces as {deleted:false, message}, not a protocol error
			return map[string]interface{}{
				"deleted": false,
				"message": err.Error(),
			}, nil
		}
		if err != nil {
			return nil, err
		}
		return result, nil

	case "check_duplicate":
		var p CheckDuplicateParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		return s.store.CheckDuplicate(p.Content, database.Tier(p.Tier),
			database.Scope(p.Scope), p.ProjectID, p.Threshold)

	case "migrate_memory":
		var p MigrateMemoryParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		result, err := s.store.Migrate(p.ID, database.Tier(p.TargetTier), p.Reason)
		if err != nil && memory.IsKind(err, memory.KindNotFound) {
			return map[string]interface{}{
				"migrated": false,
				"message":  err.Error(),
			}, nil
		}
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{
			"migrated":  result.Migrated,
			"from_tier": result.FromTier,
			"to_tier":   result.ToTier,
			"message":   result.Message,
		}
		if result.Warning != "" {
			out["warning"] = result.Warning
		}
		return out, nil

	case "memory_stats":
		return s.store.Stats()

	case "memory_analytics":
		return s.store.Analytics()

	case "start_session":
		var p StartSessionParams
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &p); err != nil {
				return nil, memory.NewValidationError("invalid arguments: %v", err)
			}
		}
		id, err := s.analyzer.StartSession(p.SessionType, p.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"session_id": id}, nil

	case "record_access":
		var p RecordAccessParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		if err := s.analyzer.RecordAccess(p.ID, database.AccessType(p.AccessType),
			p.ContextType, p.SessionID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"recorded": true}, nil

	case "analyze_memory":
		var p AnalyzeMemoryParams
		if err := json.Unmarshal(params.Arguments, &p); err != nil {
			return nil, memory.NewValidationError("invalid arguments: %v", err)
		}
		return s.analyzer.Analyze(p.ID)

	case "optimize_memories":
		var p OptimizeMemoriesParams
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &p); err != nil {
				return nil, memory.NewValidationError("invalid arguments: %v", err)
			}
		}
		return s.lifecycle.Optimize(p.DryRun)

	default:
		return nil, fmt.Errorf("unknown tool: %s", params.Name)
	}
}

// semanticSearch runs a query through the local TF-IDF engine.
func (s *Server) semanticSearch(p *SearchMemoryParams, limit int) (interface{}, error) {
	if limit == 0 {
		return map[string]interface{}{"results": []interface{}{}, "count": 0}, nil
	}
	if limit < 0 {
		limit = s.cfg.Search.DefaultLimit
	}

	corpus, err := s.db.AllMemories()
	if err != nil {
		return nil, memory.NewStorageError(err, "failed to load corpus")
	}

	opts := semantic.DefaultOptions()
	opts.MaxResults = limit
	opts.MinScore = s.cfg.Search.MinScore
	opts.UseNgrams = s.cfg.Semantic.UseNgrams
	opts.FastMode = s.cfg.Semantic.FastMode

	results := s.semEng.Search(p.Query, corpus, opts)

	// Returned hits update access metadata like every other search path
	hits := make([]*memory.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &memory.SearchHit{
			Memory:    r.Memory,
			Score:     r.Score,
			MatchType: r.MatchType,
		})
	}
	s.store.TouchHits(hits, p.Query, p.SessionID)

	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

// toolResult wraps a successful result into the MCP envelope.
func (s *Server) toolResult(req Request, result interface{}) *Response {
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return s.toolError(req, fmt.Sprintf("failed to encode result: %v", err))
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: string(text)}},
		},
	}
}

// toolError wraps a failure into the MCP envelope with isError set.
func (s *Server) toolError(req Request, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: message}},
			IsError: true,
		},
	}
}
