package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/copilot-mcp/copilot-memory/internal/analyzer"
	"github.com/copilot-mcp/copilot-memory/internal/database"
	"github.com/copilot-mcp/copilot-memory/internal/lifecycle"
	"github.com/copilot-mcp/copilot-memory/internal/logging"
	"github.com/copilot-mcp/copilot-memory/internal/memory"
	"github.com/copilot-mcp/copilot-memory/internal/ratelimit"
	"github.com/copilot-mcp/copilot-memory/internal/search"
	"github.com/copilot-mcp/copilot-memory/internal/semantic"
	"github.com/copilot-mcp/copilot-memory/pkg/config"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "copilot-memory"
	ServerVersion   = "1.0.0"
)

// Server implements the MCP stdio server.
type Server struct {
	db        *database.Database
	cfg       *config.Config
	store     *memory.Service
	searchEng *search.Engine
	semEng    *semantic.Engine
	analyzer  *analyzer.Analyzer
	lifecycle *lifecycle.Manager
	limiter   *ratelimit.Limiter
	log       *logging.Logger

	stdin  io.Reader
	stdout io.Writer
}

// NewServer wires the full memory core behind the MCP surface.
func NewServer(db *database.Database, cfg *config.Config) *Server {
	log := logging.GetLogger("mcp")
	log.Info("initializing MCP server", "version", ServerVersion, "protocol", ProtocolVersion)

	semEng := semantic.NewEngine(cfg.Semantic.CacheSize)
	store := memory.NewService(db, semEng, cfg)
	searchEng := search.NewEngine(db, store, cfg)
	an := analyzer.New(db)
	lm := lifecycle.NewManager(store, an, db, cfg)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(&ratelimit.Config{
			Enabled: true,
			Global: ratelimit.LimitConfig{
				RequestsPerSecond: cfg.RateLimit.Global.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.Global.BurstSize,
			},
			Tools: convertToolLimits(cfg.RateLimit.Tools),
		})
		log.Info("rate limiting enabled", "global_rps", cfg.RateLimit.Global.RequestsPerSecond)
	}

	return &Server{
		db:        db,
		cfg:       cfg,
		store:     store,
		searchEng: searchEng,
		semEng:    semEng,
		analyzer:  an,
		lifecycle: lm,
		limiter:   limiter,
		log:       log,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}
}

func convertToolLimits(tools []config.ToolLimitConfig) []ratelimit.ToolLimit {
	result := make([]ratelimit.ToolLimit, len(tools))
	for i, t := range tools {
		result[i] = ratelimit.ToolLimit{
			Name:              t.Name,
			RequestsPerSecond: t.RequestsPerSecond,
			BurstSize:         t.BurstSize,
		}
	}
	return result
}

// Store exposes the memory service for sibling surfaces and tests.
func (s *Server) Store() *memory.Service {
	return s.store
}

// Run starts the MCP server main loop, reading one JSON-RPC request
// per line until stdin closes or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server main loop")
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		response := s.handleRequest(ctx, line)
		if response != nil {
			s.sendResponse(response)
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.Error("scanner error", "error", err)
		return fmt.Errorf("scanner error: %w", err)
	}

	s.log.Info("MCP server shutdown complete")
	return nil
}

// handleRequest processes a single JSON-RPC request line.
func (s *Server) handleRequest(ctx context.Context, line string) *Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.log.Error("failed to parse request", "error", err)
		return &Response{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &RPCError{
				Code:    InvalidRequest,
				Message: "Invalid Request",
				Data:    "jsonrpc must be '2.0'",
			},
		}
	}

	switch req.Method {
	case "initialize":
		s.log.Info("handling initialize request")
		return s.handleInitialize(req)
	case "initialized":
		// Notification, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		s.log.Warn("method not found", "method", req.Method)
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &RPCError{
				Code:    MethodNotFound,
				Message: "Method not found",
				Data:    req.Method,
			},
		}
	}
}

func (s *Server) handleInitialize(req Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools: &ToolsCapability{ListChanged: false},
			},
			ServerInfo: ServerInfo{
				Name:        ServerName,
				Version:     ServerVersion,
				Description: "Persistent tiered memory store with keyword and lexical-semantic retrieval",
			},
		},
	}
}

func (s *Server) handleToolsList(req Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolsListResult{Tools: toolDefinitions()},
	}
}

func (s *Server) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}
	fmt.Fprintf(s.stdout, "%s\n", data)
}
