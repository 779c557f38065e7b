package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

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

// Server is the REST API server over the memory core.
type Server struct {
	router     *gin.Engine
	db         *database.Database
	config     *config.Config
	store      *memory.Service
	searchEng  *search.Engine
	semEng     *semantic.Engine
	analyzer   *analyzer.Analyzer
	lifecycle  *lifecycle.Manager
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates a new REST API server.
func NewServer(db *database.Database, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		corsConfig := cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			MaxAge:          12 * time.Hour,
		}
		router.Use(cors.New(corsConfig))
	}

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(&ratelimit.Config{
			Enabled: true,
			Global: ratelimit.LimitConfig{
				RequestsPerSecond: cfg.RateLimit.Global.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.Global.BurstSize,
			},
		})
		router.Use(func(c *gin.Context) {
			if !limiter.Allow(c.FullPath()) {
				ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
				c.Abort()
				return
			}
			c.Next()
		})
	}

	semEng := semantic.NewEngine(cfg.Semantic.CacheSize)
	store := memory.NewService(db, semEng, cfg)
	searchEng := search.NewEngine(db, store, cfg)
	an := analyzer.New(db)
	lm := lifecycle.NewManager(store, an, db, cfg)

	s := &Server{
		router:    router,
		db:        db,
		config:    cfg,
		store:     store,
		searchEng: searchEng,
		semEng:    semEng,
		analyzer:  an,
		lifecycle: lm,
		log:       log,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		v1.POST("/memories", s.handleStore)
		v1.GET("/memories/search", s.handleSearch)
		v1.DELETE("/memories/:id", s.handleDelete)
		v1.POST("/memories/check-duplicate", s.handleCheckDuplicate)
		v1.POST("/memories/:id/migrate", s.handleMigrate)

		v1.GET("/stats", s.handleStats)
		v1.GET("/analytics", s.handleAnalytics)

		v1.POST("/sessions", s.handleStartSession)
		v1.POST("/memories/:id/access", s.handleRecordAccess)
		v1.GET("/memories/:id/insights", s.handleAnalyze)
		v1.POST("/optimize", s.handleOptimize)
	}
}

// Start begins listening on the configured host and port.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.log.Info("starting REST API server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
