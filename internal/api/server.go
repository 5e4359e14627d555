package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"market-analyst-bot/internal/auth"
	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/database"
	"market-analyst-bot/internal/logging"
	"market-analyst-bot/internal/pipeline"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ProductionMode bool
}

// Quota is the admission view the HTTP layer needs.
type Quota interface {
	Remaining(ctx context.Context, userID string) (int, error)
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	analyzer    *pipeline.Analyzer
	authService *auth.Service
	repo        *database.Repository
	cacheSvc    *cache.Service
	quota       Quota
	jobs        *pipeline.JobStore
	hub         *WSHub
	rateLimiter *RateLimiter
	config      ServerConfig
	logger      *logging.Logger
}

// NewServer creates a new API server. repo may be nil when the database is
// disabled; hub may be nil when websocket pushes are disabled.
func NewServer(
	config ServerConfig,
	analyzer *pipeline.Analyzer,
	authService *auth.Service,
	repo *database.Repository,
	cacheSvc *cache.Service,
	quota Quota,
	jobs *pipeline.JobStore,
	hub *WSHub,
	logger *logging.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		analyzer:    analyzer,
		authService: authService,
		repo:        repo,
		cacheSvc:    cacheSvc,
		quota:       quota,
		jobs:        jobs,
		hub:         hub,
		rateLimiter: NewRateLimiter(30, time.Minute),
		config:      config,
		logger:      logger.WithComponent("api"),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")

	v1.POST("/auth/register", s.handleRegister)
	v1.POST("/auth/login", s.handleLogin)

	authed := v1.Group("")
	authed.Use(auth.Middleware(s.authService.GetJWTManager()))
	authed.Use(s.rateLimitMiddleware())
	{
		authed.POST("/analyze", s.handleAnalyze)
		authed.GET("/quota", s.handleQuota)
		authed.GET("/jobs", s.handleListJobs)
		authed.GET("/jobs/:id", s.handleGetJob)
		authed.GET("/history", s.handleHistory)
		authed.GET("/ws", s.handleWebSocket)
	}

	admin := authed.Group("/admin")
	admin.Use(auth.RequireAdmin())
	{
		admin.POST("/users/:id/subscription", s.handleUpdateSubscription)
	}
}

// rateLimitMiddleware limits request rate per user
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)
		if userID == "" {
			userID = c.ClientIP()
		}
		if !s.rateLimiter.Allow(userID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	s.logger.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
