package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/overseer/internal/config"
	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/system"
)

// Server is the HTTP transport in front of the per-project endpoints
type Server struct {
	config    *config.Config
	router    *Router
	registry  *Registry
	logger    *slog.Logger
	engine    *gin.Engine
	startedAt time.Time
	http      *http.Server
}

// NewServer creates the HTTP server and wires the routes
func NewServer(cfg *config.Config, router *Router, registry *Registry, logger *slog.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	// Middleware - order matters
	engine.Use(securityHeadersMiddleware())
	engine.Use(loggerMiddleware(logger))
	engine.Use(jsonBodyLimitMiddleware(constants.MaxBodySize))

	s := &Server{
		config:    cfg,
		router:    router,
		registry:  registry,
		logger:    logger,
		engine:    engine,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/endpoints", s.handleEndpoints)

	rpc := s.engine.Group(constants.RPCPathPrefix)
	rpc.Use(authMiddleware(s.config.Auth.Enabled, s.config.Auth.JWTSecret))
	rpc.POST("/:project", s.handleRPC)
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.ServerAddress
	if addr == "" {
		addr = ":8080"
	}

	s.http = &http.Server{
		Addr:           addr,
		Handler:        s.engine,
		ReadTimeout:    constants.ServerReadTimeout,
		WriteTimeout:   constants.ServerWriteTimeout,
		IdleTimeout:    constants.ServerIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info("rpc server listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Engine exposes the gin engine, used by tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleRPC(c *gin.Context) {
	project := c.Param("project")
	endpoint := s.router.Endpoint(project)
	if endpoint == nil {
		c.JSON(http.StatusNotFound, newErrorResponse(nil, CodeInvalidRequest,
			"unknown project: "+project, nil))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(nil, CodeParseError,
			"failed to read request body", nil))
		return
	}

	resp := endpoint.Handle(c.Request.Context(), body)
	if resp == nil {
		// Notification, acknowledged with no body
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	requests, errs := s.router.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"version":       constants.ServerVersion,
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"request_count": requests,
		"error_count":   errs,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	toolCalls, projectCalls := s.registry.Counters()
	requests, errs := s.router.Stats()

	stats := gin.H{
		"requests":      requests,
		"errors":        errs,
		"tool_calls":    toolCalls,
		"project_calls": projectCalls,
	}
	if host, err := system.Collect(); err == nil {
		stats["host"] = host
	} else {
		s.logger.Warn("failed to collect host stats", "error", err)
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleEndpoints(c *gin.Context) {
	projects := s.router.Projects()
	endpoints := make([]gin.H, 0, len(projects))
	for _, name := range projects {
		e := s.router.Endpoint(name)
		if e == nil {
			continue
		}
		requests, errs := e.Stats()
		endpoints = append(endpoints, gin.H{
			"project":  name,
			"path":     constants.RPCPathPrefix + "/" + name,
			"requests": requests,
			"errors":   errs,
			"recent":   e.RecentRequests(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// securityHeadersMiddleware adds security-related HTTP headers
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if c.Request.TLS != nil {
			c.Writer.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// jsonBodyLimitMiddleware limits the size of JSON request bodies
func jsonBodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != "GET" && c.Request.Method != "DELETE" && c.Request.Method != "OPTIONS" {
			contentType := c.GetHeader("Content-Type")
			if strings.Contains(contentType, "application/json") {
				if c.Request.ContentLength > maxBytes {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
						"error": "Request body too large",
					})
					return
				}
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
			}
		}
		c.Next()
	}
}

// loggerMiddleware logs HTTP requests
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.Request.RemoteAddr,
		)
	}
}
