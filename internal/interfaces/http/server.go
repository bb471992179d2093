// Package http exposes the workflow engine over a JSON API.
// Handlers only translate requests into engine and service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/bi-workflow/internal/application/service"
	"github.com/garyjia/bi-workflow/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrorRecorder counts failed decisions by error kind
type ErrorRecorder interface {
	RecordDecideError(err error)
}

// HealthFunc reports overall health plus per-component detail
type HealthFunc func() (healthy bool, components interface{})

// RequestIDHeader is echoed back on every response
const RequestIDHeader = "X-Request-ID"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Dependencies groups what the handlers call into
type Dependencies struct {
	Engine    workflow.ApprovalEngine
	Templates service.TemplateService
	Queries   service.QueryService
	// Errors, Metrics and Health are optional
	Errors  ErrorRecorder
	Metrics http.Handler
	Health  HealthFunc
	Logger  Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestID())
	s.router.Use(s.loggingMiddleware())
}

// requestID reuses the caller's X-Request-ID or assigns one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"route", path,
			"status", status,
			"latency", time.Since(start).String(),
			"request_id", c.GetString(RequestIDHeader),
			"user_id", c.GetHeader(UserHeader),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request failed", append(kv, "errors", c.Errors.String())...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps)

	s.router.GET("/health", handlers.HealthCheck)
	if s.deps.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1/workflows")
	{
		api.POST("/templates", handlers.CreateTemplate)
		api.GET("/templates", handlers.ListTemplates)
		api.GET("/templates/:id", handlers.GetTemplate)
		api.PUT("/templates/:id", handlers.ReviseTemplate)
		api.DELETE("/templates/:id", handlers.DeactivateTemplate)
		api.GET("/templates/:id/versions/:version", handlers.GetTemplateVersion)

		api.POST("/instances", handlers.Initiate)
		api.GET("/instances", handlers.ListInstances)
		api.GET("/instances/export", handlers.ExportInstances)
		api.GET("/instances/stale", handlers.StaleInstances)
		api.GET("/instances/:id", handlers.GetInstance)
		api.GET("/instances/:id/history", handlers.History)
		api.GET("/instances/:id/verify", handlers.Verify)
		api.POST("/instances/:id/decisions", handlers.Decide)
		api.POST("/instances/:id/cancel", handlers.Cancel)
		api.POST("/instances/:id/resume", handlers.Resume)

		api.GET("/pending", handlers.Pending)
		api.GET("/stats", handlers.Stats)
	}
}

// Start runs the server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
