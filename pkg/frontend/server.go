/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package frontend serves the chat page and relays completion requests
// to the inference server measured by the benchmark.
package frontend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/config"
)

// Server is the chat frontend HTTP server. It serves the static chat
// page, a small config endpoint for the page script, and proxies one
// path prefix verbatim to the inference backend.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     klog.Logger

	cfg     *config.FrontendConfig
	backend *url.URL
	client  *http.Client
	static  http.Handler

	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger klog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHTTPClient replaces the client used for backend exchanges.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.client = client
	}
}

// New builds a frontend server from a validated config.
func New(cfg *config.FrontendConfig, opts ...Option) (*Server, error) {
	backend, err := url.Parse(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("backend %q is not a valid base URL: %w", cfg.Backend, err)
	}
	if cfg.APIPrefix == "/api" || strings.HasPrefix(cfg.APIPrefix, "/api/") {
		return nil, fmt.Errorf("api_prefix %q collides with the frontend's own /api routes", cfg.APIPrefix)
	}

	s := &Server{
		logger:  klog.Background().WithName("frontend"),
		cfg:     cfg,
		backend: backend,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		static:  http.FileServer(http.Dir(cfg.StaticDir)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	return s, nil
}

// SetReady sets the server readiness state.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("server readiness changed", "ready", ready)
}

// IsReady returns whether the server is ready to accept traffic.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(s.requestIDMiddleware())
	router.Use(s.metricsMiddleware())
	router.Use(s.bodySizeLimitMiddleware(s.cfg.MaxBodyBytes))
	router.Use(s.loggingMiddleware())
	router.Use(s.recoveryMiddleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Configuration for the chat page script.
	router.GET("/api/config", s.handleConfig)

	// Completion traffic goes to the backend untouched.
	prefix := strings.TrimSuffix(s.cfg.APIPrefix, "/")
	router.Any(prefix+"/*path", s.handleProxy)

	// Everything else is the chat page and its assets.
	router.NoRoute(s.handleStatic)

	s.router = router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Completion responses can take minutes; leave headroom over
		// the proxy exchange bound.
		WriteTimeout:   s.cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info("starting chat frontend", "addr", s.cfg.Listen, "backend", s.cfg.Backend)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down chat frontend")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Middleware

// validRequestIDRegex allows alphanumeric, dots, underscores, and hyphens up to 128 chars.
var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if !validRequestIDRegex.MatchString(requestID) {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// The matched route pattern keeps the path label cardinality
		// bounded; proxied paths all collapse into one pattern.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		recordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.V(1).Info("request completed",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"requestID", c.GetString("request_id"),
			"clientIP", c.ClientIP())
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error(fmt.Errorf("%v", err), "panic recovered",
					"stack", string(debug.Stack()),
					"requestID", c.GetString("request_id"))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:     "internal server error",
					RequestID: c.GetString("request_id"),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) bodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
