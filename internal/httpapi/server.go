// Package httpapi serves the admin and ingest HTTP API of a node.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/node"
)

// defaultSecretKey signs tokens when no secret is configured
const defaultSecretKey = "ejtp-dev-secret-key-change-in-production"

// Server represents the HTTP API server
type Server struct {
	node       node.Node
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	SecretKey string
	TokenTTL  time.Duration
	Logger    *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(n node.Node, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	secretKey := config.SecretKey
	if secretKey == "" {
		logger.Warn("No admin secret key configured, using the built-in development key")
		secretKey = defaultSecretKey
	}

	jwtAuth := NewJWTAuth(secretKey, config.TokenTTL)
	s := &Server{
		node:       n,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(n, jwtAuth, logger),
		middleware: NewMiddleware(jwtAuth, logger),
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:           net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop.
// It returns http.ErrServerClosed after a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP API listening", zap.Stringer("addr", ln.Addr()))
	return s.server.Serve(ln)
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	mux.Handle("POST /api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("GET /api/v1/health", withMiddleware(s.handlers.Health))

	mux.Handle("POST /api/v1/frames", withMiddleware(s.middleware.AuthRequired(s.handlers.DeliverFrame)))
	mux.Handle("GET /api/v1/log", withMiddleware(s.middleware.AuthRequired(s.handlers.ReadLog)))
	mux.Handle("GET /api/v1/log/dump", withMiddleware(s.middleware.AuthRequired(s.handlers.DumpLog)))

	mux.Handle("GET /api/v1/admin/routes", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminRoutes)))
	mux.Handle("GET /api/v1/admin/runstate", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetRunState)))
	mux.Handle("PUT /api/v1/admin/runstate", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminSetRunState)))

	mux.Handle("GET /metrics", s.middleware.Recovery(s.middleware.Logging(
		promhttp.HandlerFor(s.node.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP)))

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "EJTP router HTTP API",
		"version":     "1.0.0",
		"description": "Admin and ingest API for an EJTP router node",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"frames": map[string]string{
				"deliver": "POST /api/v1/frames",
			},
			"log": map[string]string{
				"read": "GET /api/v1/log?offset={offset}&limit={limit}&encoding={text|base64}",
				"dump": "GET /api/v1/log/dump",
			},
			"admin": map[string]string{
				"routes":   "GET /api/v1/admin/routes",
				"runstate": "GET|PUT /api/v1/admin/runstate",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for frames, log and admin endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
