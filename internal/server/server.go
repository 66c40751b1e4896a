package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/db"
	"github.com/go-core-stack/throttle/rate"
)

// Server exposes the limiters over HTTP: an admin API to inspect and
// reconfigure them, and a file tree served through them
type Server struct {
	router   *chi.Mux
	server   *http.Server
	mgr      *rate.LimitManager
	profiles *db.ProfileTable
	logger   *zap.Logger
	root     string
	host     string
	port     int

	readTimeout time.Duration
	idleTimeout time.Duration
}

// Option customizes a Server
type Option func(*Server)

// WithProfiles persists admin changes to the profile table
func WithProfiles(p *db.ProfileTable) Option {
	return func(s *Server) {
		s.profiles = p
	}
}

// WithLogger sets the server logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithTimeouts sets the read and idle timeouts. There is no write
// timeout, throttled downloads are expected to be slow.
func WithTimeouts(read, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.idleTimeout = idle
	}
}

// New creates a new HTTP server instance serving files under root
func New(mgr *rate.LimitManager, host string, port int, root string, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		mgr:         mgr,
		logger:      zap.NewNop(),
		root:        root,
		host:        host,
		port:        port,
		readTimeout: 30 * time.Second,
		idleTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.registerRoutes()
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.readTimeout,
		IdleTimeout: s.idleTimeout,
	}

	s.logger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("root", s.root))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", middleware.GetReqID(r.Context())))
	})
}
