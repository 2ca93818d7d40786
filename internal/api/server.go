// Package api provides the HTTP API server for mailmirror.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/mailmirror/internal/config"
	"github.com/wesm/mailmirror/internal/gmail"
	"github.com/wesm/mailmirror/internal/mime"
	"github.com/wesm/mailmirror/internal/query"
	"github.com/wesm/mailmirror/internal/scheduler"
	"github.com/wesm/mailmirror/internal/store"
	"github.com/wesm/mailmirror/internal/sync"
)

// Reader defines the query operations the API needs. *query.Facade
// implements it.
type Reader interface {
	ListPage(filter string, pageSize int, pageToken string) (*query.Page, error)
	Threads() ([]query.ThreadSummary, error)
	FetchFullMessageLazy(ctx context.Context, id string) (*mime.Email, error)
	StreamAttachment(ctx context.Context, messageID, attachmentID string, w io.Writer) (int64, error)
	PrefetchBodies(ids []string) int
	LabelCounts() ([]query.LabelCount, error)
	TodayCounts() (*query.TodayCounts, error)
}

// Engine exposes the sync engine's state.
type Engine interface {
	State() sync.State
	Cursor() (uint64, bool)
}

// Jobs defines the scheduler operations the API needs.
type Jobs interface {
	Trigger(name string) error
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// RunLog reads the sync run history and cache statistics.
type RunLog interface {
	RecentRuns(limit int) ([]store.Run, error)
	Stats() (*store.Stats, error)
}

// CredentialSink receives credentials pushed by the client.
type CredentialSink interface {
	SetCredential(token string)
}

// Job names the API triggers.
const (
	JobTick      = "tick"
	JobBootstrap = "bootstrap"
)

// Deps are the components the server fronts. Any of them may be nil; the
// routes that need a missing one answer 503.
type Deps struct {
	Reader      Reader
	Engine      Engine
	Jobs        Jobs
	Runs        RunLog
	Credentials CredentialSink
	Provider    gmail.Provider
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware (config-driven; disabled when no origins configured)
	r.Use(CORSMiddleware(DefaultCORSConfig(s.cfg.Server.CORSOrigins)))

	// Rate limiting (20 req/sec with burst of 40)
	s.rateLimiter = NewRateLimiter(20, 40)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// API routes (auth required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/session", s.handleSession)

		// Messages
		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Get("/messages/{id}/attachments/{attachmentID}", s.handleGetAttachment)
		r.Get("/threads", s.handleListThreads)
		r.Post("/prefetch", s.handlePrefetch)

		// Stats
		r.Get("/stats/labels", s.handleLabelCounts)
		r.Get("/stats/today", s.handleTodayCounts)

		// Sync
		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/tick", s.handleTrigger(JobTick))
		r.Post("/sync/bootstrap", s.handleTrigger(JobBootstrap))
	})

	return r
}

// Start begins listening for HTTP requests. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	if !config.IsLoopback(s.cfg.Server.BindAddr) && s.cfg.Server.APIKey == "" {
		return errors.New("refusing to bind a non-loopback address without [server] api_key")
	}
	addr := s.cfg.ListenAddr()

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check X-API-Key first: Authorization may carry a mailbox token.
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
