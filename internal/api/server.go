package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/cancel"
	"github.com/JakeFAU/heritage-crawler/internal/config"
	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/metrics"
	"github.com/JakeFAU/heritage-crawler/internal/status"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

// Starter creates crawl tasks.
type Starter interface {
	StartFull(ctx context.Context) (crawler.Task, error)
	StartSingle(ctx context.Context, recordID int64) (crawler.Task, error)
}

// StatusReader reads task snapshots.
type StatusReader interface {
	Get(ctx context.Context, id int64) (status.Snapshot, error)
	GetBatch(ctx context.Context, ids []int64) (map[int64]status.Snapshot, error)
	ActiveFull(ctx context.Context) (status.Snapshot, bool, error)
}

// Stopper halts all crawling.
type Stopper interface {
	StopAll(ctx context.Context) (cancel.Result, error)
}

// RecordReader loads catalog records.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (crawler.Record, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// IDGenerator produces request ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Services groups the handlers' collaborators.
type Services struct {
	Coordinator Starter
	Status      StatusReader
	Cancel      Stopper
	Records     RecordReader
	IDs         IDGenerator
	// Readiness maps a dependency name to its probe.
	Readiness map[string]Pinger
}

// Server wires HTTP handlers to the crawl services.
type Server struct {
	router chi.Router
	svc    Services
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Services, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(requestTimeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/full", s.startFull)
			r.Get("/full/active", s.activeFull)
			r.Post("/single/{record_id}", s.startSingle)
			r.Post("/stop", s.stopAll)
			r.Post("/tasks/batch", s.batchStatus)
			r.Get("/tasks/{task_id}", s.taskStatus)
		})
		r.Get("/records/{record_id}", s.getRecord)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.svc.Readiness))
	ready := true
	for name, p := range s.svc.Readiness {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": checks})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

// statusFor maps crawler error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// fail logs unexpected errors and writes the mapped response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg,
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if code == http.StatusInternalServerError {
		s.writeError(w, code, msg)
		return
	}
	s.writeError(w, code, err.Error())
}
