package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/config"
	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/metrics"
	"github.com/JakeFAU/crawler-manager/internal/policy/ratelimit"
)

const maxBodyBytes = 1 << 20

// CrawlerService is the lifecycle surface the handlers drive.
type CrawlerService interface {
	CreateWithID(ctx context.Context, id, name string, cfg crawler.Config) (crawler.Record, error)
	Get(ctx context.Context, id string) (crawler.Record, error)
	List(ctx context.Context) ([]crawler.Record, error)
	Update(ctx context.Context, id, name string, cfg crawler.Config) (crawler.Record, error)
	Start(ctx context.Context, id string) (crawler.Record, error)
	Stop(ctx context.Context, id string) (crawler.Record, error)
	Status(ctx context.Context, id string) (crawler.Status, error)
	Delete(ctx context.Context, id string) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the lifecycle service.
type Server struct {
	router    chi.Router
	service   CrawlerService
	clock     crawler.Clock
	readiness []ReadinessCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	service CrawlerService,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
	readiness ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:   service,
		clock:     clock,
		readiness: readiness,
		logger:    logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/crawlers", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey, logger))
		}
		if cfg.Server.RateLimitRPS > 0 {
			r.Use(s.rateLimitMiddleware(ratelimit.New(ratelimit.Config{
				RPS:   cfg.Server.RateLimitRPS,
				Burst: cfg.Server.RateLimitBurst,
			})))
		}
		r.Get("/", s.listCrawlers)
		r.Post("/", s.createCrawler)
		r.Route("/{crawler_id}", func(r chi.Router) {
			r.Get("/", s.getCrawler)
			r.Put("/", s.updateCrawler)
			r.Delete("/", s.deleteCrawler)
			r.Get("/status", s.getStatus)
			r.Put("/start", s.startCrawler)
			r.Put("/run", s.startCrawler)
			r.Put("/stop", s.stopCrawler)
			r.Put("/pause", s.stopCrawler)
		})
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
	for _, check := range s.readiness {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlerRequest struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Config *crawler.Config `json:"config"`
}

type crawlerResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    crawler.Status `json:"status"`
	Config    crawler.Config `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type statusResponse struct {
	Status crawler.Status `json:"status"`
}

func toResponse(rec crawler.Record) crawlerResponse {
	return crawlerResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		Status:    rec.Status,
		Config:    rec.Config,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (s *Server) listCrawlers(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.List(r.Context())
	if err != nil {
		s.writeServiceError(w, "", err)
		return
	}
	out := make([]crawlerResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	rec, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) createCrawler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.service.CreateWithID(r.Context(), req.ID, req.Name, *req.Config)
	if err != nil {
		s.writeServiceError(w, req.ID, err)
		return
	}
	w.Header().Set("Location", "/crawlers/"+rec.ID)
	s.writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (s *Server) updateCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.service.Update(r.Context(), id, req.Name, *req.Config)
	if err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) deleteCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	if err := s.service.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	rec, err := s.service.Start(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) stopCrawler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	rec, err := s.service.Stop(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "crawler_id")
	status, err := s.service.Status(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

// decodeRequest reads a crawler payload. A missing config is reported as a
// validation failure together with any name violation.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (crawlerRequest, bool) {
	var req crawlerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed JSON request: "+err.Error(), nil)
		return crawlerRequest{}, false
	}
	if req.Config == nil {
		s.writeServiceError(w, req.ID, crawler.NewValidationError(crawler.ValidateRequest(req.Name, nil)))
		return crawlerRequest{}, false
	}
	return req, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, id string, err error) {
	var verr *crawler.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, validationMessage, verr.Violations)
	case errors.Is(err, crawler.ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Crawler with id %s not found", id), nil)
	case errors.Is(err, crawler.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, fmt.Sprintf("Crawler with id %s already exists", id), nil)
	case errors.Is(err, crawler.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, fmt.Sprintf("Crawler with id %s was modified concurrently", id), nil)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "request timed out", nil)
	default:
		s.logger.Error("request failed", zap.String("crawler_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
