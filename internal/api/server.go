package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shohag/hookdispatch/internal/config"
	"github.com/shohag/hookdispatch/internal/metrics"
	"github.com/shohag/hookdispatch/internal/models"
	"github.com/shohag/hookdispatch/internal/storage"
)

// EventQueue accepts events for asynchronous dispatch.
type EventQueue interface {
	Enqueue(creatorID string, eventType models.EventType, data models.EventData) error
}

type Server struct {
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
	store      storage.Storage
	queue      EventQueue
	validate   *validator.Validate
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, store storage.Storage, queue EventQueue, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		metricsCfg: metricsCfg,
		store:      store,
		queue:      queue,
		validate:   validator.New(),
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	whHandler := NewWebhookHandler(s.store, s.validate, s.log)
	evHandler := NewEventHandler(s.queue, s.validate, s.log)
	attHandler := NewAttemptHandler(s.store)
	statsHandler := NewStatsHandler(s.store)

	// Health check, no auth
	r.Get("/health", statsHandler.Health)

	if s.metricsCfg.Enabled {
		r.Method(http.MethodGet, s.metricsCfg.Path, metrics.Handler())
	}

	var limiter *rate.Limiter
	if s.cfg.IngestRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.IngestRPS), max(s.cfg.IngestBurst, 1))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIToken))

		// Per-creator resources
		r.Route("/creators/{creatorID}", func(r chi.Router) {
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks", whHandler.List)
			r.Get("/stats", statsHandler.Stats)
			r.With(RateLimitMiddleware(limiter)).Post("/events", evHandler.Ingest)
		})

		// Webhook configs
		r.Get("/webhooks/{id}", whHandler.Get)
		r.Put("/webhooks/{id}", whHandler.Update)
		r.Delete("/webhooks/{id}", whHandler.Delete)
		r.Patch("/webhooks/{id}/toggle", whHandler.Toggle)
		r.Get("/webhooks/{id}/attempts", attHandler.List)
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
