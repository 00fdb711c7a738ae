package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/prospector/internal/config"
	"github.com/foxzi/prospector/internal/ipfilter"
	"github.com/foxzi/prospector/internal/metrics"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/webhook"
)

// CampaignStore reads and deletes campaigns
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Stats(ctx context.Context, id string) (models.CampaignStats, error)
	Delete(ctx context.Context, id string) error
}

// LinkStore lists and removes contact links
type LinkStore interface {
	ListByCampaign(ctx context.Context, campaignID string) ([]models.LinkWithContact, error)
	Remove(ctx context.Context, campaignID, linkID string) error
}

// CampaignControl starts and stops campaign loops
type CampaignControl interface {
	StartCampaign(ctx context.Context, id string) (*models.Campaign, error)
	StopCampaign(ctx context.Context, id string) (*models.Campaign, error)
	Running(id string) bool
}

// CooldownStore drops the opening throttle of deleted campaigns
type CooldownStore interface {
	Forget(ctx context.Context, campaignID string) error
}

// Services are the collaborators of the API. Webhook, WebhookFilter,
// Cooldown and Metrics are optional.
type Services struct {
	Campaigns     CampaignStore
	Links         LinkStore
	Control       CampaignControl
	Cooldown      CooldownStore
	Webhook       *webhook.Handler
	WebhookFilter *ipfilter.Filter
	Metrics       *metrics.Collector
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        Services
	keys       *KeySet
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
	version    string
}

// NewServer creates a new API server
func NewServer(cfg *config.APIConfig, svc Services, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		keys:      NewKeySet(cfg.APIKeys),
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if s.svc.Metrics != nil {
		s.router.Use(metrics.HTTPMiddleware(s.svc.Metrics))
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// Gateway events carry no API key
	if s.svc.Webhook != nil {
		s.router.Group(func(r chi.Router) {
			if s.svc.WebhookFilter != nil {
				r.Use(s.svc.WebhookFilter.Middleware)
			}
			s.svc.Webhook.Routes(r)
		})
	}

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCampaign)
			r.Delete("/", s.handleDeleteCampaign)
			r.Post("/start", s.handleStartCampaign)
			r.Post("/stop", s.handleStopCampaign)
			r.Get("/links", s.handleListLinks)
			r.Delete("/links/{linkID}", s.handleRemoveLink)
		})
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
