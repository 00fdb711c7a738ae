package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/prospector/internal/ai"
	"github.com/foxzi/prospector/internal/api"
	"github.com/foxzi/prospector/internal/config"
	"github.com/foxzi/prospector/internal/cooldown"
	"github.com/foxzi/prospector/internal/db"
	"github.com/foxzi/prospector/internal/decision"
	"github.com/foxzi/prospector/internal/dispatch"
	"github.com/foxzi/prospector/internal/events"
	"github.com/foxzi/prospector/internal/gateway"
	"github.com/foxzi/prospector/internal/history"
	"github.com/foxzi/prospector/internal/ipfilter"
	"github.com/foxzi/prospector/internal/media"
	"github.com/foxzi/prospector/internal/metrics"
	"github.com/foxzi/prospector/internal/orchestrator"
	"github.com/foxzi/prospector/internal/ratelimit"
	"github.com/foxzi/prospector/internal/repository"
	"github.com/foxzi/prospector/internal/scheduler"
	"github.com/foxzi/prospector/internal/webhook"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	cooldown      *cooldown.BoltStore
	events        events.Publisher
	manager       *orchestrator.Manager
	apiServer     *api.Server
	quota         *ratelimit.Limiter
	collector     *metrics.Collector
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}

	cd, err := cooldown.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{config: cfg, db: database, cooldown: cd, logger: logger}
	if err := a.build(version); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(version string) error {
	cfg := a.config
	logger := a.logger

	campaigns := repository.NewCampaignRepository(a.db.DB)
	links := repository.NewLinkRepository(a.db.DB)
	users := repository.NewUserRepository(a.db.DB)
	personas := repository.NewPersonaRepository(a.db.DB)

	exclude, err := cfg.FollowupExclude()
	if err != nil {
		return err
	}

	gw := gateway.NewClient(gateway.Options{
		BaseURL:   cfg.Gateway.BaseURL,
		APIKey:    cfg.Gateway.APIKey,
		Timeout:   cfg.Gateway.Timeout,
		SendDelay: cfg.Gateway.SendDelay,
		Presence:  cfg.Gateway.Presence,
	})

	gen, err := ai.NewClient(ai.Options{
		APIKeys:     cfg.AI.APIKeys,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	analyzer := media.NewAnalyzer(gen, cfg.History.MediaAttempts, logger)
	sync := history.NewSynchronizer(gw, analyzer, links, cfg.History.Limit, cfg.History.Timeout, logger)
	engine := decision.NewEngine(gen, decision.Config{
		MaxAttempts: cfg.Decision.MaxAttempts,
		BaseDelay:   cfg.Decision.BaseDelay,
		Timeout:     cfg.Decision.Timeout,
	}, logger)
	dispatcher := dispatch.New(gw, a.cooldown, dispatch.Config{
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		BaseDelay:     cfg.Dispatch.BaseDelay,
		MaxDelay:      cfg.Dispatch.MaxDelay,
		PauseMin:      cfg.Dispatch.PauseMin,
		PauseMax:      cfg.Dispatch.PauseMax,
		InitialJitter: cfg.Dispatch.InitialJitter,
		Timeout:       cfg.Dispatch.Timeout,
	}, logger)

	if cfg.Events.Enabled {
		pub, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		a.events = pub
		logger.Info("outcome events enabled", "exchange", cfg.Events.Exchange)
	} else {
		a.events = events.Nop{}
	}

	deps := orchestrator.Deps{
		Campaigns:  campaigns,
		Links:      links,
		Personas:   personas,
		Users:      users,
		Scheduler:  scheduler.New(links, a.cooldown, exclude),
		Sync:       sync,
		Decider:    engine,
		Dispatcher: dispatcher,
		Numbers:    gw,
		Events:     a.events,
	}

	if cfg.Quota.Enabled {
		a.quota, err = ratelimit.NewLimiter(a.cooldown.DB(), ratelimit.Config{
			Global:        limitConfig(cfg.Quota.Global),
			PerChannel:    limitConfig(cfg.Quota.PerChannel),
			FlushInterval: cfg.Quota.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create opening quota: %w", err)
		}
		deps.Quota = a.quota
		logger.Info("opening quota enabled")
	}

	ingestor := webhook.NewIngestor(users, links, logger.With("component", "webhook"))
	var hookObserver webhook.Observer

	if cfg.Metrics.Enabled {
		m := metrics.New()
		a.collector, err = metrics.NewCollector(a.cooldown.DB(), m, links, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		filter, err := ipfilter.New(cfg.Metrics.AllowedIPs, false, logger.With("component", "metrics"))
		if err != nil {
			return fmt.Errorf("invalid metrics allowed_ips: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter,
			logger.With("component", "metrics"))

		dispatcher.SetObserver(a.collector)
		deps.Observer = a.collector
		hookObserver = a.collector
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	a.manager = orchestrator.NewManager(deps, orchestrator.Config{
		IdleInterval: cfg.Orchestrator.IdleInterval,
		ActionMin:    cfg.Orchestrator.ActionMin,
		ActionMax:    cfg.Orchestrator.ActionMax,
		PollInterval: cfg.Orchestrator.PollInterval,
		CheckNumbers: !cfg.Orchestrator.SkipNumberCheck,
	}, logger)

	hookFilter, err := ipfilter.New(cfg.Webhook.AllowedIPs, cfg.Webhook.TrustProxy, logger.With("component", "webhook"))
	if err != nil {
		return fmt.Errorf("invalid webhook allowed_ips: %w", err)
	}

	a.apiServer = api.NewServer(&cfg.API, api.Services{
		Campaigns:     campaigns,
		Links:         links,
		Control:       a.manager,
		Cooldown:      a.cooldown,
		Webhook:       webhook.NewHandler(ingestor, hookObserver),
		WebhookFilter: hookFilter,
		Metrics:       a.collector,
	}, version, logger.With("component", "api"))

	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting prospector",
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Database.Path,
		"gateway", a.config.Gateway.BaseURL,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if err := a.manager.Start(ctx); err != nil {
		a.close()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown(context.Background())
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
	}
	return err
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting operator commands and webhooks first
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	// Campaign loops restore in-flight links before returning
	a.manager.Stop()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// close releases storage. The collector flushes its counters into the
// bolt file, so it stops before the file is closed.
func (a *App) close() {
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("opening quota stop error", "error", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("event publisher close error", "error", err)
		}
	}
	if err := a.cooldown.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

func limitConfig(c *config.LimitConfig) *ratelimit.LimitConfig {
	if c == nil {
		return nil
	}
	return &ratelimit.LimitConfig{PerHour: c.PerHour, PerDay: c.PerDay}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
