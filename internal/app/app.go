// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bytescrape/steward/internal/billing"
	billingmongo "github.com/bytescrape/steward/internal/billing/mongodb"
	"github.com/bytescrape/steward/internal/config"
	"github.com/bytescrape/steward/internal/interaction"
	"github.com/bytescrape/steward/internal/notify/discord"
	"github.com/bytescrape/steward/internal/panel"
	"github.com/bytescrape/steward/internal/pkg/ctxlog"
	"github.com/bytescrape/steward/internal/pkg/httputil"
	"github.com/bytescrape/steward/internal/pkg/mongodb"
	"github.com/bytescrape/steward/internal/ticket"
	"github.com/bytescrape/steward/internal/vault"
	"github.com/bytescrape/steward/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *mongo.Client
	server        *http.Server
	metricsServer *http.Server
	scheduler     *billing.Scheduler
	schedulerStop context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := mongodb.Connect(connectCtx, mongodb.Config{
		URL:             cfg.Database.URL,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		MaxPoolSize:     cfg.Database.MaxPoolSize,
		MinPoolSize:     cfg.Database.MinPoolSize,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	router, err := app.setupRouter()
	if err != nil {
		_ = db.Disconnect(context.Background())
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and the subscription scheduler.
func (a *App) Run() error {
	schedulerCtx, schedulerStop := context.WithCancel(context.Background())
	a.schedulerStop = schedulerStop
	a.scheduler.Start(schedulerCtx)

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the scheduler first so no scan races the teardown
	if a.schedulerStop != nil {
		a.schedulerStop()
		a.scheduler.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.db.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect database: %w", err))
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the subscription scheduler instance.
// Used in tests to drive the scan loop directly.
func (a *App) Scheduler() *billing.Scheduler {
	return a.scheduler
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	sender, err := discord.NewSender(discord.Config{
		BotToken:       a.config.Discord.BotToken,
		APIBaseURL:     a.config.Discord.APIBaseURL,
		GuildID:        a.config.Discord.GuildID,
		AdminChannelID: a.config.Discord.AdminChannelID,
		TeamRoleID:     a.config.Discord.TeamRoleID,
		RateLimit:      a.config.Discord.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create discord sender: %w", err)
	}

	// The panel is optional; without it subscriptions are still tracked but
	// services are never suspended or unsuspended.
	var billingPanel billing.Panel
	if a.config.Panel.URL != "" {
		panelClient, err := panel.NewClient(panel.Config{
			URL:     a.config.Panel.URL,
			Token:   a.config.Panel.Token,
			Timeout: a.config.Panel.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create panel client: %w", err)
		}
		billingPanel = panelClient
	} else {
		slog.Warn("panel is not configured: services will not be suspended automatically")
	}

	billingRepo := billingmongo.NewRepository(a.db.Database(a.config.Database.Name))
	billingService := billing.NewService(billing.Config{
		DefaultIntervalMonths: a.config.Billing.DefaultIntervalMonths,
		UnsuspendRetryDelay:   a.config.Billing.UnsuspendRetryDelay,
	}, billingRepo, sender, billingPanel)

	a.scheduler = billing.NewScheduler(billing.SchedulerConfig{
		ScanInterval:   a.config.Billing.ScanInterval,
		PaymentLinkURL: a.config.Discord.PaymentLinkURL,
	}, billingRepo, sender, billingPanel)

	ticketManager := ticket.NewManager(ticket.Config{
		Categories:     a.config.Tickets.Categories,
		Roles:          a.config.Tickets.Roles,
		ClosePromptTTL: a.config.Tickets.ClosePromptTTL,
	}, sender)

	vaultService := vault.New(vault.Config{
		Organisation: a.config.Vault.Organisation,
		Dir:          a.config.Vault.Dir,
	}, a.config.Vault.Token, sender)

	interactionHandler, err := interaction.NewHandler(
		a.config.Discord.PublicKey, billingService, ticketManager, vaultService)
	if err != nil {
		return nil, fmt.Errorf("create interaction handler: %w", err)
	}
	interactionHandler.RegisterRoutes(r)

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx, readpref.Primary()); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
