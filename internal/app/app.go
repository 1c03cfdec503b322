// Package app wires the engine together: storage, delivery, the job
// scheduler and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/abtest"
	"github.com/jeylabbb/newsletter-hq/internal/api"
	"github.com/jeylabbb/newsletter-hq/internal/config"
	"github.com/jeylabbb/newsletter-hq/internal/db"
	"github.com/jeylabbb/newsletter-hq/internal/events"
	"github.com/jeylabbb/newsletter-hq/internal/lifecycle"
	"github.com/jeylabbb/newsletter-hq/internal/mailer"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
	"github.com/jeylabbb/newsletter-hq/internal/resolver"
	"github.com/jeylabbb/newsletter-hq/internal/scheduler"
	"github.com/jeylabbb/newsletter-hq/internal/workflow"
)

// App is the assembled engine.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	db        *db.DB
	store     *events.Store
	scheduler *scheduler.Scheduler
	server    *api.Server
}

// logMailer stands in for the relay when no smarthost is configured. It
// logs instead of delivering, which keeps a dev instance runnable.
type logMailer struct {
	logger *slog.Logger
}

func (m *logMailer) Send(_ context.Context, msg *mailer.Message) error {
	m.logger.Info("mail not delivered, no relay configured",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// New builds the full dependency graph from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store, err := events.Open(cfg.Events.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	var mail mailer.Mailer
	if cfg.SMTP.RelayAddr != "" {
		relay, err := mailer.NewRelayMailer(cfg.SMTP, logger)
		if err != nil {
			store.Close()
			database.Close()
			return nil, fmt.Errorf("failed to configure relay mailer: %w", err)
		}
		mail = relay
	} else {
		logger.Warn("smtp.relay_addr not set, outbound mail will be logged and dropped")
		mail = &logMailer{logger: logger}
	}

	m := metrics.New()

	campaigns := repository.NewCampaignRepository(database.DB)
	recipients := repository.NewRecipientRepository(database.DB)
	runs := repository.NewRunRepository(database.DB)
	wfRepo := repository.NewWorkflowRepository(database.DB)
	groups := repository.NewGroupRepository(database.DB)
	saved := repository.NewSavedMailRepository(database.DB)
	contacts := repository.NewContactRepository(database.DB)

	res := resolver.New(groups, m, logger)
	lc := lifecycle.New(campaigns, recipients, res, mail, m, cfg, logger)
	ab := abtest.NewEngine(campaigns, recipients, lc, m, logger)
	wf := workflow.NewEngine(wfRepo, runs, groups, campaigns, saved, lc, m, cfg.Workflow.MaxStepRetries, logger)
	ing := events.NewIngestor(store, campaigns, recipients, m, logger)
	sched := scheduler.New(campaigns, runs, lc, ab, wf, m, cfg.Scheduler.DispatchHourUTC, cfg.Scheduler.Concurrency, logger)

	server := api.NewServer(api.Deps{
		Lifecycle:  lc,
		Campaigns:  campaigns,
		Recipients: recipients,
		Workflows:  wf,
		WfRepo:     wfRepo,
		Runs:       runs,
		Groups:     groups,
		Saved:      saved,
		Contacts:   contacts,
		Ingestor:   ing,
		Scheduler:  sched,
		Metrics:    m,
	}, &cfg.Server, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        database,
		store:     store,
		scheduler: sched,
		server:    server,
	}, nil
}

// Scheduler exposes the job scheduler, for the tick subcommand.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run starts the scheduler and HTTP server and blocks until ctx is
// cancelled, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.scheduler.Stop()
		a.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	a.scheduler.Stop()
	return a.Close()
}

// Close releases storage handles.
func (a *App) Close() error {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close event log", "error", err)
	}
	return a.db.Close()
}
