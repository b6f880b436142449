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
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
	"github.com/aussiebroadwan/grabbit/internal/claimer/notify"
	"github.com/aussiebroadwan/grabbit/internal/claimer/service"
	"github.com/aussiebroadwan/grabbit/internal/claimer/store"
	"github.com/aussiebroadwan/grabbit/internal/claimer/store/drivers/sqlite"
	"github.com/aussiebroadwan/grabbit/internal/claimer/storefront"
	"github.com/aussiebroadwan/grabbit/internal/claimer/telegram"
	"github.com/aussiebroadwan/grabbit/pkg/cryptox"
	"github.com/aussiebroadwan/grabbit/pkg/httpx"
	"github.com/aussiebroadwan/grabbit/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	httpTimeout = 30 * time.Second
)

// Application wires the claimer together: storefront client, two-factor
// coordinator, orchestrator, scheduler, notifiers and the chat control
// channel.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	pubsub *gochannel.GoChannel

	client    *storefront.Client
	events    *service.EventPublisher
	twoFactor *service.TwoFactorService
	orch      *service.Orchestrator
	scheduler *service.Scheduler
	notifier  *notify.Notifier
	bot       *telegram.Bot // nil without a token
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "grabbit",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("GRABBIT_EMAIL and GRABBIT_PASSWORD are required")
	}

	if cfg.MasterKeyFile != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyFile)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initStorefront(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initNotifications()

	return app, nil
}

// Run starts the background workers and blocks until shutdown is requested.
func (app *Application) Run() error {
	ctx := context.Background()

	if err := app.notifier.Start(ctx); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}
	if app.bot != nil {
		app.bot.Start(ctx)
	}
	app.scheduler.Start(ctx)

	if app.cfg.StartupTwoFactorCode != "" {
		go app.runStartupPassWithCode(ctx)
	}

	app.logger.Info("grabbit starting",
		"version", BuildVersion,
		"account", app.cfg.Email,
		"daily_at", fmt.Sprintf("%02d:%02d UTC", app.cfg.ScheduleHour, app.cfg.ScheduleMinute),
		"telegram", app.bot != nil)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the workers in dependency order and closes the database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down grabbit...")

	done := make(chan struct{})
	go func() {
		defer close(done)

		app.scheduler.Stop()
		if app.bot != nil {
			app.bot.Stop()
		}
		if err := app.pubsub.Close(); err != nil {
			app.logger.Error("error closing pubsub", "error", err)
		}
		app.notifier.Stop()
	}()

	select {
	case <-done:
	case <-time.After(app.cfg.ShutdownGracePeriod):
		app.logger.Error("graceful shutdown timed out")
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("grabbit stopped")
	return nil
}

// runStartupPassWithCode runs the startup pass and answers its two-factor
// challenge with the code supplied on the command line. Useful for accounts
// whose second factor arrives out of band (email) and is known at launch.
func (app *Application) runStartupPassWithCode(ctx context.Context) {
	// The scheduler's own startup pass is disabled when a code is
	// supplied, this is the only startup pass.
	_, err := app.orch.RunPass(ctx, domain.TriggerStartup, false)
	if !errors.Is(err, service.ErrTwoFactorPending) {
		if err != nil {
			app.logger.Error("startup pass failed", "error", err)
		}
		return
	}

	res, err := app.orch.SubmitTwoFactorCode(ctx, app.cfg.StartupTwoFactorCode)
	if err != nil {
		app.logger.Error("startup two-factor code rejected", "error", err)
		return
	}
	if res.Status != domain.TwoFactorAccepted {
		app.logger.Error("startup two-factor code not accepted",
			"status", res.Status, "detail", res.Detail)
	}
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initStorefront() error {
	httpClient := &http.Client{
		Timeout: httpTimeout,
		Transport: httpx.NewTransport(nil, httpx.DefaultStorefrontLimit, map[string]string{
			"User-Agent": "grabbit/" + BuildVersion,
		}),
	}

	endpoints := storefront.DefaultEndpoints()
	if app.cfg.StorefrontBaseURL != "" {
		endpoints = storefront.EndpointsAt(app.cfg.StorefrontBaseURL)
	}

	client, err := storefront.New(app.db, app.cfg.Email, storefront.Credentials{
		Email:    app.cfg.Email,
		Password: app.cfg.Password,
	}, endpoints, httpClient)
	if err != nil {
		return fmt.Errorf("failed to initialize storefront client: %w", err)
	}
	client.Country = app.cfg.Country
	client.Locale = app.cfg.Locale

	app.client = client
	return nil
}

func (app *Application) initServices() {
	app.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(app.logger),
	)

	app.events = service.NewEventPublisher(app.pubsub, app.logger)

	app.twoFactor = service.NewTwoFactorService(app.client, app.events, app.logger)
	app.twoFactor.Timeout = app.cfg.TwoFactorTimeout
	app.twoFactor.MaxAttempts = app.cfg.TwoFactorMaxAttempts
	app.twoFactor.TOTPSecret = app.cfg.TOTPSecret

	app.orch = service.NewOrchestrator(
		app.client, app.db, app.cfg.Email, app.twoFactor, app.events, app.logger)

	runOnStart := app.cfg.RunOnStart && app.cfg.StartupTwoFactorCode == ""
	app.scheduler = service.NewScheduler(
		app.orch, app.cfg.ScheduleHour, app.cfg.ScheduleMinute, runOnStart, app.logger)
}

func (app *Application) initNotifications() {
	var senders []notify.Sender

	if app.cfg.TelegramToken != "" {
		api := telegram.NewAPI(&http.Client{Timeout: 65 * time.Second}, app.cfg.TelegramToken)

		if len(app.cfg.TelegramChatIDs) > 0 {
			senders = append(senders, &notify.TelegramSender{
				API:     api,
				ChatIDs: app.cfg.TelegramChatIDs,
			})
		}
		app.bot = telegram.NewBot(api, app.orch, app.cfg.TelegramChatIDs, app.logger)
	}

	if app.cfg.DiscordWebhookURL != "" {
		senders = append(senders, &notify.DiscordSender{
			HTTP:       &http.Client{Timeout: httpTimeout},
			WebhookURL: app.cfg.DiscordWebhookURL,
		})
	}

	app.notifier = notify.NewNotifier(app.pubsub, senders, app.logger)
}
