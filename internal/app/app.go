package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"TxnPipeline/internal/config"
	"TxnPipeline/internal/infrastructure/notify"
	"TxnPipeline/internal/infrastructure/scheduler"
	"TxnPipeline/internal/infrastructure/source"
	"TxnPipeline/internal/infrastructure/storage"
	"TxnPipeline/internal/logging"
	"TxnPipeline/internal/ports"
	"TxnPipeline/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	db        *sql.DB
	scheduler *usecase.Scheduler
	logger    *slog.Logger
}

// New builds a runnable application instance against a live database.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	staging := storage.NewPostgresStaging(db)

	gate := usecase.NewGate(usecase.GateDeps{
		Staging:    staging,
		Products:   storage.NewPostgresProducts(db),
		Quarantine: storage.NewPostgresQuarantine(db),
		Facts:      storage.NewPostgresFactStore(db),
		RunLog:     storage.NewPostgresRunLog(db),
		Notifier:   buildNotifier(cfg),
		Logger:     baseLogger.With("component", "gate"),
	})

	var feed ports.Feed = source.NewCSVFeed(
		cfg.Ingest.DataDir,
		staging,
		baseLogger.With("component", "feed"),
	)
	if cfg.Ingest.GenerateSample {
		generator := source.NewGenerator(cfg.Ingest.DataDir, source.GeneratorConfig{
			RecordsPerDay: cfg.Generator.RecordsPerDay,
			UpdateRatio:   cfg.Generator.UpdateRatio,
			ProductCount:  cfg.Generator.ProductCount,
			CustomerCount: cfg.Generator.CustomerCount,
		})
		feed = source.NewGeneratingFeed(generator, feed, baseLogger.With("component", "generator"))
	}

	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
	runs := usecase.NewScheduler(driver, feed, gate, baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		db:        db,
		scheduler: runs,
		logger:    baseLogger,
	}, nil
}

func buildNotifier(cfg config.Config) ports.Notifier {
	if cfg.Notifications.Webhook.URL == "" {
		return nil
	}
	return notify.NewWebhookNotifier(cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Timeout)
}

// Run bootstraps owned tables and either executes a single cycle or blocks
// on the cron schedule until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := storage.EnsureSchema(ctx, a.db); err != nil {
		return err
	}

	if a.cfg.Scheduler.RunOnce {
		return a.scheduler.RunOnce(ctx, time.Now().In(a.cfg.Scheduler.Location()))
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Timezone)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Close releases the database pool.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
