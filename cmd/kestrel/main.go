package main

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

	"github.com/joho/godotenv"

	"github.com/kestrelhq/kestrel/internal/advisory"
	"github.com/kestrelhq/kestrel/internal/classify"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/ingest"
	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/notify"
	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/server"
	"github.com/kestrelhq/kestrel/internal/source"
	"github.com/kestrelhq/kestrel/internal/storage"
	"github.com/kestrelhq/kestrel/internal/telemetry"
	"github.com/kestrelhq/kestrel/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KESTREL_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kestrel starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	var metrics *telemetry.Metrics
	if cfg.OTELEndpoint != "" {
		metrics, err = telemetry.NewMetrics()
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	// Connect to database and bring the schema up to date.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Advisory model for severity hints, fix suggestions, and notification
	// phrasing. Every detector works without it.
	advisor := newAdvisor(ctx, cfg, logger)
	defer func() { _ = advisor.Close() }()

	// Source feeds and the ingest/classify engines behind the monitoring
	// capabilities.
	feed := source.NewHTTPFeed(cfg.RunFeedURL, cfg.DeployFeedURL, cfg.SourceToken)
	ingestEng := ingest.New(db, feed, feed, logger)
	classifyEng := classify.New(db, advisor, logger)

	sinks := buildSinks(cfg, logger)
	dispatcher := notify.NewDispatcher(db, sinks, advisor, metrics, notify.Options{
		DedupWindow:      cfg.DedupWindow,
		ReminderAfter:    cfg.ReminderAfter,
		ReminderCooldown: cfg.ReminderCooldown,
		RatePerMinute:    cfg.NotifyRatePerMinute,
	}, logger)

	caps := []orchestrator.Capability{
		orchestrator.NewPipelineCapability(ingestEng, classifyEng, cfg.RunFeedURL != ""),
		orchestrator.NewDeploymentCapability(ingestEng, classifyEng, cfg.DeployFeedURL != ""),
		orchestrator.NewNotificationCapability(dispatcher, len(sinks) > 0),
	}
	for _, c := range caps {
		logger.Info("capability registered", "name", c.Name(), "enabled", c.Enabled())
	}

	orch := orchestrator.New(caps, db, orchestrator.Config{
		PollInterval:         cfg.PollInterval,
		CycleTimeout:         cfg.CycleTimeout,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		ShortBackoff:         cfg.ShortBackoff,
		LongBackoff:          cfg.LongBackoff,
		ShutdownGrace:        cfg.ShutdownGrace,
	}, metrics, logger)
	orch.Start(ctx)

	// Retention sweeps run on their own slow cadence, independent of the
	// monitoring loop.
	go retentionLoop(ctx, db, logger, cfg.RetentionDays)

	srv := server.New(server.ServerConfig{
		DB:            db,
		Orch:          orch,
		Logger:        logger,
		AdminAPIKey:   cfg.AdminAPIKey,
		WebhookSecret: cfg.WebhookSecret,
		Port:          cfg.Port,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		Version:       version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Stop accepting HTTP first, then wait for the
	// orchestrator to let any in-flight cycle finish its grace period.
	slog.Info("kestrel shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	select {
	case <-orch.Done():
	case <-time.After(cfg.CycleTimeout + cfg.ShutdownGrace):
		slog.Warn("orchestrator did not stop in time")
	}

	slog.Info("kestrel stopped")
	return nil
}

// newAdvisor picks the advisory backend: Gemini when an API key is
// configured, else the noop advisor that makes every caller fall back to
// its deterministic path.
func newAdvisor(ctx context.Context, cfg config.Config, logger *slog.Logger) advisory.Advisor {
	if cfg.GeminiAPIKey == "" {
		logger.Info("advisory: disabled (no GEMINI_API_KEY)")
		return advisory.Noop{}
	}
	g, err := advisory.NewGemini(ctx, cfg.GeminiAPIKey, cfg.AdvisoryModel)
	if err != nil {
		logger.Error("advisory: init failed, continuing without", "error", err)
		return advisory.Noop{}
	}
	logger.Info("advisory: gemini", "model", cfg.AdvisoryModel)
	return g
}

// buildSinks assembles the configured notification channels in
// standard-alert priority order: Slack, Teams, email.
func buildSinks(cfg config.Config, logger *slog.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.SlackWebhook != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.SlackWebhook))
	}
	if cfg.TeamsWebhook != "" {
		sinks = append(sinks, notify.NewTeamsSink(cfg.TeamsWebhook))
	}
	if cfg.EmailConfigured() {
		sinks = append(sinks, notify.NewEmailSink(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom, cfg.EmailTo))
	}
	if len(sinks) == 0 {
		logger.Info("notifications: disabled (no channels configured)")
	}
	return sinks
}

// retentionStore is the slice of storage the retention loop needs.
type retentionStore interface {
	SweepOlderThan(ctx context.Context, cutoff time.Time) (storage.RetentionResult, error)
	RecordAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error)
}

// retentionLoop sweeps aged records at startup and then once a day,
// recording an audit row for each sweep.
func retentionLoop(ctx context.Context, db retentionStore, logger *slog.Logger, retentionDays int) {
	retentionPass(ctx, db, logger, retentionDays)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retentionPass(ctx, db, logger, retentionDays)
		}
	}
}

func retentionPass(ctx context.Context, db retentionStore, logger *slog.Logger, retentionDays int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := db.SweepOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("retention sweep failed", "error", err)
		return
	}
	action := model.NewAgentAction(model.ActionRetention, model.ActionCompleted,
		fmt.Sprintf("retention sweep removed %d records", res.Total()),
		map[string]any{
			"cutoff":        cutoff.Format(time.RFC3339),
			"runs":          res.Runs,
			"issues":        res.Issues,
			"notifications": res.Notifications,
			"actions":       res.Actions,
		})
	if _, err := db.RecordAction(ctx, action); err != nil {
		logger.Warn("retention audit record failed", "error", err)
	}
	logger.Info("retention sweep complete",
		"cutoff", cutoff, "removed", res.Total())
}
