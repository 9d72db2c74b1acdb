// Package main provides the canonicalization worker: scheduled incremental
// and full runs with run-event publishing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/config"
	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/events"
	"github.com/scholium/corpus-service/internal/observability"
	"github.com/scholium/corpus-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("corpus-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, registry)

	store := repository.NewStore(db)
	engine := canonical.NewEngine(store, metrics, logger, canonical.Config{
		PrecisionFloor:    cfg.Canonical.PrecisionFloor,
		RecallFloor:       cfg.Canonical.RecallFloor,
		IncrementalWindow: cfg.Canonical.IncrementalWindow,
	})

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
	}

	w := &worker{
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Canonical.IncrementalSchedule, func() {
		w.runOnce(ctx, canonical.ModeIncremental)
	}); err != nil {
		return fmt.Errorf("schedule incremental runs: %w", err)
	}
	if _, err := scheduler.AddFunc(cfg.Canonical.FullSchedule, func() {
		w.runOnce(ctx, canonical.ModeFull)
	}); err != nil {
		return fmt.Errorf("schedule full runs: %w", err)
	}

	scheduler.Start()
	logger.Info().
		Str("incremental_schedule", cfg.Canonical.IncrementalSchedule).
		Str("full_schedule", cfg.Canonical.FullSchedule).
		Msg("canonicalization worker is ready")

	<-ctx.Done()
	logger.Info().Msg("received shutdown signal")

	// Let an in-flight run finish.
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn().Msg("forced shutdown with a canonicalization run still in flight")
	}

	logger.Info().Msg("corpus-service worker shutdown complete")
	return nil
}

type worker struct {
	engine    *canonical.Engine
	publisher *events.Publisher
	logger    zerolog.Logger
}

// runOnce executes one canonicalization run. Lock contention is expected when
// a manual run overlaps a scheduled one and is logged, not escalated.
func (w *worker) runOnce(ctx context.Context, mode string) {
	runAt := time.Now().UTC()
	w.logger.Info().Str("mode", mode).Msg("starting scheduled canonicalization run")

	var summary *canonical.RunSummary
	var err error
	if mode == canonical.ModeFull {
		summary, err = w.engine.RunFull(ctx, runAt)
	} else {
		summary, err = w.engine.RunIncremental(ctx, runAt, 0)
	}

	switch {
	case err == nil:
		w.logger.Info().
			Str("mode", mode).
			Int("clusters", summary.ClustersEvaluated).
			Int("elections", summary.Elections).
			Int("re_elections", summary.ReElections).
			Dur("duration", summary.Duration).
			Msg("canonicalization run completed")
		if w.publisher != nil {
			w.publisher.RunCompleted(ctx, *summary)
		}
	case errors.Is(err, domain.ErrRunInProgress):
		w.logger.Info().Str("mode", mode).Msg("skipping run, another run holds the lock")
	case errors.Is(err, domain.ErrQualityGateFailed):
		w.logger.Warn().
			Str("mode", mode).
			Str("gate", summary.Gate.String()).
			Msg("canonicalization run discarded by quality gate")
		if w.publisher != nil {
			w.publisher.RunFailed(ctx, *summary, err)
		}
	default:
		w.logger.Error().Err(err).Str("mode", mode).Msg("canonicalization run failed")
		if w.publisher != nil && summary != nil {
			w.publisher.RunFailed(ctx, *summary, err)
		}
	}
}
