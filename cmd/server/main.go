// Package main provides the entry point for the corpus service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/config"
	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/dedup"
	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/events"
	"github.com/scholium/corpus-service/internal/llm"
	"github.com/scholium/corpus-service/internal/observability"
	"github.com/scholium/corpus-service/internal/pipeline"
	"github.com/scholium/corpus-service/internal/providers"
	"github.com/scholium/corpus-service/internal/providers/openalex"
	"github.com/scholium/corpus-service/internal/providers/pubmed"
	"github.com/scholium/corpus-service/internal/providers/scopus"
	"github.com/scholium/corpus-service/internal/providers/semanticscholar"
	"github.com/scholium/corpus-service/internal/query"
	"github.com/scholium/corpus-service/internal/repository"
	httpserver "github.com/scholium/corpus-service/internal/server/http"
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
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("corpus-service server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, registry)

	store := repository.NewStore(db)

	sourceRegistry, err := buildSourceRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("build source registry: %w", err)
	}

	merger := dedup.NewMerger(metrics, logger)
	searchPipeline := pipeline.New(sourceRegistry, merger, metrics, logger, pipeline.Config{
		Budget:              cfg.Pipeline.Budget,
		CallTimeout:         cfg.Pipeline.CallTimeout,
		MinAbstractLength:   cfg.Pipeline.MinAbstractLength,
		MaxResultsPerSource: cfg.Pipeline.MaxResultsPerSource,
		Expansion: pipeline.ExpansionConfig{
			SeedCount:  cfg.Pipeline.ExpansionSeeds,
			BatchSize:  cfg.Pipeline.ExpansionBatchSize,
			MaxRecords: cfg.Pipeline.ExpansionCap,
			MinBudget:  cfg.Pipeline.MinExpansionBudget,
		},
	})

	var rewriter query.Rewriter
	if cfg.Query.FallbackAPIKey != "" {
		rewriter = llm.NewRewriter(llm.RewriterConfig{
			APIKey:  cfg.Query.FallbackAPIKey,
			Model:   cfg.Query.FallbackModel,
			BaseURL: cfg.Query.FallbackBaseURL,
			Timeout: cfg.Query.FallbackTimeout,
		})
	}

	processor, err := query.NewProcessor(query.Config{
		MaxTerms:              cfg.Query.MaxTerms,
		MaxSynonymsPerConcept: cfg.Query.MaxSynonymsPerConcept,
		MaxExpandedTerms:      cfg.Query.MaxExpandedTerms,
		ConfidenceThreshold:   cfg.Query.ConfidenceThreshold,
		FallbackTimeout:       cfg.Query.FallbackTimeout,
		FallbackCredential:    cfg.Query.FallbackAPIKey,
		CacheSize:             cfg.Query.CacheSize,
		Breaker: query.BreakerConfig{
			Window:       cfg.Query.Breaker.Window,
			MinSamples:   cfg.Query.Breaker.MinSamples,
			FailureRatio: cfg.Query.Breaker.FailureRatio,
			Cooldown:     cfg.Query.Breaker.Cooldown,
		},
	}, rewriter, metrics, logger)
	if err != nil {
		return fmt.Errorf("create query processor: %w", err)
	}

	engine := canonical.NewEngine(store, metrics, logger, canonical.Config{
		PrecisionFloor:    cfg.Canonical.PrecisionFloor,
		RecallFloor:       cfg.Canonical.RecallFloor,
		IncrementalWindow: cfg.Canonical.IncrementalWindow,
	})

	var runEvents httpserver.RunEventSink
	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
		runEvents = publisher
	}

	var metricsRegistry *prometheus.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = registry
	}

	httpSrv := httpserver.NewServer(
		httpserver.Config{
			Address:         cfg.Server.HTTPAddress(),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		processor,
		searchPipeline,
		engine,
		store.Canonicals(),
		runEvents,
		db,
		metricsRegistry,
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", cfg.Server.HTTPAddress()).
		Msg("corpus-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("corpus-service shutdown complete")
	return nil
}

// buildSourceRegistry constructs all four provider adapters with their own
// retrying HTTP clients and rate limiters, then registers the enabled ones.
func buildSourceRegistry(cfg *config.Config, logger zerolog.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	httpClientFor := func(source domain.SourceType, pc config.ProviderConfig) *providers.HTTPClient {
		clientCfg := providers.DefaultHTTPClientConfig()
		if pc.Timeout > 0 {
			clientCfg.Timeout = pc.Timeout
		}
		if pc.MaxRetries > 0 {
			clientCfg.MaxRetries = pc.MaxRetries
		}
		return providers.NewHTTPClient(source, clientCfg)
	}
	limiterFor := func(source domain.SourceType, pc config.ProviderConfig) *providers.Limiter {
		return providers.NewLimiter(source, pc.RateLimit, pc.BurstSize, pc.AcquireWait)
	}

	pubmedCfg := cfg.Providers.PubMed
	if err := registry.Register(pubmed.NewClient(pubmed.Config{
		BaseURL:  pubmedCfg.BaseURL,
		APIKey:   pubmedCfg.APIKey,
		PageSize: pubmedCfg.PageSize,
		Enabled:  pubmedCfg.Enabled,
	}, httpClientFor(domain.SourcePubMed, pubmedCfg), limiterFor(domain.SourcePubMed, pubmedCfg), logger)); err != nil {
		return nil, err
	}

	s2Cfg := cfg.Providers.SemanticScholar
	if err := registry.Register(semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:  s2Cfg.BaseURL,
		APIKey:   s2Cfg.APIKey,
		PageSize: s2Cfg.PageSize,
		Enabled:  s2Cfg.Enabled,
	}, httpClientFor(domain.SourceSemanticScholar, s2Cfg), limiterFor(domain.SourceSemanticScholar, s2Cfg), logger)); err != nil {
		return nil, err
	}

	oaCfg := cfg.Providers.OpenAlex
	if err := registry.Register(openalex.NewClient(openalex.Config{
		BaseURL:  oaCfg.BaseURL,
		Mailto:   oaCfg.Mailto,
		PageSize: oaCfg.PageSize,
		Enabled:  oaCfg.Enabled,
	}, httpClientFor(domain.SourceOpenAlex, oaCfg), limiterFor(domain.SourceOpenAlex, oaCfg), logger)); err != nil {
		return nil, err
	}

	scopusCfg := cfg.Providers.Scopus
	if err := registry.Register(scopus.NewClient(scopus.Config{
		BaseURL:  scopusCfg.BaseURL,
		APIKey:   scopusCfg.APIKey,
		PageSize: scopusCfg.PageSize,
		Enabled:  scopusCfg.Enabled,
	}, httpClientFor(domain.SourceScopus, scopusCfg), limiterFor(domain.SourceScopus, scopusCfg), logger)); err != nil {
		return nil, err
	}

	return registry, nil
}
