// Command migrate applies schema migrations for the corpus service database.
//
// Usage:
//
//	migrate [-path dir] up            apply all pending migrations
//	migrate [-path dir] down          roll back everything
//	migrate [-path dir] steps N       apply N steps (negative rolls back)
//	migrate [-path dir] version       print the current version
//	migrate [-path dir] force V       pin the version after a failed migration
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/config"
	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/observability"
)

func main() {
	pathOverride := flag.String("path", "", "override the migrations directory")
	flag.Parse()

	if err := run(*pathOverride, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(pathOverride string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command: one of up, down, steps, version, force")
	}
	command := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	dir := cfg.Database.MigrationPath
	if pathOverride != "" {
		dir = pathOverride
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	m, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch command {
	case "up":
		logger.Info().Msg("applying pending migrations")
		if err := m.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		if err := m.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "steps":
		n, err := intArg(args, "steps")
		if err != nil {
			return err
		}
		logger.Info().Int("steps", n).Msg("applying migration steps")
		if err := m.Steps(n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case "version":
		// Fall through to the version report below.
	case "force":
		v, err := intArg(args, "force")
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("force requires a non-negative version, got %d", v)
		}
		logger.Warn().Int("version", v).Msg("forcing migration version")
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q: expected up, down, steps, version, or force", command)
	}

	reportVersion(m, logger)
	return nil
}

func intArg(args []string, command string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a numeric argument", command)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%s argument %q is not a number", command, args[1])
	}
	return n, nil
}

func reportVersion(m *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("current migration version")
}
