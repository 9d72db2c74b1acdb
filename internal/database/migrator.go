package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Migrator applies file-based schema migrations over the service's pgx pool.
type Migrator struct {
	m      *migrate.Migrate
	sqlDB  *sql.DB
	logger zerolog.Logger
}

// NewMigrator builds a migrator reading .sql files from migrationsPath. The
// migrator borrows connections from db's pool through the pgx stdlib adapter.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil || db.pool == nil {
		return nil, fmt.Errorf("database is required")
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path %s: %w", migrationsPath, err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("creating postgres migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}

	return &Migrator{m: m, sqlDB: sqlDB, logger: logger}, nil
}

// Up applies every pending migration. A schema already at the newest version
// is not an error.
func (mg *Migrator) Up() error {
	mg.logger.Info().Msg("applying schema migrations")
	return mg.settle(mg.m.Up(), "applied pending migrations")
}

// Down rolls every migration back.
func (mg *Migrator) Down() error {
	mg.logger.Warn().Msg("rolling back all schema migrations")
	return mg.settle(mg.m.Down(), "rolled back all migrations")
}

// Steps applies n migrations; negative n rolls back.
func (mg *Migrator) Steps(n int) error {
	mg.logger.Info().Int("steps", n).Msg("applying migration steps")
	err := mg.m.Steps(n)
	if errors.Is(err, os.ErrNotExist) {
		mg.logger.Info().Msg("schema unchanged, nothing to migrate")
		return nil
	}
	return mg.settle(err, "applied migration steps")
}

// settle folds migrate.ErrNoChange into success and logs the outcome.
func (mg *Migrator) settle(err error, done string) error {
	if errors.Is(err, migrate.ErrNoChange) {
		mg.logger.Info().Msg("schema unchanged, nothing to migrate")
		return nil
	}
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	mg.logger.Info().Msg(done)
	return nil
}

// Version reports the current schema version and whether it is dirty.
func (mg *Migrator) Version() (uint, bool, error) {
	return mg.m.Version()
}

// Force pins the schema version without running migrations. Use it to
// recover after a migration failed partway and left the version dirty.
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn().Int("version", version).Msg("forcing schema version")
	return mg.m.Force(version)
}

// Close releases the migrate source and the borrowed sql.DB handle.
func (mg *Migrator) Close() error {
	sourceErr, dbErr := mg.m.Close()
	var closeErr error
	if mg.sqlDB != nil {
		closeErr = mg.sqlDB.Close()
	}
	return errors.Join(sourceErr, dbErr, closeErr)
}