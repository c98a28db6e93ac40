package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/migrations"
)

// Migrate applies the bundled migrations for the store's engine.
func Migrate(ctx context.Context, s *Store, log zerolog.Logger) (err error) {
	var (
		driver database.Driver
		name   string
	)
	switch s.dialect {
	case DialectPostgres:
		conn, cerr := s.db.Conn(ctx)
		if cerr != nil {
			return fmt.Errorf("acquire dedicated connection: %w", cerr)
		}
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("initialize postgres driver: %w", err)
		}
		// closes the dedicated connection only
		defer func() {
			if closeErr := driver.Close(); err == nil && closeErr != nil {
				err = fmt.Errorf("close migration connection: %w", closeErr)
			}
		}()
		name = "postgres"
	case DialectSQLite:
		// the sqlite driver closes the *sql.DB it wraps, so it is left open
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{MigrationsTable: "schema_migrations"})
		if err != nil {
			return fmt.Errorf("initialize sqlite driver: %w", err)
		}
		name = "sqlite"
	default:
		return fmt.Errorf("unsupported dialect %q", s.dialect)
	}

	source, err := iofs.New(migrations.FS, string(s.dialect))
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	version, dirty, verr := migrator.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		log.Info().Msg("no migrations applied yet")
	case verr != nil:
		log.Warn().Err(verr).Msg("read migration version")
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration state")
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d, fix manually and force", version)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Msg("migrations applied")
	return nil
}
