package app

import (
	"context"
	"fmt"

	"github.com/deutsch-portal/lernportal-hub/config"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/gormstore"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/memory"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/postgres"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

// openStore picks the progress store by driver:
// memory for demos, sqlite and postgres-gorm through GORM, postgres through pgx.
func (i *Infrastructure) openStore(ctx context.Context) error {
	db := i.Config.Database
	log := i.Log.With(logger.String("driver", db.Driver))

	switch db.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		i.Progress = store
		i.Lessons = store
		log.Warn("using in-memory store, data is lost on restart")
		return nil

	case config.DriverSQLite, config.DriverPostgresGorm:
		gcfg := gormstore.Config{
			Driver:    gormstore.DriverSQLite,
			DSN:       db.SQLitePath,
			SlowQuery: db.SlowQuery,
		}
		if db.Driver == config.DriverPostgresGorm {
			gcfg.Driver = gormstore.DriverPostgres
			gcfg.DSN = db.URL
		}
		store, err := gormstore.Open(gcfg, i.Log)
		if err != nil {
			return err
		}
		i.Progress = store
		i.Lessons = store
		i.StorePinger = store
		i.closers = append(i.closers, func() { _ = store.Close() })
		log.Info("gorm store opened", logger.String("dialect", gcfg.Driver))
		return nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = db.URL
		pgCfg.MaxConns = int32(db.MaxConns)
		pgCfg.MinConns = int32(db.MinConns)
		pgCfg.MaxConnLifetime = db.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = db.ConnMaxIdleTime

		conn, err := postgres.NewConnection(ctx, pgCfg, i.Log)
		if err != nil {
			return err
		}
		i.closers = append(i.closers, conn.Close)
		i.StorePinger = conn

		if db.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("database schema is up to date", logger.Int("applied", applied))
		}

		i.Progress = postgres.NewProgressRepository(conn)
		i.Lessons = postgres.NewLessonRepository(conn)
		log.Info("postgres store opened")
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", db.Driver)
	}
}
