package db

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// RunMigrations executes pending migrations from the given directory. It is
// idempotent; only pending migrations are applied.
func (c *Connection) RunMigrations(migrationsPath string) error {
	sqlDB := stdlib.OpenDBFromPool(c.Pool)
	defer func() {
		if err := sqlDB.Close(); err != nil {
			c.logger.Warn("failed to close migration connection", zap.Error(err))
		}
	}()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			c.logger.Warn("failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			c.logger.Warn("failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if err == migrate.ErrNoChange {
		c.logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	c.logger.Info("applied migrations", zap.Uint("version", version))
	return nil
}
