// Package storage selects and opens the usage ledger backend.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/salama/internal/storage/postgres"
	"github.com/jkaninda/salama/internal/storage/sqlite"
	"github.com/jkaninda/salama/internal/usage"
)

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// Store is the persistence interface both backends implement.
type Store interface {
	// Usage returns the usage ledger store.
	Usage() usage.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the backend name ("sqlite" or "postgres").
	Driver() string
}

// Config holds resolved storage settings. Secret values (the postgres DSN)
// are revealed by the caller before they reach this layer.
type Config struct {
	Driver   string
	SQLite   sqlite.Config
	Postgres postgres.Config
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DefaultDriver
	}
	return c.Driver
}

// Open creates the backend selected by cfg.Driver.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	switch driver := cfg.driver(); driver {
	case DriverSQLite:
		return sqlite.Open(cfg.SQLite, logger)
	case DriverPostgres:
		return postgres.Open(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
