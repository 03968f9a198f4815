// Package postgres implements the usage ledger on PostgreSQL using GORM.
// All GORM usage is confined to this package and its sqlite sibling; the
// usage domain types remain ORM-free.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/salama/internal/usage"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// withDefaults fills unset pool knobs. The defaults suit a single
// gateway instance in front of a small shared database.
func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

// Store implements the storage interface backed by PostgreSQL.
type Store struct {
	db    *gorm.DB
	usage usage.Store
}

// Open connects to PostgreSQL and sizes the connection pool. It does not
// migrate; callers run Migrate once the store is in hand.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	cfg = cfg.withDefaults()

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      NewGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := pool(db)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slogger.Info("postgres connected",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return &Store{db: db, usage: NewUsageRepository(db)}, nil
}

// Usage returns the usage ledger repository.
func (s *Store) Usage() usage.Store {
	return s.usage
}

// Migrate creates or updates the ledger schema via GORM AutoMigrate.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&UsageModel{})
}

// Ping checks the connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := pool(s.db)
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := pool(s.db)
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return "postgres"
}

// pool unwraps the database/sql pool behind a GORM handle.
func pool(db *gorm.DB) (*sql.DB, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB, nil
}

// NewGormLogger routes GORM's own logging through slog. Only slow
// queries and errors surface; record-not-found is part of normal
// ledger lookups and stays quiet. The sqlite backend reuses it.
func NewGormLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(slogAdapter{slogger}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// slogAdapter satisfies GORM's logger.Writer.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
