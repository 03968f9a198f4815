// Package sqlite implements the usage ledger on SQLite via GORM, using
// the pure-Go modernc driver through glebarez/sqlite (no CGO). It shares
// the PostgreSQL backend's models and repository; the SQLite dialect
// handles the SQL differences transparently.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	pgstore "github.com/jkaninda/salama/internal/storage/postgres"
	"github.com/jkaninda/salama/internal/usage"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string
	JournalMode string // "wal" unless overridden.
}

// Store implements the storage interface backed by a SQLite file.
type Store struct {
	db    *gorm.DB
	usage usage.Store
}

// Open creates the database file (and its parent directory) if needed
// and returns a ready Store. Schema setup happens in Migrate.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	mode := cfg.JournalMode
	if mode == "" {
		mode = "wal"
	}

	db, err := gorm.Open(sqlite.Open(dataSource(cfg.Path, mode)), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", mode),
	)
	return &Store{db: db, usage: pgstore.NewUsageRepository(db)}, nil
}

// dataSource appends the pragmas the driver applies on every new
// connection: the journal mode (WAL allows readers during a write), a
// busy timeout so concurrent writers queue instead of failing, and
// foreign key enforcement.
func dataSource(path, journalMode string) string {
	return fmt.Sprintf(
		"%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path, journalMode,
	)
}

// Usage returns the usage ledger repository.
func (s *Store) Usage() usage.Store {
	return s.usage
}

// Migrate creates or updates the ledger schema, reusing the PostgreSQL
// backend's models.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&pgstore.UsageModel{})
}

// Ping checks the database handle for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return "sqlite"
}
