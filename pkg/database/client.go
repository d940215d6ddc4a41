// Package database provides the PostgreSQL connection pool and embedded
// schema migrations for the event store.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds PostgreSQL connection and pool settings. Field names follow
// the configuration surface in spec.md §6 (DB_POOL_MAX, DB_POOL_MIN, ...).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	PoolMax         int
	PoolMin         int
	IdleTimeout     time.Duration
	AcquireTimeout  time.Duration
	RequestTimeout  time.Duration
	FullTextEnabled bool
}

// Client wraps a pooled *sql.DB. The event store and query service operate
// directly on raw SQL through this client rather than through an ORM, so
// that window functions, conflict-aware inserts, and the full-text-search
// token conjunction described in spec.md §4.3 stay under direct control.
type Client struct {
	db              *sql.DB
	fullTextEnabled bool
}

// DB returns the underlying pooled connection for health checks and direct queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// FullTextEnabled reports whether the GIN full-text index was created and
// should be preferred over the LIKE fallback (spec.md §4.3).
func (c *Client) FullTextEnabled() bool {
	return c.fullTextEnabled
}

// NewClientFromDB wraps an existing *sql.DB, useful for tests that manage
// their own container/schema lifecycle.
func NewClientFromDB(db *sql.DB, fullTextEnabled bool) *Client {
	return &Client{db: db, fullTextEnabled: fullTextEnabled}
}

// NewClient opens a pooled connection, applies pending migrations, and
// conditionally creates the full-text GIN index.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	fullText := false
	if cfg.FullTextEnabled {
		if err := CreateFullTextIndexes(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create full-text indexes: %w", err)
		}
		fullText = true
	}

	return &Client{db: db, fullTextEnabled: fullText}, nil
}

// ApplyMigrations runs the embedded schema against an already-open *sql.DB.
// It exists for test helpers that manage their own testcontainers
// lifecycle (test/util, used by the pkg/store and pkg/httpapi tests) and
// so can't go through NewClient's DSN dial.
func ApplyMigrations(db *sql.DB, dbName string) error {
	return runMigrations(db, dbName)
}

// runMigrations applies embedded golang-migrate SQL migrations.
//
// Migration files live under pkg/database/migrations/*.sql and are
// embedded into the binary at compile time via go:embed, so deployment
// applies pending migrations automatically on startup with no extra step.
func runMigrations(db *sql.DB, dbName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source; closing the migrate instance would
	// also close db via the shared postgres.WithInstance driver.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && len(name) > 4 && name[len(name)-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}
