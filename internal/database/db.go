// Package database provides the SQLite connection, schema migrations,
// models, and the data access layer (Store) for message analytics.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/chatstats/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// PoolConfig bounds the shared connection pool. The pool is the single
// serialization point between the write batcher and the query engine.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// dsnPragmas are applied per connection through the driver DSN so every
// pooled connection carries them, not just the first.
var dsnPragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"cache_size(10000)",
	"temp_store(MEMORY)",
	"mmap_size(268435456)",
	"busy_timeout(5000)",
}

// NewDB opens the SQLite database file, applies durability and performance
// pragmas, configures the connection pool, and runs embedded migrations.
// A failure here is fatal to startup; there is no degraded mode without
// storage.
func NewDB(dbPath string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := ApplyMigrations(db.DB, extractDBName(dbPath)); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied", "path", dbPath)
	return db, nil
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed.")
	}
}

// ApplyMigrations runs schema migrations from the embedded SQL files.
// Existing schema is never migrated destructively.
func ApplyMigrations(db *sql.DB, dbName string) error {
	if db == nil {
		return errors.New("database connection is nil, cannot apply migrations")
	}
	if dbName == "" {
		return errors.New("database name/path for migration driver is empty")
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create embedded source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite3 migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied.")
	return nil
}

// buildDSN appends the per-connection pragmas to the database path.
func buildDSN(dbPath string) string {
	var sb strings.Builder
	sb.WriteString("file:")
	sb.WriteString(dbPath)
	for i, p := range dsnPragmas {
		if i == 0 {
			sb.WriteString("?")
		} else {
			sb.WriteString("&")
		}
		sb.WriteString("_pragma=")
		sb.WriteString(url.QueryEscape(p))
	}
	return sb.String()
}

// extractDBName strips DSN decoration from a database path so the migration
// driver sees a plain file path.
func extractDBName(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}
