package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for migrations
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresStore backs both JobStore and DeadLetterStore with a shared
// connection pool. The two tables they own (jobs, dead_letter_jobs) live
// in the same database so that a DLQ insert and a job's terminal
// transition can commit in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// DBConfig holds PostgreSQL database connection configuration.
type DBConfig struct {
	DSN             string        // PostgreSQL connection string
	MaxOpenConns    int           // Maximum open connections (0 = auto-scale based on available CPUs)
	MaxIdleConns    int           // Minimum connections the pool keeps open (0 = auto-scale based on available CPUs)
	ConnMaxLifetime time.Duration // Connection max lifetime (0 = default: 5min)
	ConnMaxIdleTime time.Duration // Connection max idle time (0 = default: 1min)
	AutoMigrate     bool          // Run embedded migrations on startup
}

// NewStoreWithConfig creates a new PostgreSQL-backed store with the given
// configuration, optionally running embedded migrations first.
func NewStoreWithConfig(ctx context.Context, cfg DBConfig) (*PostgresStore, error) {
	if cfg.AutoMigrate {
		if err := runMigrationsWithDSN(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	maxConns := int32(cfg.MaxOpenConns)
	if maxConns <= 0 {
		cpus := runtime.GOMAXPROCS(0)
		maxConns = int32(cpus * 4)
	}
	minConns := int32(cfg.MaxIdleConns)
	if minConns <= 0 {
		cpus := runtime.GOMAXPROCS(0)
		minConns = int32(cpus)
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 1 * time.Minute
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = connMaxLifetime
	poolConfig.MaxConnIdleTime = connMaxIdleTime

	// Every timestamp in the job record state machine is compared against
	// now() server-side; keep every connection on UTC so locked_until and
	// scheduled_for comparisons never drift across sessions.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIMEZONE='UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStore creates a store with an auto-scaled connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	return NewStoreWithConfig(ctx, DBConfig{DSN: connString})
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// runMigrationsWithDSN runs PostgreSQL migrations using goose with
// embedded files. Uses a temporary database/sql connection since goose
// requires it.
func runMigrationsWithDSN(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "failed to close migration database connection", "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
