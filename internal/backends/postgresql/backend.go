package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v4"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
	"github.com/demoulas/profitsharing-migrator/internal/verify"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig holds database/sql pool settings.
type PoolConfig struct {
	MaxOpenConns       int           `env:"PSM_DB_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns       int           `env:"PSM_DB_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime    time.Duration `env:"PSM_DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime    time.Duration `env:"PSM_DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	ConnectMaxElapsed  time.Duration `env:"PSM_DB_CONNECT_TIMEOUT" envDefault:"30s"`
	ConnectMaxInterval time.Duration `env:"PSM_DB_CONNECT_MAX_INTERVAL" envDefault:"5s"`
}

// DefaultPoolConfig returns the envDefault values.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:       5,
		MaxIdleConns:       2,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    time.Minute,
		ConnectMaxElapsed:  30 * time.Second,
		ConnectMaxInterval: 5 * time.Second,
	}
}

// LoadPoolConfig reads pool settings from the environment.
func LoadPoolConfig() (PoolConfig, error) {
	var cfg PoolConfig
	if err := env.Parse(&cfg); err != nil {
		return DefaultPoolConfig(), fmt.Errorf("failed to parse pool config: %w", err)
	}
	return cfg, nil
}

// Backend implements the Backend interface for PostgreSQL
type Backend struct {
	db     *sql.DB
	config *backends.ConnectionConfig
	pool   PoolConfig
}

// NewBackend creates a new PostgreSQL backend
func NewBackend() *Backend {
	pool, err := LoadPoolConfig()
	if err != nil {
		logger.Warnf("Using default pool settings: %v", err)
	}
	return &Backend{pool: pool}
}

// NewBackendWithDB wraps an already open database, mainly for tests.
func NewBackendWithDB(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "postgresql"
}

// DSN builds a pgx connection URL from config.
func DSN(config *backends.ConnectionConfig) string {
	sslmode := "disable"
	if v := config.Extra["sslmode"]; v != "" {
		sslmode = v
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.Username, config.Password),
		Host:     net.JoinHostPort(config.Host, config.Port),
		Path:     "/" + config.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// Connect establishes a connection to PostgreSQL, retrying the first ping with
// exponential backoff.
func (b *Backend) Connect(config *backends.ConnectionConfig) error {
	if b.db != nil && b.config == nil {
		// Pre-opened database.
		return nil
	}
	b.config = config

	db, err := sql.Open("pgx", DSN(config))
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	b.configureConnectionPool(db)

	bo := backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(b.pool.ConnectMaxElapsed),
		backoff.WithMaxInterval(b.pool.ConnectMaxInterval),
	)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := db.Ping(); err != nil {
			logger.Debugf("PostgreSQL ping attempt %d on %s failed: %v", attempt, config.Host, err)
			return err
		}
		return nil
	}, bo)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	b.db = db
	return nil
}

// Close closes the PostgreSQL connection
func (b *Backend) Close() error {
	if b.db != nil && b.config != nil {
		err := b.db.Close()
		b.db = nil
		return err
	}
	return nil
}

// DB exposes the underlying pool.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// CreateSchema creates a schema if it doesn't exist
func (b *Backend) CreateSchema(ctx context.Context, schemaName string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema.QuoteIdentifier(schemaName))
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	return nil
}

// SchemaExists checks if a schema exists
func (b *Backend) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM information_schema.schemata
			WHERE schema_name = $1
		)
	`
	var exists bool
	if err := b.db.QueryRowContext(ctx, query, schemaName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check schema existence: %w", err)
	}
	return exists, nil
}

// TableExists checks if a table exists in a schema
func (b *Backend) TableExists(ctx context.Context, schemaName, tableName string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	if err := b.db.QueryRowContext(ctx, query, schemaName, tableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return exists, nil
}

// ExecuteMigration runs the body for dir in one transaction, wrapped by the
// migration's guard when it has one.
func (b *Backend) ExecuteMigration(ctx context.Context, migration *backends.MigrationScript, dir backends.Direction) error {
	if b.db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	if err := b.ensureSchema(ctx, migration.Schema); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setSearchPath(ctx, tx, migration.Schema); err != nil {
		return err
	}
	if err := runBody(ctx, tx, migration, dir); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rehearse runs Up then Down inside one transaction, diffs snapshots of tables
// taken before Up and after Down, and rolls back.
func (b *Backend) Rehearse(ctx context.Context, migration *backends.MigrationScript, tables []string) (*backends.RehearsalReport, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database connection not initialized")
	}
	if migration.DownSQL == "" {
		return nil, fmt.Errorf("%w: %s has no down migration", backends.ErrNotRehearsable, migration.ID())
	}
	if err := b.ensureSchema(ctx, migration.Schema); err != nil {
		return nil, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := setSearchPath(ctx, tx, migration.Schema); err != nil {
		return nil, err
	}

	report := &backends.RehearsalReport{
		MigrationID: migration.ID(),
		Schema:      migration.Schema,
		Tables:      tables,
	}

	before, err := verify.TakeSnapshot(ctx, tx, tables)
	if err != nil {
		return nil, fmt.Errorf("snapshot before up: %w", err)
	}

	start := time.Now()
	if err := runBody(ctx, tx, migration, backends.Up); err != nil {
		return nil, fmt.Errorf("rehearse up: %w: %w", backends.ErrMigrationFailed, err)
	}
	report.UpDuration = time.Since(start).String()

	start = time.Now()
	if err := runBody(ctx, tx, migration, backends.Down); err != nil {
		return nil, fmt.Errorf("rehearse down: %w: %w", backends.ErrMigrationFailed, err)
	}
	report.DownDuration = time.Since(start).String()

	after, err := verify.TakeSnapshot(ctx, tx, tables)
	if err != nil {
		return nil, fmt.Errorf("snapshot after down: %w", err)
	}
	report.Differences = before.Diff(after)

	if err := tx.Rollback(); err != nil {
		return nil, fmt.Errorf("failed to roll back rehearsal: %w", err)
	}
	return report, nil
}

// HealthCheck verifies the backend is accessible
func (b *Backend) HealthCheck(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	return b.db.PingContext(ctx)
}

func (b *Backend) ensureSchema(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	exists, err := b.SchemaExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return b.CreateSchema(ctx, name)
	}
	return nil
}

func setSearchPath(ctx context.Context, tx *sql.Tx, name string) error {
	if name == "" {
		return nil
	}
	stmt := fmt.Sprintf("SET LOCAL search_path TO %s, public", schema.QuoteIdentifier(name))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	return nil
}

func runBody(ctx context.Context, tx *sql.Tx, migration *backends.MigrationScript, dir backends.Direction) error {
	body := migration.Body(dir)
	if body == "" {
		return fmt.Errorf("migration %s has no %s migration", migration.ID(), dir)
	}

	var guard backends.Guard
	if migration.Guard != nil {
		guard = migration.Guard()
	}
	if guard != nil {
		if err := guard.Before(ctx, tx, dir); err != nil {
			return fmt.Errorf("pre-%s check failed: %w", dir, err)
		}
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("failed to execute %s migration: %w", dir, err)
	}
	if guard != nil {
		if err := guard.After(ctx, tx, dir); err != nil {
			return fmt.Errorf("post-%s check failed: %w", dir, err)
		}
	}
	return nil
}

// configureConnectionPool applies the pool settings to db
func (b *Backend) configureConnectionPool(db *sql.DB) {
	db.SetMaxOpenConns(b.pool.MaxOpenConns)
	db.SetMaxIdleConns(b.pool.MaxIdleConns)
	db.SetConnMaxLifetime(b.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(b.pool.ConnMaxIdleTime)
}
