package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

// Tracker implements StateTracker for PostgreSQL
type Tracker struct {
	db     *sql.DB
	schema string
}

// NewTracker opens dsn with the pgx driver and creates the state tables.
func NewTracker(ctx context.Context, dsn, trackerSchema string) (*Tracker, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	t := NewTrackerWithDB(db, trackerSchema)
	if err := t.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tracker: %w", err)
	}
	return t, nil
}

// NewTrackerWithDB wraps an open database without initializing it.
func NewTrackerWithDB(db *sql.DB, trackerSchema string) *Tracker {
	return &Tracker{db: db, schema: trackerSchema}
}

func (t *Tracker) table(name string) string {
	if t.schema == "" || t.schema == "public" {
		return name
	}
	return schema.QuoteIdentifier(t.schema) + "." + schema.QuoteIdentifier(name)
}

// Initialize creates the migration state tables
func (t *Tracker) Initialize(ctx context.Context) error {
	if t.schema != "" && t.schema != "public" {
		if _, err := t.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema.QuoteIdentifier(t.schema)); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	list, history := t.table("migrations_list"), t.table("migrations_history")
	statements := []struct{ what, sql string }{
		{"migrations_list table", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	migration_id VARCHAR(255) NOT NULL,
	schema VARCHAR(255) NOT NULL,
	table_name VARCHAR(255) NOT NULL DEFAULT '',
	version VARCHAR(50) NOT NULL,
	name VARCHAR(255) NOT NULL,
	connection VARCHAR(255) NOT NULL,
	backend VARCHAR(50) NOT NULL,
	last_status VARCHAR(20) NOT NULL DEFAULT 'pending',
	last_applied_at TIMESTAMPTZ,
	last_error_message TEXT,
	last_history_id INTEGER,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (migration_id, schema)
)`, list)},
		{"migrations_list index", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_migrations_list_connection_backend ON %s (connection, backend)", list)},
		{"migrations_history table", fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	migration_id VARCHAR(255) NOT NULL,
	schema VARCHAR(255) NOT NULL,
	table_name VARCHAR(255) NOT NULL DEFAULT '',
	version VARCHAR(50) NOT NULL,
	name VARCHAR(255) NOT NULL,
	connection VARCHAR(255) NOT NULL,
	backend VARCHAR(50) NOT NULL,
	direction VARCHAR(4) NOT NULL DEFAULT 'up',
	status VARCHAR(20) NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	executed_by VARCHAR(255) NOT NULL DEFAULT 'system',
	execution_method VARCHAR(20) NOT NULL DEFAULT 'api',
	execution_context TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (migration_id, schema) REFERENCES %s (migration_id, schema) ON DELETE CASCADE
)`, history, list)},
		{"migrations_history index", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_migrations_history_migration_id ON %s (migration_id, schema)", history)},
		{"migrations_history index", fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_migrations_history_applied_at ON %s (applied_at DESC)", history)},
	}
	for _, s := range statements {
		if _, err := t.db.ExecContext(ctx, s.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.what, err)
		}
	}
	return nil
}

// listStatus is the last_status a successful or failed execution leaves
// behind. A failed Down leaves the migration applied, so it returns "".
func listStatus(r *state.MigrationRecord) string {
	switch {
	case r.Status == state.StatusSuccess && r.Direction == backends.Down:
		return state.StatusRolledBack
	case r.Status == state.StatusFailed && r.Direction == backends.Down:
		return ""
	default:
		return r.Status
	}
}

// RecordMigration appends to migrations_history and updates the
// migrations_list entry in one transaction.
func (t *Tracker) RecordMigration(ctx context.Context, r *state.MigrationRecord) (err error) {
	appliedAt := time.Now().UTC()
	if r.AppliedAt != "" {
		if parsed, perr := time.Parse(time.RFC3339, r.AppliedAt); perr == nil {
			appliedAt = parsed
		}
	}
	direction := r.Direction
	if direction == "" {
		direction = backends.Up
	}
	executedBy := r.ExecutedBy
	if executedBy == "" {
		executedBy = "system"
	}
	method := r.ExecutionMethod
	if method == "" {
		method = state.MethodAPI
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	list, history := t.table("migrations_list"), t.table("migrations_history")
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (migration_id, schema, table_name, version, name, connection, backend)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (migration_id, schema) DO NOTHING`, list),
		r.MigrationID, r.Schema, r.Table, r.Version, r.Name, r.Connection, r.Backend)
	if err != nil {
		return fmt.Errorf("failed to register migration in migrations_list: %w", err)
	}

	var historyID int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s (migration_id, schema, table_name, version, name, connection, backend,
	direction, status, error_message, executed_by, execution_method, execution_context, applied_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`, history),
		r.MigrationID, r.Schema, r.Table, r.Version, r.Name, r.Connection, r.Backend,
		string(direction), r.Status, r.ErrorMessage, executedBy, method, r.ExecutionContext, appliedAt,
	).Scan(&historyID)
	if err != nil {
		return fmt.Errorf("failed to insert into migrations_history: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET
	last_status = COALESCE(NULLIF($1, ''), last_status),
	last_applied_at = CASE WHEN $1 = 'success' THEN $2 ELSE last_applied_at END,
	last_error_message = $3,
	last_history_id = $4,
	last_updated_at = CURRENT_TIMESTAMP
WHERE migration_id = $5 AND schema = $6`, list),
		listStatus(r), appliedAt, r.ErrorMessage, historyID, r.MigrationID, r.Schema)
	if err != nil {
		return fmt.Errorf("failed to update migrations_list: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// filterClause renders filters as " WHERE ..." with positional args.
// statusColumn is the column the Status filter applies to.
func filterClause(f *state.MigrationFilters, statusColumn string) (string, []any) {
	if f == nil {
		return "", nil
	}
	var conds []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}
	add("migration_id", f.MigrationID)
	add("schema", f.Schema)
	add("table_name", f.Table)
	add("connection", f.Connection)
	add("backend", f.Backend)
	add(statusColumn, f.Status)
	add("version", f.Version)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitClause(f *state.MigrationFilters) string {
	if f == nil || f.Limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(f.Limit)
}

// GetMigrationHistory retrieves migration history with optional filters
func (t *Tracker) GetMigrationHistory(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationRecord, error) {
	where, args := filterClause(filters, "status")
	query := fmt.Sprintf(`SELECT id, migration_id, schema, table_name, version, name, connection, backend,
	direction, applied_at, status, error_message, executed_by, execution_method, execution_context
FROM %s%s ORDER BY applied_at DESC, id DESC%s`, t.table("migrations_history"), where, limitClause(filters))

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*state.MigrationRecord
	for rows.Next() {
		var r state.MigrationRecord
		var id int
		var direction string
		var appliedAt time.Time
		if err := rows.Scan(&id, &r.MigrationID, &r.Schema, &r.Table, &r.Version, &r.Name, &r.Connection,
			&r.Backend, &direction, &appliedAt, &r.Status, &r.ErrorMessage, &r.ExecutedBy,
			&r.ExecutionMethod, &r.ExecutionContext); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		r.ID = strconv.Itoa(id)
		r.Direction = backends.Direction(direction)
		r.AppliedAt = appliedAt.UTC().Format(time.RFC3339)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// GetMigrationList retrieves the list of migrations with their last status
func (t *Tracker) GetMigrationList(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationListItem, error) {
	where, args := filterClause(filters, "last_status")
	query := fmt.Sprintf(`SELECT migration_id, schema, table_name, version, name, connection, backend,
	last_status, last_applied_at, last_error_message
FROM %s%s ORDER BY version, migration_id, schema%s`, t.table("migrations_list"), where, limitClause(filters))

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*state.MigrationListItem
	for rows.Next() {
		var item state.MigrationListItem
		var lastAppliedAt sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&item.MigrationID, &item.Schema, &item.Table, &item.Version, &item.Name,
			&item.Connection, &item.Backend, &item.LastStatus, &lastAppliedAt, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan migration list item: %w", err)
		}
		if lastAppliedAt.Valid {
			item.LastAppliedAt = lastAppliedAt.Time.UTC().Format(time.RFC3339)
		}
		item.LastErrorMessage = lastError.String
		item.Applied = item.LastStatus == state.StatusSuccess
		items = append(items, &item)
	}
	return items, rows.Err()
}

// IsMigrationApplied checks if a migration is applied to schema
func (t *Tracker) IsMigrationApplied(ctx context.Context, migrationID, migrationSchema string) (bool, error) {
	query := fmt.Sprintf("SELECT last_status FROM %s WHERE migration_id = $1 AND schema = $2", t.table("migrations_list"))
	var status string
	err := t.db.QueryRowContext(ctx, query, migrationID, migrationSchema).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return status == state.StatusSuccess, nil
}

// RegisterScannedMigration registers a migration in migrations_list as pending
func (t *Tracker) RegisterScannedMigration(ctx context.Context, item *state.MigrationListItem) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (migration_id, schema, table_name, version, name, connection, backend, last_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
ON CONFLICT (migration_id, schema) DO UPDATE SET
	table_name = EXCLUDED.table_name,
	version = EXCLUDED.version,
	name = EXCLUDED.name,
	last_updated_at = CURRENT_TIMESTAMP`, t.table("migrations_list")),
		item.MigrationID, item.Schema, item.Table, item.Version, item.Name, item.Connection, item.Backend)
	if err != nil {
		return fmt.Errorf("failed to register scanned migration: %w", err)
	}
	return nil
}

// DeleteMigration deletes a migration from migrations_list; history rows
// follow through the foreign key.
func (t *Tracker) DeleteMigration(ctx context.Context, migrationID string) error {
	res, err := t.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE migration_id = $1", t.table("migrations_list")), migrationID)
	if err != nil {
		return fmt.Errorf("failed to delete migration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		logger.Warnf("DeleteMigration: %s was not tracked", migrationID)
	}
	return nil
}

// Close closes the database connection
func (t *Tracker) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}
