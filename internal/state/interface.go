package state

import (
	"context"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
)

// Execution statuses stored in migrations_history and migrations_list.
const (
	StatusPending    = "pending"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Execution methods.
const (
	MethodAPI    = "api"
	MethodCLI    = "cli"
	MethodWorker = "worker"
	MethodManual = "manual"
)

// MigrationRecord represents one execution of a migration in one direction
type MigrationRecord struct {
	ID               string
	MigrationID      string // Registry ID: {version}_{name}_{backend}_{connection}
	Schema           string
	Table            string
	Version          string
	Name             string
	Connection       string
	Backend          string
	Direction        backends.Direction
	AppliedAt        string
	Status           string // "success", "failed", "rolled_back"
	ErrorMessage     string
	ExecutedBy       string // User identifier (from auth context)
	ExecutionMethod  string // "manual", "api", "cli", "worker"
	ExecutionContext string // JSON with additional context (job_id, request_id, etc.)
}

// MigrationListItem represents a migration in the list with its last execution status
type MigrationListItem struct {
	MigrationID      string
	Schema           string
	Table            string
	Version          string
	Name             string
	Connection       string
	Backend          string
	LastStatus       string
	LastAppliedAt    string
	LastErrorMessage string
	Applied          bool
}

// StateTracker manages migration state tracking. Rows are keyed by migration
// ID and schema, so one script applied to two schemas has two entries.
type StateTracker interface {
	// Initialize sets up the state tracking tables
	Initialize(ctx context.Context) error

	// RecordMigration records a migration execution and updates its last status
	RecordMigration(ctx context.Context, record *MigrationRecord) error

	// GetMigrationHistory retrieves migration history with optional filters, newest first
	GetMigrationHistory(ctx context.Context, filters *MigrationFilters) ([]*MigrationRecord, error)

	// GetMigrationList retrieves the list of migrations with their last status
	GetMigrationList(ctx context.Context, filters *MigrationFilters) ([]*MigrationListItem, error)

	// IsMigrationApplied checks if a migration is currently applied to schema
	IsMigrationApplied(ctx context.Context, migrationID, schema string) (bool, error)

	// RegisterScannedMigration registers a migration in migrations_list as pending
	// unless it is already known
	RegisterScannedMigration(ctx context.Context, item *MigrationListItem) error

	// DeleteMigration deletes a migration from migrations_list (cascades to history)
	DeleteMigration(ctx context.Context, migrationID string) error

	// Close releases the tracker's connection
	Close() error
}

// MigrationFilters specifies filters for querying migrations
type MigrationFilters struct {
	MigrationID string
	Schema      string
	Table       string
	Connection  string
	Backend     string
	Status      string
	Version     string
	Limit       int
}

// ListItemFor describes m as a pending migrations_list entry for schema.
func ListItemFor(m *backends.MigrationScript, schema string) *MigrationListItem {
	table := ""
	if m.Table != nil {
		table = *m.Table
	}
	return &MigrationListItem{
		MigrationID: m.ID(),
		Schema:      schema,
		Table:       table,
		Version:     m.Version,
		Name:        m.Name,
		Connection:  m.Connection,
		Backend:     m.Backend,
		LastStatus:  StatusPending,
	}
}
