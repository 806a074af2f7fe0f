package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotRehearsable is returned when a migration cannot be rehearsed in its current state.
	ErrNotRehearsable = errors.New("migration cannot be rehearsed")
	// ErrMigrationFailed wraps an error raised by a migration body or its guards.
	ErrMigrationFailed = errors.New("migration failed")
)

// Direction is the direction a migration body runs in.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Querier is the subset of *sql.DB / *sql.Tx a guard or verifier needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Guard holds assertions run inside the migration transaction, around the body.
// A non-nil error from either hook aborts the transaction.
type Guard interface {
	Before(ctx context.Context, q Querier, dir Direction) error
	After(ctx context.Context, q Querier, dir Direction) error
}

// Dependency represents a structured dependency on another migration
type Dependency struct {
	Connection     string // Connection name (e.g., "profitsharing")
	Schema         string // Schema name (optional, for cross-schema dependencies)
	Target         string // Migration version or name to depend on
	TargetType     string // "version" or "name" (default: "name")
	RequiresTable  string // Optional table that must exist before execution
	RequiresSchema string // Optional schema that must exist before execution
}

func (d Dependency) String() string {
	s := fmt.Sprintf("target=%s", d.Target)
	if d.Connection != "" {
		s = fmt.Sprintf("connection=%s, %s", d.Connection, s)
	}
	if d.TargetType != "" && d.TargetType != "name" {
		s += ", type=" + d.TargetType
	}
	return s
}

// MigrationScript is one versioned, reversible migration.
type MigrationScript struct {
	Schema                 string
	Table                  *string // Optional: the table a migration is mainly about
	Version                string  // Required: version timestamp
	Name                   string
	Connection             string
	Backend                string
	UpSQL                  string
	DownSQL                string
	Dependencies           []string     // Optional: names of migrations this one depends on
	StructuredDependencies []Dependency // Optional: dependencies with validation requirements
	Tables                 []string     // Optional: every table the migration touches, snapshotted by rehearsals
	Guard                  func() Guard // Optional: builds fresh in-transaction assertions for one run
}

// ID returns the registry key {version}_{name}_{backend}_{connection}.
func (m *MigrationScript) ID() string {
	return fmt.Sprintf("%s_%s_%s_%s", m.Version, m.Name, m.Backend, m.Connection)
}

// Body returns the SQL for dir.
func (m *MigrationScript) Body(dir Direction) string {
	if dir == Down {
		return m.DownSQL
	}
	return m.UpSQL
}

// Backend represents a database backend that can execute migrations
type Backend interface {
	// Name returns the name of the backend (e.g., "postgresql")
	Name() string

	// Connect establishes a connection to the backend
	Connect(config *ConnectionConfig) error

	// Close closes the connection to the backend
	Close() error

	// ExecuteMigration runs the migration body for dir together with its guard
	ExecuteMigration(ctx context.Context, migration *MigrationScript, dir Direction) error

	// CreateSchema creates a schema/database if it doesn't exist
	CreateSchema(ctx context.Context, schemaName string) error

	// SchemaExists checks if a schema/database exists
	SchemaExists(ctx context.Context, schemaName string) (bool, error)

	// HealthCheck verifies the backend is accessible
	HealthCheck(ctx context.Context) error
}

// Rehearser is implemented by backends with transactional DDL. Rehearse runs
// Up then Down in one transaction, compares the state before and after, and
// rolls everything back.
type Rehearser interface {
	Rehearse(ctx context.Context, migration *MigrationScript, tables []string) (*RehearsalReport, error)
}

// RehearsalReport is the outcome of a rehearsal. Differences is empty when
// Down restored what Up changed.
type RehearsalReport struct {
	MigrationID  string
	Schema       string
	Tables       []string
	Differences  []string
	UpDuration   string
	DownDuration string
}

// Clean reports whether the rehearsal found no differences.
func (r *RehearsalReport) Clean() bool {
	return len(r.Differences) == 0
}

// ConnectionConfig holds configuration for a backend connection
type ConnectionConfig struct {
	Backend  string // "postgresql"
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string            // Can be fixed or dynamic
	Extra    map[string]string // Additional backend-specific config (e.g. sslmode)
}
