package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
)

var (
	// ErrInvalidMigration is returned by Register for scripts missing identity fields.
	ErrInvalidMigration = errors.New("invalid migration")
	// ErrMigrationNotFound is returned for an ID no registered migration has.
	ErrMigrationNotFound = errors.New("migration not found")
)

// MigrationTarget specifies which migrations to execute
type MigrationTarget struct {
	Backend    string   // Backend type filter
	Schema     string   // Schema filter (optional)
	Tables     []string // Table filters (optional, empty = all)
	Version    string   // Version filter (optional, empty = all)
	Connection string   // Connection name filter
}

// Registry manages migration script registration and lookup. Every lookup
// returns migrations ordered by version, then ID.
type Registry interface {
	// Register registers a migration script, replacing one with the same ID
	Register(migration *backends.MigrationScript) error

	// FindByTarget finds migrations matching a target specification
	FindByTarget(target *MigrationTarget) ([]*backends.MigrationScript, error)

	// GetAll returns all registered migrations
	GetAll() []*backends.MigrationScript

	// GetByID returns the migration registered under id, or nil
	GetByID(id string) *backends.MigrationScript

	// GetByConnection returns migrations for a specific connection
	GetByConnection(connectionName string) []*backends.MigrationScript

	// GetByBackend returns migrations for a specific backend
	GetByBackend(backendName string) []*backends.MigrationScript

	// GetMigrationByName finds migrations by name across all connections/backends
	GetMigrationByName(name string) []*backends.MigrationScript

	// GetMigrationByVersion finds migrations by version across all connections/backends
	GetMigrationByVersion(version string) []*backends.MigrationScript

	// GetMigrationByConnectionAndVersion finds migrations by connection and version
	GetMigrationByConnectionAndVersion(connection, version string) []*backends.MigrationScript
}

// GlobalRegistry is the global migration registry instance
var GlobalRegistry Registry = NewInMemoryRegistry()

// NewInMemoryRegistry creates a new in-memory registry
func NewInMemoryRegistry() Registry {
	return &inMemoryRegistry{
		migrations: make(map[string]*backends.MigrationScript),
	}
}

type inMemoryRegistry struct {
	mu         sync.RWMutex
	migrations map[string]*backends.MigrationScript
}

func (r *inMemoryRegistry) Register(migration *backends.MigrationScript) error {
	if migration == nil {
		return fmt.Errorf("%w: nil script", ErrInvalidMigration)
	}
	switch {
	case migration.Version == "":
		return fmt.Errorf("%w: version is required", ErrInvalidMigration)
	case migration.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMigration)
	case migration.Connection == "":
		return fmt.Errorf("%w: connection is required for %s", ErrInvalidMigration, migration.Name)
	case migration.Backend == "":
		return fmt.Errorf("%w: backend is required for %s", ErrInvalidMigration, migration.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations[migration.ID()] = migration
	return nil
}

func (r *inMemoryRegistry) FindByTarget(target *MigrationTarget) ([]*backends.MigrationScript, error) {
	if target == nil {
		return r.GetAll(), nil
	}
	return r.filter(func(m *backends.MigrationScript) bool {
		if target.Backend != "" && m.Backend != target.Backend {
			return false
		}
		if target.Connection != "" && m.Connection != target.Connection {
			return false
		}
		if target.Schema != "" && m.Schema != target.Schema {
			return false
		}
		if len(target.Tables) > 0 {
			if m.Table == nil {
				return false
			}
			found := false
			for _, table := range target.Tables {
				if *m.Table == table {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return target.Version == "" || m.Version == target.Version
	}), nil
}

func (r *inMemoryRegistry) GetAll() []*backends.MigrationScript {
	return r.filter(func(*backends.MigrationScript) bool { return true })
}

func (r *inMemoryRegistry) GetByID(id string) *backends.MigrationScript {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.migrations[id]
}

func (r *inMemoryRegistry) GetByConnection(connectionName string) []*backends.MigrationScript {
	return r.filter(func(m *backends.MigrationScript) bool { return m.Connection == connectionName })
}

func (r *inMemoryRegistry) GetByBackend(backendName string) []*backends.MigrationScript {
	return r.filter(func(m *backends.MigrationScript) bool { return m.Backend == backendName })
}

func (r *inMemoryRegistry) GetMigrationByName(name string) []*backends.MigrationScript {
	return r.filter(func(m *backends.MigrationScript) bool { return m.Name == name })
}

func (r *inMemoryRegistry) GetMigrationByVersion(version string) []*backends.MigrationScript {
	return r.filter(func(m *backends.MigrationScript) bool { return m.Version == version })
}

func (r *inMemoryRegistry) GetMigrationByConnectionAndVersion(connection, version string) []*backends.MigrationScript {
	return r.filter(func(m *backends.MigrationScript) bool {
		return m.Connection == connection && m.Version == version
	})
}

func (r *inMemoryRegistry) filter(keep func(*backends.MigrationScript) bool) []*backends.MigrationScript {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*backends.MigrationScript
	for _, m := range r.migrations {
		if keep(m) {
			results = append(results, m)
		}
	}
	SortByVersion(results)
	return results
}

// SortByVersion orders migrations by version, then ID.
func SortByVersion(migrations []*backends.MigrationScript) {
	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Version != migrations[j].Version {
			return migrations[i].Version < migrations[j].Version
		}
		return migrations[i].ID() < migrations[j].ID()
	})
}
