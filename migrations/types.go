package migrations

import "github.com/demoulas/profitsharing-migrator/internal/backends"

// MigrationScript is a public alias for backends.MigrationScript
type MigrationScript = backends.MigrationScript

// Dependency is a public alias for backends.Dependency
type Dependency = backends.Dependency

// Guard is a public alias for backends.Guard
type Guard = backends.Guard

// Querier is a public alias for backends.Querier
type Querier = backends.Querier

// Direction is a public alias for backends.Direction
type Direction = backends.Direction

const (
	Up   = backends.Up
	Down = backends.Down
)
