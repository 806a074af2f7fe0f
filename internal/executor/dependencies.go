package executor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
)

// tableChecker is implemented by backends that can look up a table.
type tableChecker interface {
	TableExists(ctx context.Context, schemaName, tableName string) (bool, error)
}

// validateDependencies checks that every migration m depends on is applied to
// the schema schemaOf resolves for it (or planned earlier in the same dry run)
// and that any schema or table a structured dependency requires exists.
func (e *Executor) validateDependencies(ctx context.Context, backend backends.Backend, m *backends.MigrationScript, schema string, schemaOf func(*backends.MigrationScript) string, planned map[string]bool) error {
	var result *multierror.Error

	targets, err := e.resolver.DependenciesOf(m)
	if err != nil {
		return err
	}
	for _, target := range targets {
		id := target.ID()
		targetSchema := schemaOf(target)
		if planned[appliedKey(id, targetSchema)] {
			continue
		}
		applied, err := e.stateTracker.IsMigrationApplied(ctx, id, targetSchema)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to check dependency %s: %w", id, err))
			continue
		}
		if !applied {
			result = multierror.Append(result, fmt.Errorf("dependency %s is not applied", id))
		}
	}

	for _, dep := range m.StructuredDependencies {
		depSchema := dep.Schema
		if depSchema == "" {
			depSchema = schema
		}
		if dep.RequiresSchema != "" {
			exists, err := backend.SchemaExists(ctx, dep.RequiresSchema)
			switch {
			case err != nil:
				result = multierror.Append(result, fmt.Errorf("failed to check schema %s: %w", dep.RequiresSchema, err))
			case !exists:
				result = multierror.Append(result, fmt.Errorf("required schema %s does not exist", dep.RequiresSchema))
			}
		}
		if dep.RequiresTable != "" {
			checker, ok := backend.(tableChecker)
			if !ok {
				result = multierror.Append(result, fmt.Errorf("backend %s cannot check required table %s", backend.Name(), dep.RequiresTable))
				continue
			}
			exists, err := checker.TableExists(ctx, depSchema, dep.RequiresTable)
			switch {
			case err != nil:
				result = multierror.Append(result, fmt.Errorf("failed to check table %s.%s: %w", depSchema, dep.RequiresTable, err))
			case !exists:
				result = multierror.Append(result, fmt.Errorf("required table %s.%s does not exist", depSchema, dep.RequiresTable))
			}
		}
	}

	return result.ErrorOrNil()
}

// checkDependents refuses to revert m while a migration that depends on it is
// still applied to schema.
func (e *Executor) checkDependents(ctx context.Context, m *backends.MigrationScript, schema string) error {
	for _, dependent := range e.resolver.DependentsOf(m) {
		applied, err := e.stateTracker.IsMigrationApplied(ctx, dependent.ID(), schema)
		if err != nil {
			return fmt.Errorf("failed to check dependent %s: %w", dependent.ID(), err)
		}
		if applied {
			return fmt.Errorf("dependent migration %s is still applied", dependent.ID())
		}
	}
	return nil
}
