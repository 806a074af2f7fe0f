// Package bootstrap wires the executor the binaries share: state tracker,
// backends, connections, lock, and the SQL-file loader.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/backends/postgresql"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/lock"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
	statepg "github.com/demoulas/profitsharing-migrator/internal/state/postgresql"

	// Compiled-in profit-sharing migrations.
	_ "github.com/demoulas/profitsharing-migrator/migrations/profitsharing"
)

// Runtime is a ready executor plus the resources it owns.
type Runtime struct {
	Executor *executor.Executor
	Tracker  state.StateTracker
	Loader   *executor.Loader
	Registry registry.Registry

	locker lock.Locker
}

// New connects to the state database and builds an executor over the global
// registry, with SQL-file migrations from cfg.Server.MigrationsPath loaded.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	tracker, err := statepg.NewTracker(ctx, cfg.StateDB.DSN(), cfg.StateDB.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state tracker: %w", err)
	}
	return NewWithTracker(ctx, cfg, tracker, registry.GlobalRegistry)
}

// NewWithTracker builds the runtime around an existing tracker and registry.
func NewWithTracker(ctx context.Context, cfg *config.Config, tracker state.StateTracker, reg registry.Registry) (*Runtime, error) {
	rt := &Runtime{Tracker: tracker, Registry: reg}

	exec := executor.NewExecutor(reg, tracker)
	if err := exec.SetConnections(cfg.Connections); err != nil {
		_ = rt.Close()
		return nil, err
	}
	exec.RegisterBackend("postgresql", postgresql.NewBackend())

	locker, err := cfg.Lock.NewLocker()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create locker: %w", err)
	}
	rt.locker = locker
	exec.SetLocker(locker)
	rt.Executor = exec

	rt.Loader = executor.NewLoader(cfg.Server.MigrationsPath)
	rt.Loader.SetOnLoad(func(m *backends.MigrationScript) {
		item := state.ListItemFor(m, exec.ResolveSchema(m.ID(), ""))
		if err := tracker.RegisterScannedMigration(ctx, item); err != nil {
			logger.Warnf("Failed to register scanned migration %s: %v", m.ID(), err)
		}
	})
	n, err := rt.Loader.LoadAll(reg)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	logger.Infof("Loaded %d SQL migration(s) from %s, %d registered in total",
		n, cfg.Server.MigrationsPath, len(reg.GetAll()))

	return rt, nil
}

// Close stops the loader and releases the lock client and the tracker.
func (rt *Runtime) Close() error {
	var result *multierror.Error
	if rt.Loader != nil {
		rt.Loader.StopWatching()
	}
	if rt.locker != nil {
		if err := rt.locker.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close locker: %w", err))
		}
	}
	if rt.Tracker != nil {
		if err := rt.Tracker.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close tracker: %w", err))
		}
	}
	return result.ErrorOrNil()
}
