package state

import (
	"context"
	"sync"
	"time"

	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
)

// Reindexer keeps migrations_list in step with the registry, so migrations
// loaded from disk show up as pending before anyone runs them.
type Reindexer struct {
	tracker       StateTracker
	registry      registry.Registry
	defaultSchema string
	interval      time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReindexer creates a new reindexer
func NewReindexer(tracker StateTracker, reg registry.Registry, defaultSchema string, interval time.Duration) *Reindexer {
	return &Reindexer{
		tracker:       tracker,
		registry:      reg,
		defaultSchema: defaultSchema,
		interval:      interval,
	}
}

// Reindex registers every migration in the registry with the tracker once.
// It returns the number of migrations it saw.
func (r *Reindexer) Reindex(ctx context.Context) (int, error) {
	all := r.registry.GetAll()
	for _, m := range all {
		schema := m.Schema
		if schema == "" {
			schema = r.defaultSchema
		}
		if err := r.tracker.RegisterScannedMigration(ctx, ListItemFor(m, schema)); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

// Prune deletes migrations_list entries of migrations no longer registered,
// such as a SQL file removed before it ever ran. A migration is only pruned
// when it is pending in every schema.
func (r *Reindexer) Prune(ctx context.Context) (int, error) {
	items, err := r.tracker.GetMigrationList(ctx, &MigrationFilters{})
	if err != nil {
		return 0, err
	}
	stale := make(map[string]bool)
	var order []string
	for _, item := range items {
		if r.registry.GetByID(item.MigrationID) != nil {
			continue
		}
		if _, seen := stale[item.MigrationID]; !seen {
			order = append(order, item.MigrationID)
			stale[item.MigrationID] = true
		}
		if item.LastStatus != StatusPending {
			stale[item.MigrationID] = false
		}
	}

	pruned := 0
	for _, id := range order {
		if !stale[id] {
			continue
		}
		if err := r.tracker.DeleteMigration(ctx, id); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Start runs Reindex and Prune immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (r *Reindexer) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			if n, err := r.Reindex(ctx); err != nil {
				logger.Warnf("Reindex failed: %v", err)
			} else {
				logger.Debugf("Reindexed %d migrations", n)
			}
			if n, err := r.Prune(ctx); err != nil {
				logger.Warnf("Prune failed: %v", err)
			} else if n > 0 {
				logger.Infof("Pruned %d unregistered pending migrations", n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(r.done)
}

// Stop stops the background loop and waits for it to exit
func (r *Reindexer) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
