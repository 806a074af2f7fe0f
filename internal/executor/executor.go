package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/lock"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/metrics"
	"github.com/demoulas/profitsharing-migrator/internal/queue"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

// DefaultSchema is used when neither the request, the script nor the
// connection names a schema.
const DefaultSchema = "public"

// Executor executes migrations
type Executor struct {
	registry     registry.Registry
	resolver     *registry.DependencyResolver
	stateTracker state.StateTracker
	backends     map[string]backends.Backend
	connections  map[string]*backends.ConnectionConfig
	queue        queue.Queue // Optional queue for async execution
	locker       lock.Locker
	mu           sync.Mutex

	// runMu serializes runs in this process; backends hold a single connection.
	runMu sync.Mutex
}

// NewExecutor creates a new migration executor
func NewExecutor(reg registry.Registry, tracker state.StateTracker) *Executor {
	return &Executor{
		registry:     reg,
		resolver:     registry.NewDependencyResolver(reg),
		stateTracker: tracker,
		backends:     make(map[string]backends.Backend),
		connections:  make(map[string]*backends.ConnectionConfig),
		locker:       lock.Noop{},
	}
}

// SetConnections sets the connection configurations
func (e *Executor) SetConnections(connections map[string]*backends.ConnectionConfig) error {
	if connections == nil {
		return fmt.Errorf("connections map cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections = connections
	return nil
}

// SetQueue sets the queue for async execution
func (e *Executor) SetQueue(q queue.Queue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = q
}

// HasQueue reports whether Execute publishes jobs instead of running them.
func (e *Executor) HasQueue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue != nil
}

// SetLocker sets the lock taken around every mutating run. nil disables locking.
func (e *Executor) SetLocker(l lock.Locker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l == nil {
		l = lock.Noop{}
	}
	e.locker = l
}

// RegisterBackend registers a backend for use in migrations
func (e *Executor) RegisterBackend(name string, backend backends.Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backends[name] = backend
}

// GetRegistry returns the migration registry
func (e *Executor) GetRegistry() registry.Registry {
	return e.registry
}

// GetStateTracker returns the state tracker
func (e *Executor) GetStateTracker() state.StateTracker {
	return e.stateTracker
}

// GetBackend returns a backend by name
func (e *Executor) GetBackend(name string) backends.Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backends[name]
}

// GetConnectionConfig returns a connection config by name
func (e *Executor) GetConnectionConfig(name string) (*backends.ConnectionConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	config, ok := e.connections[name]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", name)
	}
	return config, nil
}

// ExecuteResult represents the result of migration execution
type ExecuteResult struct {
	Success bool
	Applied []string
	Skipped []string
	Errors  []string
	Queued  bool   // Whether the job was queued instead of executed
	JobID   string // Job ID if queued
}

func newResult() *ExecuteResult {
	return &ExecuteResult{Applied: []string{}, Skipped: []string{}, Errors: []string{}}
}

func (r *ExecuteResult) merge(other *ExecuteResult) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Errors = append(r.Errors, other.Errors...)
}

func (r *ExecuteResult) finish() *ExecuteResult {
	r.Success = len(r.Errors) == 0
	return r
}

// RollbackResult represents the result of a rollback operation
type RollbackResult struct {
	Success bool
	Message string
	Errors  []string
}

// Execute runs up migrations for target, or publishes a job when a queue is configured.
func (e *Executor) Execute(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemas []string, dryRun bool) (*ExecuteResult, error) {
	if e.HasQueue() {
		executedBy, _, _ := GetExecutionContext(ctx)
		return e.Enqueue(ctx, &queue.Job{
			Action:     queue.ActionUp,
			Target:     convertTarget(target),
			Connection: connectionName,
			Schemas:    schemas,
			DryRun:     dryRun,
			ExecutedBy: executedBy,
		})
	}
	return e.ExecuteUp(ctx, target, connectionName, schemas, dryRun)
}

// Enqueue publishes job to the configured queue.
func (e *Executor) Enqueue(ctx context.Context, job *queue.Job) (*ExecuteResult, error) {
	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()
	if q == nil {
		return nil, fmt.Errorf("no queue configured")
	}

	if job.ID == "" {
		job.ID = queue.NewJobID()
	}
	if err := q.PublishJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue migration job: %w", err)
	}
	metrics.JobQueued(q.Name())
	logger.Infof("Queued %s job %s on %s", job.Action, job.ID, q.Name())

	result := newResult()
	result.Success = true
	result.Queued = true
	result.JobID = job.ID
	return result, nil
}

// convertTarget converts registry.MigrationTarget to queue.MigrationTarget
func convertTarget(target *registry.MigrationTarget) *queue.MigrationTarget {
	if target == nil {
		return nil
	}
	return &queue.MigrationTarget{
		Backend:    target.Backend,
		Schema:     target.Schema,
		Tables:     target.Tables,
		Version:    target.Version,
		Connection: target.Connection,
	}
}

// ConvertQueueTarget converts a queued target back into a registry target.
func ConvertQueueTarget(target *queue.MigrationTarget) *registry.MigrationTarget {
	if target == nil {
		return nil
	}
	return &registry.MigrationTarget{
		Backend:    target.Backend,
		Schema:     target.Schema,
		Tables:     target.Tables,
		Version:    target.Version,
		Connection: target.Connection,
	}
}

// ExecuteUp applies pending migrations matching target to every schema in
// schemas, in dependency order. Within a schema the first failure stops the
// run and every later migration is reported as skipped.
func (e *Executor) ExecuteUp(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemas []string, dryRun bool) (*ExecuteResult, error) {
	filter := registry.MigrationTarget{}
	if target != nil {
		filter = *target
	}
	target = &filter
	if connectionName == "" {
		connectionName = target.Connection
	}
	if target.Connection == "" {
		target.Connection = connectionName
	}

	migrations, err := e.registry.FindByTarget(target)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}
	result := newResult()
	if len(migrations) == 0 {
		return result.finish(), nil
	}

	ordered, err := e.resolver.ResolveDependencies(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to order migrations: %w", err)
	}

	connectionConfig, err := e.GetConnectionConfig(connectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection config: %w", err)
	}
	backend := e.GetBackend(connectionConfig.Backend)
	if backend == nil {
		return nil, fmt.Errorf("backend %s not registered", connectionConfig.Backend)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := backend.Connect(connectionConfig); err != nil {
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer func() { _ = backend.Close() }()

	if len(schemas) == 0 {
		schemas = []string{""}
	}
	for _, requested := range schemas {
		schemaResult, err := e.upSchema(ctx, backend, connectionName, requested, connectionConfig, ordered, dryRun)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("schema %s: %v", resolveSchema(requested, "", connectionConfig), err))
			continue
		}
		result.merge(schemaResult)
	}
	return result.finish(), nil
}

// upSchema applies ordered for one requested schema. When requested is empty
// each migration falls back to its own schema, then the connection's.
func (e *Executor) upSchema(ctx context.Context, backend backends.Backend, connection, requested string, cfg *backends.ConnectionConfig, ordered []*backends.MigrationScript, dryRun bool) (*ExecuteResult, error) {
	result := newResult()

	schemaOf := func(m *backends.MigrationScript) string {
		return resolveSchema(requested, m.Schema, cfg)
	}

	if !dryRun {
		// Locks are taken in sorted order so concurrent runs cannot deadlock.
		var touched []string
		seen := make(map[string]bool)
		for _, m := range ordered {
			if s := schemaOf(m); !seen[s] {
				seen[s] = true
				touched = append(touched, s)
			}
		}
		sort.Strings(touched)
		var leases []lock.Lease
		defer func() {
			for _, lease := range leases {
				_ = lease.Release(context.Background())
			}
		}()
		for _, s := range touched {
			lease, err := e.acquire(ctx, connection, s)
			if err != nil {
				return nil, err
			}
			leases = append(leases, lease)
		}
	}

	// planned holds migrations a dry run would have applied; they satisfy later dependencies.
	planned := make(map[string]bool)
	failed := make(map[string]bool)
	for _, migration := range ordered {
		id := migration.ID()
		schema := schemaOf(migration)
		label := runLabel(id, schema)

		if failed[schema] {
			result.Skipped = append(result.Skipped, label+" (not run: earlier failure)")
			metrics.ObserveExecution(id, string(backends.Up), metrics.OutcomeSkipped)
			continue
		}

		applied, err := e.stateTracker.IsMigrationApplied(ctx, id, schema)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to check migration status for %s: %v", label, err))
			failed[schema] = true
			continue
		}
		if applied {
			result.Skipped = append(result.Skipped, label)
			metrics.ObserveExecution(id, string(backends.Up), metrics.OutcomeSkipped)
			continue
		}

		if err := e.validateDependencies(ctx, backend, migration, schema, schemaOf, planned); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", label, err))
			failed[schema] = true
			continue
		}

		if dryRun {
			planned[appliedKey(id, schema)] = true
			result.Applied = append(result.Applied, label+" (dry-run)")
			metrics.ObserveExecution(id, string(backends.Up), metrics.OutcomeDryRun)
			continue
		}

		if err := e.run(ctx, backend, migration, schema, backends.Up); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", label, err))
			failed[schema] = true
			continue
		}
		result.Applied = append(result.Applied, label)
	}
	return result, nil
}

// ExecuteDown reverts migrationID in every schema in schemas. A schema where
// the migration is not applied is skipped; one where a dependent migration
// is still applied is refused.
func (e *Executor) ExecuteDown(ctx context.Context, migrationID string, schemas []string, dryRun bool) (*ExecuteResult, error) {
	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrMigrationNotFound, migrationID)
	}
	if migration.DownSQL == "" {
		return nil, fmt.Errorf("migration %s does not have rollback SQL", migrationID)
	}

	connectionConfig, err := e.GetConnectionConfig(migration.Connection)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection config: %w", err)
	}
	backend := e.GetBackend(connectionConfig.Backend)
	if backend == nil {
		return nil, fmt.Errorf("backend %s not registered", connectionConfig.Backend)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := backend.Connect(connectionConfig); err != nil {
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer func() { _ = backend.Close() }()

	if len(schemas) == 0 {
		schemas = []string{""}
	}
	result := newResult()
	for _, requested := range schemas {
		schema := resolveSchema(requested, migration.Schema, connectionConfig)
		label := runLabel(migrationID, schema)

		applied, err := e.stateTracker.IsMigrationApplied(ctx, migrationID, schema)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to check migration status: %v", label, err))
			continue
		}
		if !applied {
			result.Skipped = append(result.Skipped, label+" (not applied)")
			metrics.ObserveExecution(migrationID, string(backends.Down), metrics.OutcomeSkipped)
			continue
		}

		if err := e.checkDependents(ctx, migration, schema); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", label, err))
			continue
		}

		if dryRun {
			result.Applied = append(result.Applied, label+" (dry-run)")
			metrics.ObserveExecution(migrationID, string(backends.Down), metrics.OutcomeDryRun)
			continue
		}

		if err := e.downOne(ctx, backend, migration, migration.Connection, schema); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		result.Applied = append(result.Applied, label)
	}
	return result.finish(), nil
}

func (e *Executor) downOne(ctx context.Context, backend backends.Backend, migration *backends.MigrationScript, connection, schema string) error {
	lease, err := e.acquire(ctx, connection, schema)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release(context.Background()) }()
	return e.run(ctx, backend, migration, schema, backends.Down)
}

// Rollback reverts migrationID in a single schema.
func (e *Executor) Rollback(ctx context.Context, migrationID, schema string) (*RollbackResult, error) {
	var schemas []string
	if schema != "" {
		schemas = []string{schema}
	}
	result, err := e.ExecuteDown(ctx, migrationID, schemas, false)
	if err != nil {
		return nil, err
	}

	switch {
	case len(result.Errors) > 0:
		return &RollbackResult{Success: false, Message: "rollback failed", Errors: result.Errors}, nil
	case len(result.Applied) == 0:
		return &RollbackResult{
			Success: false,
			Message: "migration is not applied",
			Errors:  []string{"migration is not applied"},
		}, nil
	}
	return &RollbackResult{Success: true, Message: "rollback completed successfully", Errors: []string{}}, nil
}

// run executes one migration body and records the outcome.
func (e *Executor) run(ctx context.Context, backend backends.Backend, migration *backends.MigrationScript, schema string, dir backends.Direction) error {
	id := migration.ID()
	scoped := *migration
	scoped.Schema = schema

	logger.Infof("Running %s %s on %s/%s", dir, id, migration.Connection, schema)
	done := metrics.InstrumentExecution(id, string(dir))
	execErr := backend.ExecuteMigration(ctx, &scoped, dir)

	record := e.newRecord(ctx, migration, schema, dir)
	if execErr != nil {
		done(metrics.OutcomeFailed)
		record.Status = state.StatusFailed
		record.ErrorMessage = execErr.Error()
		logger.Errorf("Migration %s %s failed on %s: %v", id, dir, schema, execErr)
	} else {
		done(metrics.OutcomeApplied)
		record.Status = state.StatusSuccess
	}

	if err := e.stateTracker.RecordMigration(ctx, record); err != nil {
		if execErr != nil {
			return fmt.Errorf("%w (and failed to record it: %v)", execErr, err)
		}
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return execErr
}

func (e *Executor) newRecord(ctx context.Context, migration *backends.MigrationScript, schema string, dir backends.Direction) *state.MigrationRecord {
	executedBy, executionMethod, executionContext := GetExecutionContext(ctx)
	table := ""
	if migration.Table != nil {
		table = *migration.Table
	}
	return &state.MigrationRecord{
		MigrationID:      migration.ID(),
		Schema:           schema,
		Table:            table,
		Version:          migration.Version,
		Name:             migration.Name,
		Connection:       migration.Connection,
		Backend:          migration.Backend,
		Direction:        dir,
		AppliedAt:        time.Now().UTC().Format(time.RFC3339),
		ExecutedBy:       executedBy,
		ExecutionMethod:  executionMethod,
		ExecutionContext: executionContext,
	}
}

func (e *Executor) acquire(ctx context.Context, connection, schema string) (lock.Lease, error) {
	e.mu.Lock()
	locker := e.locker
	e.mu.Unlock()

	lease, err := locker.Acquire(ctx, lock.Key(connection, schema))
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s/%s: %w", connection, schema, err)
	}
	return lease, nil
}

// Rehearse runs Up then Down for migrationID inside one rolled-back
// transaction and reports how the touched tables differ afterwards.
func (e *Executor) Rehearse(ctx context.Context, migrationID, schema string) (*backends.RehearsalReport, error) {
	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrMigrationNotFound, migrationID)
	}

	connectionConfig, err := e.GetConnectionConfig(migration.Connection)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection config: %w", err)
	}
	backend := e.GetBackend(connectionConfig.Backend)
	if backend == nil {
		return nil, fmt.Errorf("backend %s not registered", connectionConfig.Backend)
	}
	rehearser, ok := backend.(backends.Rehearser)
	if !ok {
		return nil, fmt.Errorf("%w: backend %s cannot rehearse migrations", backends.ErrNotRehearsable, backend.Name())
	}

	schema = resolveSchema(schema, migration.Schema, connectionConfig)
	applied, err := e.stateTracker.IsMigrationApplied(ctx, migrationID, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}
	if applied {
		return nil, fmt.Errorf("%w: %s is already applied to %s", backends.ErrNotRehearsable, migrationID, schema)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := backend.Connect(connectionConfig); err != nil {
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer func() { _ = backend.Close() }()

	lease, err := e.acquire(ctx, migration.Connection, schema)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lease.Release(context.Background()) }()

	scoped := *migration
	scoped.Schema = schema
	report, err := rehearser.Rehearse(ctx, &scoped, migration.Tables)
	if err != nil {
		return nil, err
	}
	metrics.RehearsalDifferences(migrationID, len(report.Differences))
	if !report.Clean() {
		logger.Warnf("Rehearsal of %s on %s found %d difference(s)", migrationID, schema, len(report.Differences))
	}
	return report, nil
}

// Script returns the SQL migrationID runs in dir.
func (e *Executor) Script(migrationID string, dir backends.Direction) (string, error) {
	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return "", fmt.Errorf("%w: %s", registry.ErrMigrationNotFound, migrationID)
	}
	return migration.Body(dir), nil
}

// GetAllMigrations returns all registered migrations
func (e *Executor) GetAllMigrations() []*backends.MigrationScript {
	return e.registry.GetAll()
}

// GetMigrationByID finds a migration by its ID
func (e *Executor) GetMigrationByID(migrationID string) *backends.MigrationScript {
	return e.registry.GetByID(migrationID)
}

// GetMigrationHistory retrieves migration history
func (e *Executor) GetMigrationHistory(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationRecord, error) {
	return e.stateTracker.GetMigrationHistory(ctx, filters)
}

// GetMigrationList retrieves the list of migrations with their last status
func (e *Executor) GetMigrationList(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationListItem, error) {
	return e.stateTracker.GetMigrationList(ctx, filters)
}

// IsMigrationApplied checks if a migration has been applied to schema
func (e *Executor) IsMigrationApplied(ctx context.Context, migrationID, schema string) (bool, error) {
	return e.stateTracker.IsMigrationApplied(ctx, migrationID, schema)
}

// HealthCheck checks that the state tracker is reachable.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.stateTracker.Initialize(ctx); err != nil {
		return fmt.Errorf("state tracker health check failed: %w", err)
	}
	return nil
}

// ResolveSchema returns the schema a run of migrationID would use when
// schema is requested (possibly empty).
func (e *Executor) ResolveSchema(migrationID, schema string) string {
	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return resolveSchema(schema, "", nil)
	}
	cfg, _ := e.GetConnectionConfig(migration.Connection)
	return resolveSchema(schema, migration.Schema, cfg)
}

func resolveSchema(requested, fallback string, cfg *backends.ConnectionConfig) string {
	switch {
	case requested != "":
		return requested
	case fallback != "":
		return fallback
	case cfg != nil && cfg.Schema != "":
		return cfg.Schema
	}
	return DefaultSchema
}

func appliedKey(migrationID, schema string) string {
	return migrationID + "@" + schema
}

func runLabel(migrationID, schema string) string {
	return schema + ":" + migrationID
}
