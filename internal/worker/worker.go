package worker

import (
	"context"
	"fmt"

	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/queue"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

// Runner is the part of *executor.Executor a worker drives.
type Runner interface {
	ExecuteUp(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemas []string, dryRun bool) (*executor.ExecuteResult, error)
	ExecuteDown(ctx context.Context, migrationID string, schemas []string, dryRun bool) (*executor.ExecuteResult, error)
	Rollback(ctx context.Context, migrationID, schema string) (*executor.RollbackResult, error)
}

// Worker processes migration jobs from the queue
type Worker struct {
	runner Runner
	queue  queue.Queue
}

// NewWorker creates a new migration worker
func NewWorker(runner Runner, q queue.Queue) *Worker {
	return &Worker{
		runner: runner,
		queue:  q,
	}
}

// Start consumes jobs until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	logger.Infof("Starting migration worker on %s...", w.queue.Name())
	return w.queue.Consume(ctx, w.processJob)
}

// processJob runs a single migration job with the submitter recorded as executor
func (w *Worker) processJob(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	logger.WithFields(map[string]interface{}{
		"job_id":     job.ID,
		"action":     job.Action,
		"connection": job.Connection,
	}).Info("Processing migration job")

	executedBy := job.ExecutedBy
	if executedBy == "" {
		executedBy = "worker"
	}
	execCtx := map[string]interface{}{"job_id": job.ID}
	for k, v := range job.Metadata {
		execCtx[k] = v
	}
	ctx = executor.SetExecutionContext(ctx, executedBy, state.MethodWorker, execCtx)

	var (
		result *executor.ExecuteResult
		err    error
	)
	switch job.Action {
	case queue.ActionUp, "":
		result, err = w.runner.ExecuteUp(ctx, executor.ConvertQueueTarget(job.Target), job.Connection, job.Schemas, job.DryRun)
	case queue.ActionDown:
		result, err = w.runner.ExecuteDown(ctx, job.MigrationID, job.Schemas, job.DryRun)
	case queue.ActionRollback:
		result, err = w.rollback(ctx, job)
	default:
		err = fmt.Errorf("unknown job action %q", job.Action)
	}
	if err != nil {
		return &queue.JobResult{
			JobID:   job.ID,
			Success: false,
			Errors:  []string{err.Error()},
		}, err
	}

	return &queue.JobResult{
		JobID:   job.ID,
		Success: result.Success,
		Applied: result.Applied,
		Skipped: result.Skipped,
		Errors:  result.Errors,
	}, nil
}

func (w *Worker) rollback(ctx context.Context, job *queue.Job) (*executor.ExecuteResult, error) {
	schema := ""
	if len(job.Schemas) > 0 {
		schema = job.Schemas[0]
	}
	rb, err := w.runner.Rollback(ctx, job.MigrationID, schema)
	if err != nil {
		return nil, err
	}
	result := &executor.ExecuteResult{Success: rb.Success, Applied: []string{}, Skipped: []string{}, Errors: rb.Errors}
	if rb.Success {
		result.Applied = append(result.Applied, job.MigrationID)
	}
	return result, nil
}

// Stop stops the worker
func (w *Worker) Stop() error {
	logger.Info("Stopping migration worker...")
	return w.queue.Close()
}
