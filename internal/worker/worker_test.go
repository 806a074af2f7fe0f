package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/queue"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

type fakeRunner struct {
	calls      []string
	target     *registry.MigrationTarget
	schemas    []string
	executedBy string
	method     string
	context    string
	err        error
	rollback   *executor.RollbackResult
}

func (f *fakeRunner) record(ctx context.Context, call string) {
	f.calls = append(f.calls, call)
	f.executedBy, f.method, f.context = executor.GetExecutionContext(ctx)
}

func (f *fakeRunner) ExecuteUp(ctx context.Context, target *registry.MigrationTarget, _ string, schemas []string, _ bool) (*executor.ExecuteResult, error) {
	f.record(ctx, "up")
	f.target, f.schemas = target, schemas
	if f.err != nil {
		return nil, f.err
	}
	return &executor.ExecuteResult{Success: true, Applied: []string{"public:m1"}}, nil
}

func (f *fakeRunner) ExecuteDown(ctx context.Context, migrationID string, schemas []string, _ bool) (*executor.ExecuteResult, error) {
	f.record(ctx, "down "+migrationID)
	f.schemas = schemas
	return &executor.ExecuteResult{Success: false, Errors: []string{"public:m1: boom"}}, nil
}

func (f *fakeRunner) Rollback(ctx context.Context, migrationID, schema string) (*executor.RollbackResult, error) {
	f.record(ctx, "rollback "+migrationID+" "+schema)
	return f.rollback, nil
}

type fakeQueue struct {
	jobs   []*queue.Job
	closed bool
}

func (q *fakeQueue) PublishJob(context.Context, *queue.Job) error { return nil }
func (q *fakeQueue) Name() string                                { return "fake" }
func (q *fakeQueue) Close() error {
	q.closed = true
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, handler queue.JobHandler) error {
	for _, job := range q.jobs {
		if _, err := handler(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func TestProcessJobUp(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWorker(runner, &fakeQueue{})

	result, err := w.processJob(context.Background(), &queue.Job{
		ID:         "job_1",
		Action:     queue.ActionUp,
		Target:     &queue.MigrationTarget{Connection: "profitsharing", Version: "20241219153000"},
		Connection: "profitsharing",
		Schemas:    []string{"s1"},
		ExecutedBy: "alice",
		Metadata:   map[string]string{"request_id": "r1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "job_1", result.JobID)
	assert.Equal(t, []string{"public:m1"}, result.Applied)

	assert.Equal(t, "20241219153000", runner.target.Version)
	assert.Equal(t, []string{"s1"}, runner.schemas)
	assert.Equal(t, "alice", runner.executedBy)
	assert.Equal(t, state.MethodWorker, runner.method)
	assert.JSONEq(t, `{"job_id":"job_1","request_id":"r1"}`, runner.context)
}

func TestProcessJobDefaultsExecutedBy(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWorker(runner, &fakeQueue{})

	_, err := w.processJob(context.Background(), &queue.Job{ID: "job_2", Connection: "profitsharing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, runner.calls)
	assert.Equal(t, "worker", runner.executedBy)
}

func TestProcessJobDown(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWorker(runner, &fakeQueue{})

	result, err := w.processJob(context.Background(), &queue.Job{ID: "job_3", Action: queue.ActionDown, MigrationID: "m1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"public:m1: boom"}, result.Errors)
	assert.Equal(t, []string{"down m1"}, runner.calls)
}

func TestProcessJobRollback(t *testing.T) {
	runner := &fakeRunner{rollback: &executor.RollbackResult{Success: true}}
	w := NewWorker(runner, &fakeQueue{})

	result, err := w.processJob(context.Background(), &queue.Job{
		ID: "job_4", Action: queue.ActionRollback, MigrationID: "m1", Schemas: []string{"tenant"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"m1"}, result.Applied)
	assert.Equal(t, []string{"rollback m1 tenant"}, runner.calls)
}

func TestProcessJobErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection profitsharing not found")}
	w := NewWorker(runner, &fakeQueue{})

	result, err := w.processJob(context.Background(), &queue.Job{ID: "job_5", Action: queue.ActionUp})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"connection profitsharing not found"}, result.Errors)

	result, err = w.processJob(context.Background(), &queue.Job{ID: "job_6", Action: "sideways"})
	require.Error(t, err)
	assert.Contains(t, result.Errors[0], "unknown job action")
}

func TestStartAndStop(t *testing.T) {
	runner := &fakeRunner{}
	q := &fakeQueue{jobs: []*queue.Job{{ID: "a"}, {ID: "b", Action: queue.ActionDown, MigrationID: "m1"}}}
	w := NewWorker(runner, q)

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, []string{"up", "down m1"}, runner.calls)

	require.NoError(t, w.Stop())
	assert.True(t, q.closed)
}
