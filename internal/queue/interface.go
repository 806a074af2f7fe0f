package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/demoulas/profitsharing-migrator/internal/logger"
)

// Job actions.
const (
	ActionUp       = "up"
	ActionDown     = "down"
	ActionRollback = "rollback"
)

// Job represents a migration job to be queued
type Job struct {
	ID          string            `json:"id"`
	Action      string            `json:"action"`
	Target      *MigrationTarget  `json:"target,omitempty"`
	MigrationID string            `json:"migration_id,omitempty"`
	Connection  string            `json:"connection"`
	Schemas     []string          `json:"schemas,omitempty"`
	DryRun      bool              `json:"dry_run,omitempty"`
	ExecutedBy  string            `json:"executed_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MigrationTarget specifies which migrations to execute
type MigrationTarget struct {
	Backend    string   `json:"backend,omitempty"`
	Schema     string   `json:"schema,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Version    string   `json:"version,omitempty"`
	Connection string   `json:"connection,omitempty"`
}

// JobResult represents the result of a migration job
type JobResult struct {
	JobID   string   `json:"job_id"`
	Success bool     `json:"success"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	Errors  []string `json:"errors"`
}

// NewJobID returns a time-ordered job ID.
func NewJobID() string {
	return fmt.Sprintf("job_%d", time.Now().UnixNano())
}

// Encode serializes job, assigning an ID and defaulting the action to up.
func Encode(job *Job) ([]byte, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.Action == "" {
		job.Action = ActionUp
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// Decode parses a job payload. fallbackID is used when the payload has no ID.
func Decode(payload []byte, fallbackID string) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.ID == "" {
		job.ID = fallbackID
	}
	switch job.Action {
	case "":
		job.Action = ActionUp
	case ActionUp, ActionDown, ActionRollback:
	default:
		return nil, fmt.Errorf("job %s: unknown action %q", job.ID, job.Action)
	}
	if job.Action != ActionUp && job.MigrationID == "" {
		return nil, fmt.Errorf("job %s: %s needs a migration_id", job.ID, job.Action)
	}
	return &job, nil
}

// Producer publishes migration jobs to the queue
type Producer interface {
	// PublishJob publishes a migration job to the queue
	PublishJob(ctx context.Context, job *Job) error

	// Close closes the producer connection
	Close() error
}

// Consumer consumes migration jobs from the queue
type Consumer interface {
	// Consume starts consuming jobs from the queue
	// The handler function is called for each job
	Consume(ctx context.Context, handler JobHandler) error

	// Close closes the consumer connection
	Close() error
}

// JobHandler processes a migration job
type JobHandler func(ctx context.Context, job *Job) (*JobResult, error)

// Queue provides both producer and consumer capabilities
type Queue interface {
	Producer
	Consumer

	// Name identifies the queue implementation ("kafka", "pulsar")
	Name() string
}

// ReportResult logs the LogResult summary of a handled job.
func ReportResult(job *Job, result *JobResult) {
	logger.WithFields(logrus.Fields{"job_id": job.ID, "action": job.Action}).Info(LogResult(job, result))
}

// LogResult summarizes a handled job for the consumer logs.
func LogResult(job *Job, result *JobResult) string {
	if result == nil {
		return fmt.Sprintf("migration job %s returned no result", job.ID)
	}
	if result.Success {
		return fmt.Sprintf("processed migration job %s: %d applied, %d skipped",
			job.ID, len(result.Applied), len(result.Skipped))
	}
	return fmt.Sprintf("migration job %s completed with errors: %v", job.ID, result.Errors)
}
