package dto

import "github.com/demoulas/profitsharing-migrator/internal/registry"

// Target selects the migrations an up request runs
type Target struct {
	Backend    string   `json:"backend,omitempty"`
	Schema     string   `json:"schema,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Version    string   `json:"version,omitempty"`
	Connection string   `json:"connection,omitempty"`
}

// Registry converts the target for the executor.
func (t *Target) Registry() *registry.MigrationTarget {
	if t == nil {
		return nil
	}
	return &registry.MigrationTarget{
		Backend:    t.Backend,
		Schema:     t.Schema,
		Tables:     t.Tables,
		Version:    t.Version,
		Connection: t.Connection,
	}
}

// MigrateResponse represents a migration response
type MigrateResponse struct {
	Success bool     `json:"success"`
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	Errors  []string `json:"errors"`
	Queued  bool     `json:"queued,omitempty"`
	JobID   string   `json:"job_id,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}
