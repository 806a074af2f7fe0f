package dto

// MigrateUpRequest represents a request to execute up migrations
type MigrateUpRequest struct {
	Target     *Target  `json:"target"`
	Connection string   `json:"connection" binding:"required"`
	Schemas    []string `json:"schemas"` // Array for dynamic schemas
	DryRun     bool     `json:"dry_run"`
}

// MigrateDownRequest represents a request to execute down migrations
type MigrateDownRequest struct {
	MigrationID string   `json:"migration_id" binding:"required"`
	Schemas     []string `json:"schemas"` // Array for dynamic schemas
	DryRun      bool     `json:"dry_run"`
}

// MigrationListFilters specifies filters for listing migrations
type MigrationListFilters struct {
	Schema     string `form:"schema"`
	Table      string `form:"table"`
	Connection string `form:"connection"`
	Backend    string `form:"backend"`
	Status     string `form:"status"`
	Version    string `form:"version"`
	Limit      int    `form:"limit" binding:"omitempty,min=0"`
}

// MigrationListResponse represents a list of migrations
type MigrationListResponse struct {
	Items []MigrationListItem `json:"items"`
	Total int                 `json:"total"`
}

// MigrationListItem represents a single migration in the list
type MigrationListItem struct {
	MigrationID  string `json:"migration_id"`
	Schema       string `json:"schema"`
	Table        string `json:"table"`
	Version      string `json:"version"`
	Name         string `json:"name"`
	Connection   string `json:"connection"`
	Backend      string `json:"backend"`
	Applied      bool   `json:"applied"`
	Status       string `json:"status"`
	AppliedAt    string `json:"applied_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DependencyResponse represents a structured dependency
type DependencyResponse struct {
	Connection     string `json:"connection"`
	Schema         string `json:"schema"`
	Target         string `json:"target"`
	TargetType     string `json:"target_type"`
	RequiresTable  string `json:"requires_table,omitempty"`
	RequiresSchema string `json:"requires_schema,omitempty"`
}

// MigrationDetailResponse represents detailed migration information
type MigrationDetailResponse struct {
	MigrationID            string               `json:"migration_id"`
	Schema                 string               `json:"schema"`
	Table                  string               `json:"table"`
	Tables                 []string             `json:"tables,omitempty"`
	Version                string               `json:"version"`
	Name                   string               `json:"name"`
	Connection             string               `json:"connection"`
	Backend                string               `json:"backend"`
	Applied                bool                 `json:"applied"`
	Guarded                bool                 `json:"guarded"`
	Reversible             bool                 `json:"reversible"`
	Dependencies           []string             `json:"dependencies,omitempty"`
	StructuredDependencies []DependencyResponse `json:"structured_dependencies,omitempty"`
}

// MigrationStatusResponse is the state of one migration in one schema
type MigrationStatusResponse struct {
	MigrationID  string `json:"migration_id"`
	Schema       string `json:"schema"`
	Status       string `json:"status"`
	Applied      bool   `json:"applied"`
	AppliedAt    string `json:"applied_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// HistoryItem is one recorded execution
type HistoryItem struct {
	MigrationID      string `json:"migration_id"`
	Schema           string `json:"schema"`
	Table            string `json:"table"`
	Version          string `json:"version"`
	Connection       string `json:"connection"`
	Backend          string `json:"backend"`
	Direction        string `json:"direction"`
	AppliedAt        string `json:"applied_at"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ExecutedBy       string `json:"executed_by"`
	ExecutionMethod  string `json:"execution_method"`
	ExecutionContext string `json:"execution_context,omitempty"`
}

// MigrationHistoryResponse lists executions newest first
type MigrationHistoryResponse struct {
	MigrationID string        `json:"migration_id"`
	History     []HistoryItem `json:"history"`
}

// SchemaRequest names the schema a single-migration action runs against
type SchemaRequest struct {
	Schema string `json:"schema"`
}

// RollbackResponse represents a rollback operation result
type RollbackResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// RehearsalResponse reports whether Down restored what Up changed
type RehearsalResponse struct {
	MigrationID  string   `json:"migration_id"`
	Schema       string   `json:"schema"`
	Clean        bool     `json:"clean"`
	Tables       []string `json:"tables"`
	Differences  []string `json:"differences"`
	UpDuration   string   `json:"up_duration"`
	DownDuration string   `json:"down_duration"`
}

// ReindexResponse represents the result of a reindex operation
type ReindexResponse struct {
	Registered int `json:"registered"`
}
