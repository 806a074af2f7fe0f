package http

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/demoulas/profitsharing-migrator/internal/api/http/dto"
	"github.com/demoulas/profitsharing-migrator/internal/auth"
	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/queue"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

// Service is the executor surface the API drives. *executor.Executor implements it.
type Service interface {
	Execute(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemas []string, dryRun bool) (*executor.ExecuteResult, error)
	ExecuteDown(ctx context.Context, migrationID string, schemas []string, dryRun bool) (*executor.ExecuteResult, error)
	Enqueue(ctx context.Context, job *queue.Job) (*executor.ExecuteResult, error)
	HasQueue() bool
	Rollback(ctx context.Context, migrationID, schema string) (*executor.RollbackResult, error)
	Rehearse(ctx context.Context, migrationID, schema string) (*backends.RehearsalReport, error)
	Script(migrationID string, dir backends.Direction) (string, error)
	ResolveSchema(migrationID, schema string) string
	GetMigrationByID(migrationID string) *backends.MigrationScript
	GetMigrationList(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationListItem, error)
	GetMigrationHistory(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationRecord, error)
	IsMigrationApplied(ctx context.Context, migrationID, schema string) (bool, error)
	HealthCheck(ctx context.Context) error
}

// Reindexer re-registers every known migration in the state database
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
}

// Handler handles HTTP API requests
type Handler struct {
	service   Service
	apiToken  string
	reindexer Reindexer
}

// NewHandler creates a new HTTP handler. Requests must carry apiToken as a bearer token.
func NewHandler(service Service, apiToken string) *Handler {
	return &Handler{
		service:  service,
		apiToken: apiToken,
	}
}

// SetReindexer enables POST /migrations/reindex
func (h *Handler) SetReindexer(r Reindexer) {
	h.reindexer = r
}

// HealthPaths are the unauthenticated health-check paths, left out of request logs.
var HealthPaths = []string{"/api/v1/health", "/metrics"}

// RegisterRoutes registers HTTP routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		api.POST("/migrations/up", h.authenticate, h.migrateUp)
		api.POST("/migrations/down", h.authenticate, h.migrateDown)
		api.POST("/migrations/reindex", h.authenticate, h.reindexMigrations)
		api.GET("/migrations", h.authenticate, h.listMigrations)
		api.GET("/migrations/:id", h.authenticate, h.getMigration)
		api.GET("/migrations/:id/status", h.authenticate, h.getMigrationStatus)
		api.GET("/migrations/:id/history", h.authenticate, h.getMigrationHistory)
		api.GET("/migrations/:id/script", h.authenticate, h.getMigrationScript)
		api.POST("/migrations/:id/rollback", h.authenticate, h.rollbackMigration)
		api.POST("/migrations/:id/rehearse", h.authenticate, h.rehearseMigration)
		api.GET("/health", h.Health)
		api.GET("/openapi.yaml", h.OpenAPISpec)
		api.GET("/openapi.json", h.OpenAPISpecJSON)
	}
}

// authenticate middleware validates API token
func (h *Handler) authenticate(c *gin.Context) {
	token, err := auth.ExtractToken(c.GetHeader("Authorization"))
	if err != nil {
		abort(c, http.StatusUnauthorized, err)
		return
	}
	if err := auth.ValidateToken(token, h.apiToken); err != nil {
		abort(c, http.StatusUnauthorized, err)
		return
	}
	c.Next()
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error()})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, dto.ErrorResponse{Error: message})
}

// isManualExecution reports requests sent by an operator console rather than automation
func isManualExecution(c *gin.Context) bool {
	switch c.GetHeader("X-Client-Type") {
	case "frontend", "console":
		return true
	}
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// setExecutionContext records who triggered the request for the state history
func (h *Handler) setExecutionContext(c *gin.Context) context.Context {
	executedBy := c.GetHeader("X-Executed-By")
	if executedBy == "" {
		executedBy = "api_user"
	}
	method := state.MethodAPI
	if isManualExecution(c) {
		method = state.MethodManual
	}

	executionContext := map[string]interface{}{
		"endpoint": c.FullPath(),
		"method":   c.Request.Method,
	}
	if id := c.GetHeader("X-Request-ID"); id != "" {
		executionContext["request_id"] = id
	}
	return executor.SetExecutionContext(c.Request.Context(), executedBy, method, executionContext)
}

func migrateResponse(c *gin.Context, result *executor.ExecuteResult) {
	status := http.StatusOK
	switch {
	case result.Queued:
		status = http.StatusAccepted
	case !result.Success:
		status = http.StatusPartialContent
	}
	c.JSON(status, dto.MigrateResponse{
		Success: result.Success,
		Applied: result.Applied,
		Skipped: result.Skipped,
		Errors:  result.Errors,
		Queued:  result.Queued,
		JobID:   result.JobID,
	})
}

// migrateUp handles up migration requests
func (h *Handler) migrateUp(c *gin.Context) {
	var req dto.MigrateUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := h.setExecutionContext(c)
	result, err := h.service.Execute(ctx, req.Target.Registry(), req.Connection, req.Schemas, req.DryRun)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	migrateResponse(c, result)
}

// migrateDown handles down migration requests
func (h *Handler) migrateDown(c *gin.Context) {
	var req dto.MigrateDownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	migration := h.service.GetMigrationByID(req.MigrationID)
	if migration == nil {
		fail(c, http.StatusNotFound, "migration not found")
		return
	}

	ctx := h.setExecutionContext(c)
	var (
		result *executor.ExecuteResult
		err    error
	)
	if h.service.HasQueue() {
		executedBy, _, _ := executor.GetExecutionContext(ctx)
		result, err = h.service.Enqueue(ctx, &queue.Job{
			Action:      queue.ActionDown,
			MigrationID: req.MigrationID,
			Connection:  migration.Connection,
			Schemas:     req.Schemas,
			DryRun:      req.DryRun,
			ExecutedBy:  executedBy,
		})
	} else {
		result, err = h.service.ExecuteDown(ctx, req.MigrationID, req.Schemas, req.DryRun)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	migrateResponse(c, result)
}

// listMigrations lists all migrations with their status
func (h *Handler) listMigrations(c *gin.Context) {
	var filters dto.MigrationListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.service.GetMigrationList(c.Request.Context(), &state.MigrationFilters{
		Schema:     filters.Schema,
		Table:      filters.Table,
		Connection: filters.Connection,
		Backend:    filters.Backend,
		Status:     filters.Status,
		Version:    filters.Version,
		Limit:      filters.Limit,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]dto.MigrationListItem, 0, len(list))
	for _, item := range list {
		items = append(items, dto.MigrationListItem{
			MigrationID:  item.MigrationID,
			Schema:       item.Schema,
			Table:        item.Table,
			Version:      item.Version,
			Name:         item.Name,
			Connection:   item.Connection,
			Backend:      item.Backend,
			Applied:      item.Applied,
			Status:       item.LastStatus,
			AppliedAt:    item.LastAppliedAt,
			ErrorMessage: item.LastErrorMessage,
		})
	}
	c.JSON(http.StatusOK, dto.MigrationListResponse{Items: items, Total: len(items)})
}

// lookup resolves the :id parameter, writing 404 when it is unknown
func (h *Handler) lookup(c *gin.Context) (*backends.MigrationScript, bool) {
	migration := h.service.GetMigrationByID(c.Param("id"))
	if migration == nil {
		fail(c, http.StatusNotFound, "migration not found")
		return nil, false
	}
	return migration, true
}

// getMigration gets a specific migration by ID
func (h *Handler) getMigration(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	id := migration.ID()
	schema := h.service.ResolveSchema(id, c.Query("schema"))

	applied, err := h.service.IsMigrationApplied(c.Request.Context(), id, schema)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	table := ""
	if migration.Table != nil {
		table = *migration.Table
	}
	deps := make([]dto.DependencyResponse, 0, len(migration.StructuredDependencies))
	for _, dep := range migration.StructuredDependencies {
		deps = append(deps, dto.DependencyResponse{
			Connection:     dep.Connection,
			Schema:         dep.Schema,
			Target:         dep.Target,
			TargetType:     dep.TargetType,
			RequiresTable:  dep.RequiresTable,
			RequiresSchema: dep.RequiresSchema,
		})
	}

	c.JSON(http.StatusOK, dto.MigrationDetailResponse{
		MigrationID:            id,
		Schema:                 schema,
		Table:                  table,
		Tables:                 migration.Tables,
		Version:                migration.Version,
		Name:                   migration.Name,
		Connection:             migration.Connection,
		Backend:                migration.Backend,
		Applied:                applied,
		Guarded:                migration.Guard != nil,
		Reversible:             migration.DownSQL != "",
		Dependencies:           migration.Dependencies,
		StructuredDependencies: deps,
	})
}

// getMigrationStatus reports the last recorded status of a migration in one schema
func (h *Handler) getMigrationStatus(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	id := migration.ID()
	schema := h.service.ResolveSchema(id, c.Query("schema"))

	list, err := h.service.GetMigrationList(c.Request.Context(), &state.MigrationFilters{MigrationID: id, Schema: schema})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	response := dto.MigrationStatusResponse{MigrationID: id, Schema: schema, Status: state.StatusPending}
	if len(list) > 0 {
		item := list[0]
		response.Status = item.LastStatus
		response.Applied = item.Applied
		response.AppliedAt = item.LastAppliedAt
		response.ErrorMessage = item.LastErrorMessage
	}
	c.JSON(http.StatusOK, response)
}

// getMigrationHistory lists recorded executions of a migration in both directions
func (h *Handler) getMigrationHistory(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	var filters dto.MigrationListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.service.GetMigrationHistory(c.Request.Context(), &state.MigrationFilters{
		MigrationID: migration.ID(),
		Schema:      filters.Schema,
		Status:      filters.Status,
		Limit:       filters.Limit,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]dto.HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, dto.HistoryItem{
			MigrationID:      r.MigrationID,
			Schema:           r.Schema,
			Table:            r.Table,
			Version:          r.Version,
			Connection:       r.Connection,
			Backend:          r.Backend,
			Direction:        string(r.Direction),
			AppliedAt:        r.AppliedAt,
			Status:           r.Status,
			ErrorMessage:     r.ErrorMessage,
			ExecutedBy:       r.ExecutedBy,
			ExecutionMethod:  r.ExecutionMethod,
			ExecutionContext: r.ExecutionContext,
		})
	}
	c.JSON(http.StatusOK, dto.MigrationHistoryResponse{MigrationID: migration.ID(), History: items})
}

// getMigrationScript returns the SQL of one direction as text
func (h *Handler) getMigrationScript(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	dir := backends.Direction(strings.ToLower(c.DefaultQuery("direction", string(backends.Up))))
	if dir != backends.Up && dir != backends.Down {
		fail(c, http.StatusBadRequest, "direction must be up or down")
		return
	}

	sql, err := h.service.Script(migration.ID(), dir)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if sql == "" {
		fail(c, http.StatusNotFound, "migration has no "+string(dir)+" script")
		return
	}
	c.Data(http.StatusOK, "application/sql; charset=utf-8", []byte(sql))
}

func bindSchema(c *gin.Context) (string, bool) {
	var req dto.SchemaRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return "", false
		}
	}
	return req.Schema, true
}

// rollbackMigration rolls back a specific migration
func (h *Handler) rollbackMigration(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	requested, ok := bindSchema(c)
	if !ok {
		return
	}
	id := migration.ID()
	schema := h.service.ResolveSchema(id, requested)

	applied, err := h.service.IsMigrationApplied(c.Request.Context(), id, schema)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		fail(c, http.StatusBadRequest, "migration is not applied")
		return
	}

	ctx := h.setExecutionContext(c)
	result, err := h.service.Rollback(ctx, id, schema)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	c.JSON(status, dto.RollbackResponse{
		Success: result.Success,
		Message: result.Message,
		Errors:  result.Errors,
	})
}

// rehearseMigration runs Up and Down in a rolled-back transaction and reports differences
func (h *Handler) rehearseMigration(c *gin.Context) {
	migration, ok := h.lookup(c)
	if !ok {
		return
	}
	requested, ok := bindSchema(c)
	if !ok {
		return
	}

	report, err := h.service.Rehearse(c.Request.Context(), migration.ID(), requested)
	switch {
	case errors.Is(err, registry.ErrMigrationNotFound):
		fail(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, backends.ErrNotRehearsable), errors.Is(err, backends.ErrMigrationFailed):
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	differences := report.Differences
	if differences == nil {
		differences = []string{}
	}
	c.JSON(http.StatusOK, dto.RehearsalResponse{
		MigrationID:  report.MigrationID,
		Schema:       report.Schema,
		Clean:        report.Clean(),
		Tables:       report.Tables,
		Differences:  differences,
		UpDuration:   report.UpDuration,
		DownDuration: report.DownDuration,
	})
}

// reindexMigrations registers every known migration in migrations_list
func (h *Handler) reindexMigrations(c *gin.Context) {
	if h.reindexer == nil {
		fail(c, http.StatusNotImplemented, "reindexing is not enabled")
		return
	}
	n, err := h.reindexer.Reindex(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, dto.ReindexResponse{Registered: n})
}

// Health handles health check requests
func (h *Handler) Health(c *gin.Context) {
	checks := gin.H{}
	status, code := "healthy", http.StatusOK

	if err := h.service.HealthCheck(c.Request.Context()); err != nil {
		logger.Warnf("Health check failed: %v", err)
		checks["executor"] = err.Error()
		status, code = "unhealthy", http.StatusServiceUnavailable
	} else {
		checks["executor"] = "ok"
	}

	c.JSON(code, gin.H{"status": status, "checks": checks})
}

//go:embed openapi.yaml
var openAPISpecYAML []byte

// OpenAPISpec serves the OpenAPI specification in YAML format
func (h *Handler) OpenAPISpec(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-yaml", openAPISpecYAML)
}

// OpenAPISpecJSON serves the OpenAPI specification in JSON format
func (h *Handler) OpenAPISpecJSON(c *gin.Context) {
	spec, err := parseOpenAPISpec()
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to parse OpenAPI spec")
		return
	}
	c.JSON(http.StatusOK, spec)
}

func parseOpenAPISpec() (map[string]interface{}, error) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal(openAPISpecYAML, &spec); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, errors.New("empty OpenAPI document")
	}
	return spec, nil
}
