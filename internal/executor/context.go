package executor

import (
	"context"
	"encoding/json"

	"github.com/demoulas/profitsharing-migrator/internal/state"
)

// Context keys for execution metadata
type contextKey string

const (
	executedByKey       contextKey = "executed_by"
	executionMethodKey  contextKey = "execution_method"
	executionContextKey contextKey = "execution_context"
)

// SetExecutionContext records who runs migrations and how, for the state history.
func SetExecutionContext(ctx context.Context, executedBy, executionMethod string, executionContext map[string]interface{}) context.Context {
	ctx = context.WithValue(ctx, executedByKey, executedBy)
	ctx = context.WithValue(ctx, executionMethodKey, executionMethod)
	if executionContext != nil {
		ctxBytes, _ := json.Marshal(executionContext)
		ctx = context.WithValue(ctx, executionContextKey, string(ctxBytes))
	}
	return ctx
}

// GetExecutionContext extracts execution context from context
func GetExecutionContext(ctx context.Context) (executedBy, executionMethod, executionContext string) {
	executedBy = "system"
	executionMethod = state.MethodAPI

	if s, ok := ctx.Value(executedByKey).(string); ok && s != "" {
		executedBy = s
	}
	if s, ok := ctx.Value(executionMethodKey).(string); ok && s != "" {
		executionMethod = s
	}
	if s, ok := ctx.Value(executionContextKey).(string); ok {
		executionContext = s
	}
	return executedBy, executionMethod, executionContext
}
