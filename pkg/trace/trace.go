// Package trace carries run and task identity through contexts
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys for run tracing.
// Using unexported struct pointers prevents key collisions. The structs
// carry a name so each key gets a distinct allocation.
var (
	runIDKey     = &struct{ name string }{"runID"}
	taskNameKey  = &struct{ name string }{"taskName"}
	startTimeKey = &struct{ name string }{"startTime"}
)

// WithRunID adds a run ID to the context
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown-run"
}

// WithTask adds the executing task name to the context
func WithTask(parent context.Context, task string) context.Context {
	return context.WithValue(parent, taskNameKey, task)
}

// GetTask retrieves the executing task name from context
func GetTask(ctx context.Context) string {
	if task, ok := ctx.Value(taskNameKey).(string); ok && task != "" {
		return task
	}
	return "unknown-task"
}

// WithStartTime adds the run start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the run start time from context
func GetStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// GetDuration calculates the duration since the start time in context
func GetDuration(ctx context.Context) time.Duration {
	return time.Since(GetStartTime(ctx))
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return "run_" + uuid.New().String()
}

// EnrichContext adds run tracing information to a context
func EnrichContext(parent context.Context) context.Context {
	ctx := parent

	if GetRunID(ctx) == "unknown-run" {
		ctx = WithRunID(ctx, GenerateRunID())
	}

	return WithStartTime(ctx, time.Now())
}

// TracingFields returns common tracing fields for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"run_id":      GetRunID(ctx),
		"task":        GetTask(ctx),
		"duration_ms": GetDuration(ctx).Milliseconds(),
	}
}
