package logger

import (
	"context"

	"github.com/stagehand/stagehand/pkg/trace"
)

// LoggerContext extends the Logger interface with context-aware methods.
// This follows Go best practices for structured logging with run tracing.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
	SuccessContext(ctx context.Context, message string, fields ...Field)
}

// Ensure TaskLogger implements LoggerContext
var _ LoggerContext = (*TaskLogger)(nil)

// InfoContext logs an info message with run tracing
func (l *TaskLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Info(message, allFields...)
}

// ErrorContext logs an error message with run tracing
func (l *TaskLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Error(message, allFields...)
}

// WarnContext logs a warning message with run tracing
func (l *TaskLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Warn(message, allFields...)
}

// DebugContext logs a debug message with run tracing
func (l *TaskLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Debug(message, allFields...)
}

// SuccessContext logs a success message with run tracing
func (l *TaskLogger) SuccessContext(ctx context.Context, message string, fields ...Field) {
	contextFields := l.extractContextFields(ctx)
	allFields := append(contextFields, fields...)
	l.Success(message, allFields...)
}

// extractContextFields extracts tracing fields from context
func (l *TaskLogger) extractContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field

	if runID := trace.GetRunID(ctx); runID != "unknown-run" {
		fields = append(fields, WithField("run_id", runID))
	}

	if duration := trace.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}

	return fields
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}

	return &contextualLogger{
		ctx:    ctx,
		logger: logger,
	}
}

// contextualLogger wraps a logger with automatic context field extraction
type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.InfoContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Info(message, fields...)
	}
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.ErrorContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Error(message, fields...)
	}
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.WarnContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Warn(message, fields...)
	}
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.DebugContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Debug(message, fields...)
	}
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.SuccessContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Success(message, fields...)
	}
}

func (cl *contextualLogger) WithTask(task string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithTask(task),
	}
}
