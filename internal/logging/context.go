package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRequestID is the standardized structured logging key for work request identifiers.
	FieldRequestID = "request_id"
	// FieldBranch is the standardized structured logging key for git branch names.
	FieldBranch = "branch"
	// FieldProcessorID is the standardized structured logging key for worker identities.
	FieldProcessorID = "processor_id"
	// FieldTask is the standardized structured logging key for scheduler task names.
	FieldTask = "task"
	// FieldEventType is the standardized structured logging key for machine-readable event tags.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator guidance on errors.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized structured logging key for the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	processorIDKey contextKey = "processor_id"
)

// WithRequest annotates context with the work request identifier.
func WithRequest(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestFromContext extracts the work request identifier if present.
func RequestFromContext(ctx context.Context) (int64, bool) {
	if v, ok := ctx.Value(requestIDKey).(int64); ok {
		return v, true
	}
	return 0, false
}

// WithProcessor annotates context with the worker identity.
func WithProcessor(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, processorIDKey, id)
}

// ProcessorFromContext extracts the worker identity if present.
func ProcessorFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(processorIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := RequestFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldRequestID, id))
	}
	if proc, ok := ProcessorFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProcessorID, proc))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
