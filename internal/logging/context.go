package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting a record.
	FieldComponent = "component"
	// FieldRunID carries the ledger run identifier.
	FieldRunID = "run_id"
	// FieldStep carries the chain step name.
	FieldStep = "step"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldPath carries a document or log path.
	FieldPath = "path"
)

type contextKey int

const (
	runIDKey contextKey = iota
	stepKey
)

// WithRunID tags ctx with the ledger run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run identifier stored in ctx.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}

// WithStep tags ctx with the current chain step.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the chain step stored in ctx.
func StepFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	step, ok := ctx.Value(stepKey).(string)
	return step, ok && step != ""
}

// ContextFields extracts standardized attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if step, ok := StepFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	return fields
}

// WithContext returns a logger augmented with fields derived from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return logger.With(args...)
}
