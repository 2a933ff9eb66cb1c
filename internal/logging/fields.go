package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Structured field keys shared across packages.
const (
	FieldComponent  = "component"
	FieldDerivedID  = "derived_id"
	FieldStateID    = "state_id"
	FieldManifestID = "manifest_id"
	FieldPath       = "path"
	// FieldEventType classifies warnings for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-visible consequence of a warning.
	FieldImpact = "impact"
)

type ctxKey string

// contextKeys lists the IDs carried on a context, in output order. Each
// context key doubles as the log field name.
var contextKeys = []ctxKey{FieldDerivedID, FieldStateID}

// WithDerivedID attaches a derived asset ID to ctx for log records.
func WithDerivedID(ctx context.Context, id string) context.Context {
	return withID(ctx, FieldDerivedID, id)
}

// WithStateID attaches an applied state ID to ctx for log records.
func WithStateID(ctx context.Context, id string) context.Context {
	return withID(ctx, FieldStateID, id)
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id = strings.TrimSpace(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

// ContextFields returns the IDs attached to ctx as attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	for _, key := range contextKeys {
		if id, _ := ctx.Value(key).(string); id != "" {
			fields = append(fields, slog.String(string(key), id))
		}
	}
	return fields
}

// WithContext returns logger with the IDs from ctx bound as attributes.
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
