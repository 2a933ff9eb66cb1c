package logging

import (
	"context"
	"log/slog"
)

// Attr is re-exported so callers need not import log/slog for field helpers.
type Attr = slog.Attr

func Bool(key string, v bool) Attr       { return slog.Bool(key, v) }
func Float64(key string, v float64) Attr { return slog.Float64(key, v) }
func Int(key string, v int) Attr         { return slog.Int(key, v) }
func Int64(key string, v int64) Attr     { return slog.Int64(key, v) }
func String(key string, v string) Attr   { return slog.String(key, v) }
func Path(v string) Attr                 { return slog.String(FieldPath, v) }
func Confidence(v float32) Attr          { return slog.Float64("confidence", float64(v)) }
func ManifestID(v string) Attr           { return slog.String(FieldManifestID, ShortHash(v)) }
func Group(key string, attrs ...Attr) Attr {
	return slog.Attr{Key: key, Value: slog.GroupValue(attrs...)}
}

// Error records err under "error"; a nil error is written as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// ShortHash keeps the first 12 characters of a digest for display.
func ShortHash(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

// NewNop returns a logger that drops every record.
func NewNop() *slog.Logger { return slog.New(slog.DiscardHandler) }

// NewComponentLogger tags every record with component. A nil logger yields a
// no-op base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact; attrs may override the latter two.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, FieldEventType, eventType)
	attrs = withDefault(attrs, FieldErrorHint, "check logs for details")
	attrs = withDefault(attrs, FieldImpact, "operation completed with warnings")
	logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}

func withDefault(attrs []Attr, key, value string) []Attr {
	for _, a := range attrs {
		if a.Key == key {
			return attrs
		}
	}
	return append(attrs, slog.String(key, value))
}
