package store

import (
	"database/sql"
	"time"
)

type scanner interface{ Scan(dest ...any) error }

// Empty strings and nil pointers are stored as NULL.
func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v *float32) any {
	if v == nil {
		return nil
	}
	return float64(*v)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// parseTime accepts timestamps written by formatTime and SQLite's
// CURRENT_TIMESTAMP; anything else yields the zero time.
func parseTime(raw sql.NullString) time.Time {
	for _, layout := range []string{timeLayout, time.DateTime} {
		if t, err := time.Parse(layout, raw.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
