package database

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout is the text form of every timestamp column: UTC, second
// precision, literal Z. It sorts lexicographically in time order.
const TimeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Rows written by other tools may carry offsets or fractions.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// parseNullTime converts a nullable timestamp column; ok is false for NULL.
func parseNullTime(s sql.NullString) (time.Time, bool, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
