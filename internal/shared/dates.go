package shared

import (
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

// ParseDate parses a date-only ("2006-01-02") or RFC 3339 timestamp into UTC.
// Date-only values resolve to the start of that day.
func ParseDate(field, value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, NewValidationError(field, "is required")
	}
	if t, err := time.ParseInLocation(dateOnly, v, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, NewValidationError(field, "is not a valid date")
	}
	return t.UTC(), nil
}

// ParseDayBound parses a filter boundary. Date-only upper bounds cover the whole day.
// Empty or malformed values yield the zero time, meaning "unbounded".
func ParseDayBound(value string, endOfDay bool) time.Time {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.ParseInLocation(dateOnly, v, time.UTC); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Nanosecond)
		}
		return t
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// RequireTime rejects the zero time.
func RequireTime(field string, t time.Time) error {
	if t.IsZero() {
		return NewValidationError(field, "is required")
	}
	return nil
}
