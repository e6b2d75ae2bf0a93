// Package timeutil pins the single time representation used across the
// pipeline: UTC instants internally, ISO-8601 with trailing Z on the wire.
// Parsers accept any well-formed variant (optional Z, fractional seconds of
// variable width); serializers emit exactly the canonical seconds-precision
// form.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

const canonical = "2006-01-02T15:04:05Z"

var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Parse reads an ISO-8601 timestamp, tolerating a trailing "Z" and
// fractional seconds of any width, and returns the instant in UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable ISO-8601 timestamp %q", s)
}

// Format emits the canonical wire form: UTC, seconds precision, trailing Z.
func Format(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(canonical)
}

// EpochSeconds converts an instant to Unix epoch seconds.
func EpochSeconds(t time.Time) int64 {
	return t.UTC().Unix()
}
