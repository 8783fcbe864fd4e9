// Package timeutil parses the flexible time strings accepted by the
// schedule endpoint: "now", relative offsets, and ISO 8601 timestamps.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeString parses a flexible time string into a UTC time.
//
// Supported forms:
//   - "now" (any case)
//   - "in N minutes|hours|days" (any case, singular or plural, N >= 0)
//   - ISO 8601 with a Z suffix or numeric offset, optional fractional seconds
func ParseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	// ISO 8601 carries a 'T' separator; check before lowercasing.
	if strings.Contains(s, "T") {
		return parseISO(s)
	}

	lower := strings.ToLower(s)
	if lower == "now" {
		return time.Now().UTC(), nil
	}

	if rest, ok := strings.CutPrefix(lower, "in "); ok {
		return parseRelative(s, rest)
	}

	return time.Time{}, unsupportedErr(s)
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, unsupportedErr(s)
}

func parseRelative(orig, rest string) (time.Time, error) {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return time.Time{}, unsupportedErr(orig)
	}

	amount, err := strconv.Atoi(parts[0])
	if err != nil || amount < 0 {
		return time.Time{}, fmt.Errorf("invalid amount in time string: %q, amount must be a nonnegative integer", orig)
	}

	var unit time.Duration
	switch strings.TrimSuffix(parts[1], "s") {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	default:
		return time.Time{}, unsupportedErr(orig)
	}

	return time.Now().UTC().Add(time.Duration(amount) * unit), nil
}

func unsupportedErr(s string) error {
	return fmt.Errorf("could not parse time string: %q, supported formats: ISO 8601, 'now', 'in N minutes/hours/days'", s)
}

// FormatUTC renders a time as ISO 8601 with an explicit +00:00 offset,
// the form the HTTP API has always returned.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999+00:00")
}
