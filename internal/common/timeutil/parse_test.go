package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNow(t *testing.T) {
	for _, input := range []string{"now", "NOW", "Now", "  now  "} {
		got, err := ParseTimeString(input)
		require.NoError(t, err, input)
		assert.WithinDuration(t, time.Now().UTC(), got, time.Second)
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParseRelative(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"in 5 minutes", 5 * time.Minute},
		{"in 1 minute", time.Minute},
		{"in 2 hours", 2 * time.Hour},
		{"in 1 hour", time.Hour},
		{"in 3 days", 3 * 24 * time.Hour},
		{"IN 10 MINUTES", 10 * time.Minute},
		{"in 0 minutes", 0},
	}
	for _, tt := range tests {
		got, err := ParseTimeString(tt.input)
		require.NoError(t, err, tt.input)
		assert.WithinDuration(t, time.Now().UTC().Add(tt.want), got, time.Second, tt.input)
	}
}

func TestParseISO(t *testing.T) {
	got, err := ParseTimeString("2026-01-20T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC), got)

	got, err = ParseTimeString("2026-01-20T09:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 20, 7, 0, 0, 0, time.UTC), got)

	got, err = ParseTimeString("2026-01-20T09:00:00.123456Z")
	require.NoError(t, err)
	assert.Equal(t, 123456000, got.Nanosecond())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"tomorrow",
		"in five minutes",
		"in -3 minutes",
		"in 3 weeks",
		"in 3",
		"2026-01-20",
		"09:00:00",
	} {
		_, err := ParseTimeString(input)
		assert.Error(t, err, input)
	}
}

func TestFormatUTC(t *testing.T) {
	ts := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-20T09:00:00+00:00", FormatUTC(ts))

	withMicros := time.Date(2026, 1, 20, 9, 0, 0, 123456000, time.UTC)
	assert.Equal(t, "2026-01-20T09:00:00.123456+00:00", FormatUTC(withMicros))

	// Non-UTC input is converted.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2026-01-20T14:00:00+00:00", FormatUTC(time.Date(2026, 1, 20, 9, 0, 0, 0, est)))
}
