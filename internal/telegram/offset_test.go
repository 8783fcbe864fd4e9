package telegram

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetRoundTrip(t *testing.T) {
	f := NewOffsetFile(filepath.Join(t.TempDir(), "telegram_offset.txt"))

	_, ok := f.Load()
	assert.False(t, ok)

	require.NoError(t, f.Save(123456))
	got, ok := f.Load()
	require.True(t, ok)
	assert.EqualValues(t, 123456, got)

	// Overwrite.
	require.NoError(t, f.Save(123457))
	got, _ = f.Load()
	assert.EqualValues(t, 123457, got)
}

func TestOffsetFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_offset.txt")
	require.NoError(t, NewOffsetFile(path).Save(42))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(raw))
}

func TestOffsetLoadTolerantOfGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_offset.txt")
	f := NewOffsetFile(path)

	require.NoError(t, os.WriteFile(path, []byte("not a number\n"), 0o644))
	_, ok := f.Load()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	_, ok = f.Load()
	assert.False(t, ok)
}

// A stale temp sibling must not disturb the committed offset.
func TestOffsetCrashLeavesPreviousIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telegram_offset.txt")
	f := NewOffsetFile(path)

	require.NoError(t, f.Save(100))

	// Simulate a crash between temp-write and rename.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "telegram_offset.txt.tmp-999"), []byte("200\n"), 0o644))

	got, ok := f.Load()
	require.True(t, ok)
	assert.EqualValues(t, 100, got)
}
