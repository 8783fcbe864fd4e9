package telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OffsetFile persists the last acknowledged Telegram update id so the bridge
// resumes where it left off across restarts.
type OffsetFile struct {
	path string
}

// NewOffsetFile points at the offset file location. The file is created on
// first save.
func NewOffsetFile(path string) *OffsetFile {
	return &OffsetFile{path: path}
}

// Load reads the stored offset. Returns (0, false) when the file is missing,
// empty, or corrupt; the bridge then starts fresh.
func (f *OffsetFile) Load() (int64, bool) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return 0, false
	}
	offset, err := strconv.ParseInt(content, 10, 64)
	if err != nil {
		return 0, false
	}
	return offset, true
}

// Save writes the offset atomically: temp sibling then rename, so a crash
// mid-write leaves the previous offset intact.
func (f *OffsetFile) Save(offset int64) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create offset directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp offset file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := fmt.Fprintf(tmp, "%d\n", offset); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write offset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp offset file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace offset file: %w", err)
	}
	return nil
}
