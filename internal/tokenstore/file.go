package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONFile persists the token map as a single JSON object with secure permissions.
// Writes use temp file + rename for crash safety.
type JSONFile struct {
	filePath string
}

// Compile-time check to ensure JSONFile implements Backend
var _ Backend = (*JSONFile)(nil)

// NewJSONFile creates a JSONFile for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewJSONFile(filePath string) (*JSONFile, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &JSONFile{
		filePath: filePath,
	}, nil
}

// Path returns the location of the token file.
func (f *JSONFile) Path() string {
	return f.filePath
}

// Load reads and parses the token file. A missing file yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (f *JSONFile) Load(ctx context.Context) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", f.filePath, err)
	}
	return entries, nil
}

// Save atomically replaces the token file using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *JSONFile) Save(ctx context.Context, entries map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if entries == nil {
		entries = map[string]Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, f.filePath)
}
