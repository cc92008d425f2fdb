package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileName is the name of the cached pluglist inside the cache directory.
const FileName = "moodle-pluglist.json"

// FileBackend keeps the entry as a single file. The file's modification time
// is the entry's timestamp, there is no separate metadata file.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a backend in dir, or in the system temp directory
// when dir is empty.
func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileBackend{dir: dir}
}

func (b *FileBackend) Name() string {
	return "file"
}

func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) Path() string {
	return filepath.Join(b.dir, FileName)
}

func (b *FileBackend) Load(_ context.Context) (*Entry, error) {
	f, err := os.Open(b.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	// stat and read the same descriptor so a concurrent rename cannot pair
	// new contents with an old timestamp
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat cache file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return &Entry{Data: data, StoredAt: fi.ModTime()}, nil
}

func (b *FileBackend) Stat(_ context.Context) (time.Time, error) {
	fi, err := os.Stat(b.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, ErrNoEntry
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat cache file: %w", err)
	}
	return fi.ModTime(), nil
}

func (b *FileBackend) Store(_ context.Context, e *Entry) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(b.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, err = tmpFile.Write(e.Data)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil && !e.StoredAt.IsZero() {
		err = os.Chtimes(tmpPath, e.StoredAt, e.StoredAt)
	}
	if err == nil {
		err = os.Rename(tmpPath, b.Path())
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context) error {
	err := os.Remove(b.Path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}
