package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Fingerprint identifies one version of a file without reading it.
// The zero Fingerprint describes a missing file.
type Fingerprint struct {
	Exists  bool
	Size    int64
	ModTime time.Time
}

// Equal reports whether both fingerprints describe the same file version.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Exists == other.Exists && f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// FileStore provides access to the credentials file with atomic writes and
// secure permissions. Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string
}

// NewFileStore creates a FileStore for the given path. The file does not need to exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Path returns the credentials file path.
func (f *FileStore) Path() string {
	return f.filePath
}

// Fingerprint stats the file. A missing file yields the zero Fingerprint and no error.
func (f *FileStore) Fingerprint(ctx context.Context) (Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return Fingerprint{}, err
	}

	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Fingerprint{}, nil
	}
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{
		Exists:  true,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Read returns the raw file contents. Returns an error wrapping fs.ErrNotExist
// if the file is missing, and refuses files readable by group or others.
func (f *FileStore) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, perm)
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty credentials file %s", f.filePath)
	}
	return data, nil
}

// Write atomically saves data using temp file + rename for crash safety,
// creating parent directories with 0700 permissions.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return os.Chmod(f.filePath, 0600)
}
