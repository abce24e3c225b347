package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// FileStore is a RecordStore kept in a single YAML file. Every write
// produces a complete new file which replaces the old one by rename.
type FileStore[T any] struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the YAML file at path. The file is
// created on first write.
func NewFileStore[T any](path string) *FileStore[T] {
	return &FileStore[T]{path: path}
}

// Path returns the backing file path
func (s *FileStore[T]) Path() string {
	return s.path
}

// ReadAll returns the records in file order. A missing file is an empty store.
func (s *FileStore[T]) ReadAll(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked()
}

// Append rewrites the file with rows added at the end.
func (s *FileStore[T]) Append(ctx context.Context, rows ...T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if err != nil {
		return err
	}
	return s.writeLocked(append(existing, rows...))
}

// ClearAndRewrite replaces the file content with rows.
func (s *FileStore[T]) ClearAndRewrite(ctx context.Context, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(rows)
}

func (s *FileStore[T]) readLocked() ([]T, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fileError(err, "read", errors.CategoryFileIO)
	}

	var rows []T
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, s.fileError(err, "decode", errors.CategoryFileParsing)
	}
	return rows, nil
}

// writeLocked writes rows to a temporary file in the same directory, syncs
// it and renames it over the store file
func (s *FileStore[T]) writeLocked(rows []T) error {
	tmpName, err := s.writeTemp(rows)
	if err != nil {
		return err
	}
	return s.replace(tmpName)
}

// writeTemp writes rows to a synced temporary file next to the store file
// and returns its name. The store file itself is untouched.
func (s *FileStore[T]) writeTemp(rows []T) (string, error) {
	if rows == nil {
		rows = []T{}
	}
	data, err := yaml.Marshal(rows)
	if err != nil {
		return "", s.fileError(err, "encode", errors.CategoryFileParsing)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", s.fileError(err, "mkdir", errors.CategoryFileIO)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return "", s.fileError(err, "create_temp", errors.CategoryFileIO)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", s.fileError(err, "write", errors.CategoryFileIO)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", s.fileError(err, "sync", errors.CategoryFileIO)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", s.fileError(err, "close", errors.CategoryFileIO)
	}
	return tmpName, nil
}

// replace renames a file produced by writeTemp over the store file. The
// temporary file is removed when the rename fails.
func (s *FileStore[T]) replace(tmpName string) error {
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return s.fileError(err, "rename", errors.CategoryFileIO)
	}
	return nil
}

func (s *FileStore[T]) fileError(err error, op string, category errors.ErrorCategory) error {
	return errors.New(fmt.Errorf("file store %s: %w", op, err)).
		Component("datastore").
		Category(category).
		Context("operation", op).
		Context("path", s.path).
		Build()
}

// Compile-time interface assertion
var _ RecordStore[struct{}] = (*FileStore[struct{}])(nil)
