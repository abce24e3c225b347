package datastore

import (
	"context"
	"os"
	"slices"

	"gorm.io/gorm"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// Transaction runs fn with stores whose writes commit together or not at
// all. The stores passed to fn are only valid inside fn and must not be
// closed.
//
// On a database backend fn runs inside one gorm transaction. On the file
// backend writes are staged in memory; when fn succeeds every changed
// collection is written to a synced temporary file first, and only once all
// of them exist are they renamed over their store files. The classification
// log is renamed last, so a crash between renames never records a batch as
// ingested while its consensus state is missing.
func (s *Stores) Transaction(ctx context.Context, fn func(tx *Stores) error) error {
	if s.db != nil {
		return s.gormTransaction(ctx, fn)
	}
	return s.fileTransaction(ctx, fn)
}

func (s *Stores) gormTransaction(ctx context.Context, fn func(tx *Stores) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormStores(tx))
	})
	if err == nil {
		return nil
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return err
	}
	return dbError(err, "transaction", "")
}

// stagedCollection is a file collection with pending content
type stagedCollection interface {
	prepare() (commit func() error, abort func(), err error)
}

func (s *Stores) fileTransaction(ctx context.Context, fn func(tx *Stores) error) error {
	classifications, err := stage(s.Classifications)
	if err != nil {
		return err
	}
	users, err := stage(s.Users)
	if err != nil {
		return err
	}
	subjects, err := stage(s.Subjects)
	if err != nil {
		return err
	}
	promotions, err := stage(s.Promotions)
	if err != nil {
		return err
	}
	markings, err := stage(s.Markings)
	if err != nil {
		return err
	}
	swapSubjects, err := stage(s.SwapSubjects)
	if err != nil {
		return err
	}

	tx := &Stores{
		Classifications: classifications,
		Users:           users,
		Subjects:        subjects,
		Promotions:      promotions,
		Markings:        markings,
		SwapSubjects:    swapSubjects,
		MarkingLookup:   NewStoreMarkingRepository(markings),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// commit order: the classification log goes last
	return commitStaged([]stagedCollection{users, subjects, promotions, markings, swapSubjects, classifications})
}

func commitStaged(collections []stagedCollection) error {
	var (
		commits []func() error
		aborts  []func()
	)
	abortAll := func() {
		for _, abort := range aborts {
			abort()
		}
	}

	for _, c := range collections {
		commit, abort, err := c.prepare()
		if err != nil {
			abortAll()
			return err
		}
		if commit != nil {
			commits = append(commits, commit)
			aborts = append(aborts, abort)
		}
	}

	for i, commit := range commits {
		if err := commit(); err != nil {
			for _, abort := range aborts[i+1:] {
				abort()
			}
			return err
		}
	}
	return nil
}

// stagedFileStore buffers writes to a FileStore until commit.
type stagedFileStore[T any] struct {
	file    *FileStore[T]
	pending []T
	dirty   bool
}

func stage[T any](store RecordStore[T]) (*stagedFileStore[T], error) {
	file, ok := store.(*FileStore[T])
	if !ok {
		return nil, errors.Newf("transactions need file or database stores, got %T", store).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("operation", "transaction").
			Build()
	}
	return &stagedFileStore[T]{file: file}, nil
}

func (s *stagedFileStore[T]) ReadAll(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dirty {
		return slices.Clone(s.pending), nil
	}
	return s.file.ReadAll(ctx)
}

func (s *stagedFileStore[T]) Append(ctx context.Context, rows ...T) error {
	if len(rows) == 0 {
		return ctx.Err()
	}
	current, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	s.pending = append(current, rows...)
	s.dirty = true
	return nil
}

func (s *stagedFileStore[T]) ClearAndRewrite(ctx context.Context, rows []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pending = slices.Clone(rows)
	s.dirty = true
	return nil
}

func (s *stagedFileStore[T]) prepare() (func() error, func(), error) {
	if !s.dirty {
		return nil, nil, nil
	}

	s.file.mu.Lock()
	tmpName, err := s.file.writeTemp(s.pending)
	s.file.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	commit := func() error {
		s.file.mu.Lock()
		defer s.file.mu.Unlock()
		return s.file.replace(tmpName)
	}
	abort := func() {
		_ = os.Remove(tmpName)
	}
	return commit, abort, nil
}

// Compile-time interface assertion
var _ RecordStore[entities.Classification] = (*stagedFileStore[entities.Classification])(nil)
