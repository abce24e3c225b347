package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// insertBatchSize bounds the rows per INSERT statement
const insertBatchSize = 200

// GormStore is a RecordStore over one gorm table.
type GormStore[T any] struct {
	db    *gorm.DB
	table string
}

// NewGormStore returns a store for the table of T. The table must already
// be migrated.
func NewGormStore[T any](db *gorm.DB) *GormStore[T] {
	return &GormStore[T]{db: db, table: tableName[T]()}
}

// tableName resolves T's table through its TableName method when present
func tableName[T any]() string {
	var zero T
	if tabler, ok := any(zero).(schema.Tabler); ok {
		return tabler.TableName()
	}
	if tabler, ok := any(&zero).(schema.Tabler); ok {
		return tabler.TableName()
	}
	return ""
}

// ReadAll returns all rows ordered by primary key.
func (s *GormStore[T]) ReadAll(ctx context.Context) ([]T, error) {
	var rows []T
	err := s.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: clause.PrimaryKey}}).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "read_all", s.table)
	}
	return rows, nil
}

// Append inserts rows in batches inside one transaction.
func (s *GormStore[T]) Append(ctx context.Context, rows ...T) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
	if err != nil {
		return dbError(err, "append", s.table)
	}
	return nil
}

// ClearAndRewrite deletes every row and inserts rows in the same
// transaction, so readers see either the old or the new content.
func (s *GormStore[T]) ClearAndRewrite(ctx context.Context, rows []T) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(new(T)).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
	if err != nil {
		return dbError(err, "clear_and_rewrite", s.table)
	}
	return nil
}

// Compile-time interface assertion
var _ RecordStore[struct{}] = (*GormStore[struct{}])(nil)
