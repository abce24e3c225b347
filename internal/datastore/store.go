// Package datastore persists consensus and promotion state.
//
// All record collections share the RecordStore contract. Implementations
// replace content atomically: the gorm store deletes and reinserts inside a
// single transaction, the file store writes a temporary file and renames it
// over the old one. A failed write never leaves a store half cleared.
package datastore

import (
	"context"

	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
)

// RecordStore is a persistent, ordered collection of T.
type RecordStore[T any] interface {
	// ReadAll returns every record in primary key order.
	ReadAll(ctx context.Context) ([]T, error)
	// Append adds records after the existing ones.
	Append(ctx context.Context, rows ...T) error
	// ClearAndRewrite replaces the whole collection with rows.
	ClearAndRewrite(ctx context.Context, rows []T) error
}

// ErrUnsupportedBackend indicates an unknown datastore.backend value.
var ErrUnsupportedBackend = errors.NewStd("unsupported datastore backend")

func dbError(err error, op, table string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("table", table).
		Build()
}
