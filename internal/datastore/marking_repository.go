package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/marking"
)

// lookupChunkSize keeps IN lists below sqlite's bound variable limit
const lookupChunkSize = 500

// MarkingRepository resolves marking geometry by classification id.
// Ids without a stored marking are absent from the result.
type MarkingRepository interface {
	FindMarkings(ctx context.Context, classificationIDs []int64) (map[int64]marking.Marking, error)
}

// ToMarking converts a stored marking into clustering geometry, turning the
// platform's counter-clockwise degrees into clockwise radians.
func ToMarking(e *entities.Marking) marking.Marking {
	return marking.Marking{
		ClassificationID: e.ClassificationID,
		SubjectID:        e.SubjectID,
		CenterX:          e.CenterX,
		CenterY:          e.CenterY,
		SemiAxisX:        e.SemiAxisX,
		SemiAxisY:        e.SemiAxisY,
		Angle:            marking.AngleFromDegrees(e.AngleDeg),
	}
}

// gormMarkingRepository queries the markings table directly.
type gormMarkingRepository struct {
	db *gorm.DB
}

// NewGormMarkingRepository creates a MarkingRepository over the markings table.
func NewGormMarkingRepository(db *gorm.DB) MarkingRepository {
	return &gormMarkingRepository{db: db}
}

func (r *gormMarkingRepository) FindMarkings(ctx context.Context, ids []int64) (map[int64]marking.Marking, error) {
	out := make(map[int64]marking.Marking, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(ids))

		var rows []entities.Marking
		err := r.db.WithContext(ctx).
			Where("classification_id IN ?", ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, dbError(err, "find_markings", entities.Marking{}.TableName())
		}
		for i := range rows {
			out[rows[i].ClassificationID] = ToMarking(&rows[i])
		}
	}
	return out, nil
}

// storeMarkingRepository scans a RecordStore, for backends without queries.
type storeMarkingRepository struct {
	store RecordStore[entities.Marking]
}

// NewStoreMarkingRepository creates a MarkingRepository that filters a full read of store.
func NewStoreMarkingRepository(store RecordStore[entities.Marking]) MarkingRepository {
	return &storeMarkingRepository{store: store}
}

func (r *storeMarkingRepository) FindMarkings(ctx context.Context, ids []int64) (map[int64]marking.Marking, error) {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	rows, err := r.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]marking.Marking, len(ids))
	for i := range rows {
		if _, ok := wanted[rows[i].ClassificationID]; ok {
			out[rows[i].ClassificationID] = ToMarking(&rows[i])
		}
	}
	return out, nil
}
