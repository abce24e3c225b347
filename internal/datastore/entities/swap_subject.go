package entities

// SwapHistoryEntry mirrors one entry of a SWAP subject history.
// The first entry of every history is a placeholder with ClassificationID 0.
type SwapHistoryEntry struct {
	ClassificationID int64                 `yaml:"classification_id" json:"classification_id"`
	UserID           int64                 `yaml:"user_id" json:"user_id"`
	UserScore        map[string][2]float64 `yaml:"user_score" json:"user_score"`
	SubmittedLabel   int                   `yaml:"submitted_label" json:"submitted_label"`
	SubjectScore     float64               `yaml:"subject_score" json:"subject_score"`
}

// SwapSubject is a snapshot row of SWAP output. GoldLabel is -1 for
// non-training subjects, 0 or 1 for training subjects.
type SwapSubject struct {
	SubjectID int64              `gorm:"primaryKey;autoIncrement:false" yaml:"subject_id" json:"subject_id"`
	Score     map[string]float64 `gorm:"serializer:json" yaml:"score" json:"score"`
	History   []SwapHistoryEntry `gorm:"serializer:json" yaml:"history" json:"history"`
	GoldLabel int                `gorm:"not null" yaml:"gold_label" json:"gold_label"`
	RetiredAs *string            `gorm:"type:varchar(32)" yaml:"retired_as,omitempty" json:"retired_as,omitempty"`
}

// TableName returns the table name for GORM.
func (SwapSubject) TableName() string {
	return "swap_subjects"
}
