package entities

// Classification is a single volunteer label on a subject.
// ClassificationID is assigned by the platform and never reused.
type Classification struct {
	ClassificationID int64  `gorm:"primaryKey;autoIncrement:false" yaml:"classification_id" json:"classification_id"`
	SubjectID        int64  `gorm:"not null;index" yaml:"subject_id" json:"subject_id"`
	UserID           int64  `gorm:"not null;index" yaml:"user_id" json:"user_id"`
	Label            string `gorm:"type:varchar(64);not null" yaml:"label" json:"label"`
}

// TableName returns the table name for GORM.
func (Classification) TableName() string {
	return "classifications"
}
