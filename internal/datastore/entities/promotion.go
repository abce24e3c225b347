package entities

import "time"

// BoundingBox is an axis-aligned box in image pixel coordinates.
type BoundingBox struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

// ClusterGeometry summarizes the markings of a promoted feature.
// Averages are taken over the cluster members; Angle is in radians.
type ClusterGeometry struct {
	CenterX     float64     `yaml:"center_x" json:"center_x"`
	CenterY     float64     `yaml:"center_y" json:"center_y"`
	SemiAxisX   float64     `yaml:"semi_axis_x" json:"semi_axis_x"`
	SemiAxisY   float64     `yaml:"semi_axis_y" json:"semi_axis_y"`
	Angle       float64     `yaml:"angle" json:"angle"`
	BoundingBox BoundingBox `yaml:"bounding_box" json:"bounding_box"`
	Size        int         `yaml:"size" json:"size"`
}

// EvidenceRef is one classification that contributed to a fused probability.
type EvidenceRef struct {
	ClassificationID int64   `yaml:"classification_id" json:"classification_id"`
	UserID           int64   `yaml:"user_id" json:"user_id"`
	TruePositiveRate float64 `yaml:"tpr" json:"tpr"`
	FalsePosRate     float64 `yaml:"fpr" json:"fpr"`
	Used             bool    `yaml:"used" json:"used"`
}

// PromotionRecord is a promoted feature. The set of all records is the dedup
// registry: a classification id listed here is never promoted again.
type PromotionRecord struct {
	FeatureID           string          `gorm:"primaryKey;type:varchar(32)" yaml:"feature_id" json:"feature_id"`
	SubjectID           int64           `gorm:"not null;index" yaml:"subject_id" json:"subject_id"`
	PositiveProbability float64         `gorm:"not null" yaml:"positive_probability" json:"positive_probability"`
	ClassificationIDs   []int64         `gorm:"serializer:json" yaml:"classification_ids" json:"classification_ids"`
	Geometry            ClusterGeometry `gorm:"serializer:json" yaml:"geometry" json:"geometry"`
	Evidence            []EvidenceRef   `gorm:"serializer:json" yaml:"evidence" json:"evidence"`
	RunID               string          `gorm:"type:varchar(36);index" yaml:"run_id" json:"run_id"`
	CreatedAt           time.Time       `yaml:"created_at" json:"created_at"`
}

// TableName returns the table name for GORM.
func (PromotionRecord) TableName() string {
	return "promotion_records"
}
