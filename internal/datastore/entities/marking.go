package entities

// Marking is the ellipse a volunteer drew with a positive classification.
// AngleDeg is the platform's counter-clockwise rotation in degrees.
type Marking struct {
	ClassificationID int64   `gorm:"primaryKey;autoIncrement:false" yaml:"classification_id" json:"classification_id"`
	SubjectID        int64   `gorm:"not null;index" yaml:"subject_id" json:"subject_id"`
	CenterX          float64 `gorm:"not null" yaml:"center_x" json:"center_x"`
	CenterY          float64 `gorm:"not null" yaml:"center_y" json:"center_y"`
	SemiAxisX        float64 `gorm:"not null" yaml:"semi_axis_x" json:"semi_axis_x"`
	SemiAxisY        float64 `gorm:"not null" yaml:"semi_axis_y" json:"semi_axis_y"`
	AngleDeg         float64 `gorm:"not null" yaml:"angle_deg" json:"angle_deg"`
}

// TableName returns the table name for GORM.
func (Marking) TableName() string {
	return "markings"
}
