package entities

// ScoreSnapshot records a subject's state after one score pass.
type ScoreSnapshot struct {
	SchemaVersion int                `yaml:"schema_version" json:"schema_version"`
	RunID         string             `yaml:"run_id" json:"run_id"`
	Pass          int                `yaml:"pass" json:"pass"`
	Score         map[string]float64 `yaml:"score" json:"score"`
	UserWeightSum float64            `yaml:"user_weight_sum" json:"user_weight_sum"`
}

// WeightSnapshot records a user's state after one weight pass, before rescaling.
type WeightSnapshot struct {
	SchemaVersion int     `yaml:"schema_version" json:"schema_version"`
	RunID         string  `yaml:"run_id" json:"run_id"`
	Pass          int     `yaml:"pass" json:"pass"`
	Weight        float64 `yaml:"weight" json:"weight"`
	NSubjects     int     `yaml:"n_subjects" json:"n_subjects"`
}

// User is a volunteer. Weight starts at 1 and reflects agreement with consensus.
type User struct {
	UserID          int64            `gorm:"primaryKey;autoIncrement:false" yaml:"user_id" json:"user_id"`
	Weight          float64          `gorm:"not null" yaml:"weight" json:"weight"`
	NSubjects       int              `gorm:"not null" yaml:"n_subjects" json:"n_subjects"`
	Classifications []Classification `gorm:"serializer:json" yaml:"classifications" json:"classifications"`
	WeightHistory   []WeightSnapshot `gorm:"serializer:json" yaml:"weight_history" json:"weight_history"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// Subject is an image shown to volunteers. Score and NUsers hold exactly
// the configured label set.
type Subject struct {
	SubjectID       int64              `gorm:"primaryKey;autoIncrement:false" yaml:"subject_id" json:"subject_id"`
	Score           map[string]float64 `gorm:"serializer:json" yaml:"score" json:"score"`
	UserWeightSum   float64            `gorm:"not null" yaml:"user_weight_sum" json:"user_weight_sum"`
	NUsers          map[string]int     `gorm:"serializer:json" yaml:"n_users" json:"n_users"`
	Classifications []Classification   `gorm:"serializer:json" yaml:"classifications" json:"classifications"`
	ScoreHistory    []ScoreSnapshot    `gorm:"serializer:json" yaml:"score_history" json:"score_history"`
}

// TableName returns the table name for GORM.
func (Subject) TableName() string {
	return "subjects"
}
