package project

import "time"

// Project is the minimal project record this service owns: identity and
// ownership. Project content lives elsewhere.
type Project struct {
	ProjectID string    `gorm:"column:project_id;primaryKey;size:190;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}
