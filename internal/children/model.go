package children

import (
	"strings"
	"time"
)

// Child captures the minimal profile the prediction surface needs: which
// caregiver the child belongs to and when they were born.
type Child struct {
	ChildID   string    `gorm:"column:child_id;primaryKey;size:190;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320"`
	BirthDate time.Time `gorm:"column:birth_date;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing child profiles.
func (Child) TableName() string {
	return "children"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
