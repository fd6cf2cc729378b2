package state

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeploymentRecord is the persisted identity of a deployment attempt
type DeploymentRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	Name          string    `gorm:"uniqueIndex;not null"`
	Path          string
	TemplateID    string
	CloudProvider string
	Step          string `gorm:"not null"`
	IsRollingBack bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time

	// Relationships
	Transitions []Transition `gorm:"foreignKey:RecordID"`
}

// Transition is one observed step change or run status snapshot
type Transition struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	RecordID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Step        string    `gorm:"not null"`
	Running     bool
	Command     string
	Output      string `gorm:"type:text"`
	Success     *bool
	CanRollback bool
	CreatedAt   time.Time
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&DeploymentRecord{},
		&Transition{},
	)
}
