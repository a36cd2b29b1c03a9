package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Actor     string         `gorm:"not null" json:"actor"`
	Action    string         `gorm:"not null" json:"action"` // settings_update, kill_switch, fix_run, rollback, level2, etc.
	Target    string         `json:"target"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
