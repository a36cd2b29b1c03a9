package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Action statuses.
const (
	ActionPlanned    = "planned"
	ActionApplied    = "applied"
	ActionFailed     = "failed"
	ActionRolledBack = "rolled_back"
)

// Action modes.
const (
	ModeDry   = "dry"
	ModeApply = "apply"
)

// Action is one remediation attempt, dry-run or apply.
type Action struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Actor         string         `gorm:"not null" json:"actor"`
	Level         int            `gorm:"not null" json:"level"`
	ActionType    string         `gorm:"not null;index" json:"action_type"`
	Mode          string         `gorm:"not null;default:'dry'" json:"mode"` // dry, apply
	Status        string         `gorm:"not null;default:'planned';index" json:"status"`
	TargetCount   int            `json:"target_count"`
	Changes       int            `json:"changes"`
	DiffPayload   datatypes.JSON `json:"diff_payload"`
	CorrelationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"correlation_id"`
	ErrorDetails  string         `json:"error_details"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Snapshot is the pre-mutation image of one row, owned by an apply-mode Action.
type Snapshot struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ActionID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"action_id"`
	TableName  string         `gorm:"not null" json:"table_name"`
	RowKey     string         `gorm:"not null" json:"row_key"`
	BeforeJSON datatypes.JSON `json:"before_json"`
	CreatedAt  time.Time      `json:"created_at"`
}
