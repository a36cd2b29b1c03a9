package models

import (
	"time"

	"github.com/google/uuid"
)

// Level2Approval records explicit human consent for apply-mode at the highest
// risk tier. At most one non-revoked row is active at a time.
type Level2Approval struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ApprovedBy       string     `gorm:"not null" json:"approved_by"`
	ConfirmationText string     `gorm:"not null" json:"confirmation_text"`
	ApprovedAt       time.Time  `gorm:"not null" json:"approved_at"`
	RevokedAt        *time.Time `json:"revoked_at"`
}
