package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AlertRecord is one persisted threshold breach. Immutable after the
// per-channel delivery flags are written.
type AlertRecord struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type            string         `gorm:"not null;index" json:"type"`
	Severity        string         `gorm:"not null;default:'warn'" json:"severity"` // critical, warn
	Payload         datatypes.JSON `json:"payload"`
	NotifiedWebhook bool           `json:"notified_webhook"`
	DeliveryErrors  datatypes.JSON `json:"delivery_errors"`
	CreatedAt       time.Time      `json:"created_at"`
}
