package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// RefundRequest is raised by a shopper and decided by an admin.
type RefundRequest struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID      uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	UserID       uuid.UUID                 `gorm:"column:user_id;type:uuid;not null;index"`
	Reason       string                    `gorm:"column:reason;not null"`
	EvidencePath *string                   `gorm:"column:evidence_path"`
	Status       enums.RefundRequestStatus `gorm:"column:status;not null;default:'pending'"`
	DecisionNote *string                   `gorm:"column:decision_note"`
	DecidedAt    *time.Time                `gorm:"column:decided_at"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
