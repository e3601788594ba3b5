package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Payment is the record of how an order was paid. One per order; a provider
// reference settles at most one order, except wallet:<userId> which repeats.
type Payment struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Provider    enums.PaymentProvider `gorm:"column:provider;not null;uniqueIndex:ux_payments_provider_ref,priority:1,where:provider <> 'wallet'"`
	Status      enums.PaymentStatus   `gorm:"column:status;not null;default:'paid'"`
	Amount      decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency    string                `gorm:"column:currency;not null"`
	ProviderRef string                `gorm:"column:provider_ref;not null;uniqueIndex:ux_payments_provider_ref,priority:2,where:provider <> 'wallet'"`
	ProofRef    string                `gorm:"column:proof_ref;not null;default:'';index:ix_payments_proof_ref"`
	RefundedAt  *time.Time            `gorm:"column:refunded_at"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
