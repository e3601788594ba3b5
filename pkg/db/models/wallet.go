package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// WalletTransaction is an append-only ledger row. Amount is signed.
type WalletTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Type         enums.WalletTransactionType `gorm:"column:type;not null"`
	Amount       decimal.Decimal             `gorm:"column:amount;type:numeric(12,2);not null"`
	BalanceAfter decimal.Decimal             `gorm:"column:balance_after;type:numeric(12,2);not null"`
	Reference    string                      `gorm:"column:reference;not null;uniqueIndex:ux_wallet_transactions_reference"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

// WalletTopup tracks a provider-funded credit until the provider confirms it.
type WalletTopup struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	Provider    enums.PaymentProvider `gorm:"column:provider;not null"`
	Amount      decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency    string                `gorm:"column:currency;not null"`
	Status      enums.TopupStatus     `gorm:"column:status;not null;default:'pending'"`
	ProviderRef string                `gorm:"column:provider_ref;not null;uniqueIndex:ux_wallet_topups_provider_ref"`
	CompletedAt *time.Time            `gorm:"column:completed_at"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
