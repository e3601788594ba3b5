package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// User carries the wallet balance inline; the row doubles as the wallet lock.
type User struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Email         string          `gorm:"column:email;not null;uniqueIndex"`
	Name          string          `gorm:"column:name;not null;default:''"`
	Role          enums.UserRole  `gorm:"column:role;not null;default:'shopper'"`
	FreeDelivery  bool            `gorm:"column:free_delivery;not null;default:false"`
	WalletBalance decimal.Decimal `gorm:"column:wallet_balance;type:numeric(12,2);not null;default:0"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
