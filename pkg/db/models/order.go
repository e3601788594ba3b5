package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Order is written once, together with its items, by the order creator.
type Order struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	ItemsTotal      decimal.Decimal      `gorm:"column:items_total;type:numeric(12,2);not null"`
	DeliveryFee     decimal.Decimal      `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	Total           decimal.Decimal      `gorm:"column:total;type:numeric(12,2);not null"`
	DeliveryMethod  enums.DeliveryMethod `gorm:"column:delivery_method;not null"`
	DeliveryAddress *string              `gorm:"column:delivery_address"`
	FeeWaived       bool                 `gorm:"column:fee_waived;not null;default:false"`
	Status          enums.OrderStatus    `gorm:"column:status;not null;default:'processing'"`
	Items           []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem snapshots the unit price at purchase time.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal   decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
