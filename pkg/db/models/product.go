package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a sellable item with on-hand stock.
type Product struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	Category        string          `gorm:"column:category;not null;default:''"`
	Quantity        int             `gorm:"column:quantity;not null;default:0"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	DiscountPercent int             `gorm:"column:discount_percent;not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectivePrice applies the discount percentage and rounds to cents.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPercent <= 0 {
		return p.Price.Round(2)
	}
	pct := decimal.NewFromInt(int64(100 - p.DiscountPercent)).Div(decimal.NewFromInt(100))
	return p.Price.Mul(pct).Round(2)
}
