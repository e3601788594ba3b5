package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ensureID assigns a v4 id before insert so rows do not depend on a
// database-side default.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Product) BeforeCreate(*gorm.DB) error           { ensureID(&p.ID); return nil }
func (u *User) BeforeCreate(*gorm.DB) error              { ensureID(&u.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error             { ensureID(&o.ID); return nil }
func (i *OrderItem) BeforeCreate(*gorm.DB) error         { ensureID(&i.ID); return nil }
func (w *WalletTransaction) BeforeCreate(*gorm.DB) error { ensureID(&w.ID); return nil }
func (w *WalletTopup) BeforeCreate(*gorm.DB) error       { ensureID(&w.ID); return nil }
func (p *Payment) BeforeCreate(*gorm.DB) error           { ensureID(&p.ID); return nil }
func (r *RefundRequest) BeforeCreate(*gorm.DB) error     { ensureID(&r.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error       { ensureID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error         { ensureID(&d.ID); return nil }

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&Order{},
		&OrderItem{},
		&WalletTransaction{},
		&WalletTopup{},
		&Payment{},
		&RefundRequest{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
