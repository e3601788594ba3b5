// Package dbtest opens throwaway sqlite databases with the settlement schema
// for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

// Open returns an isolated in-memory database with every model migrated.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	return open(t, dsn)
}

// OpenFile returns a file-backed database whose transactions take the write
// lock on BEGIN, so concurrent transactions serialize the way row locks do.
func OpenFile(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settlement.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL", path)
	return open(t, dsn)
}

func open(t testing.TB, dsn string) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// SeedUser inserts a shopper with the given wallet balance.
func SeedUser(t testing.TB, conn *gorm.DB, balance string, freeDelivery bool) models.User {
	t.Helper()
	user := models.User{
		ID:            uuid.New(),
		Email:         uuid.NewString() + "@example.test",
		Name:          "Test Shopper",
		Role:          "shopper",
		FreeDelivery:  freeDelivery,
		WalletBalance: decimal.RequireFromString(balance),
	}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedProduct inserts a product with the given stock and price.
func SeedProduct(t testing.TB, conn *gorm.DB, name string, quantity int, price string) models.Product {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		Name:     name,
		Category: "general",
		Quantity: quantity,
		Price:    decimal.RequireFromString(price),
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// Stock reads the current on-hand quantity of a product.
func Stock(t testing.TB, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := conn.Where("id = ?", productID).First(&product).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.Quantity
}

// Balance reads the current wallet balance of a user.
func Balance(t testing.TB, conn *gorm.DB, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	var user models.User
	if err := conn.Where("id = ?", userID).First(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user.WalletBalance
}

// Count returns the number of rows for the given model.
func Count(t testing.TB, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := conn.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
