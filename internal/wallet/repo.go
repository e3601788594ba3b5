package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Repository persists wallet balances, their ledger rows and pending top-ups.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, row *models.WalletTransaction) error
	FindTransactionByReference(ctx context.Context, reference string) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
	CreateTopup(ctx context.Context, topup *models.WalletTopup) error
	FindTopupByRef(ctx context.Context, providerRef string) (*models.WalletTopup, error)
	LockTopupByRef(ctx context.Context, providerRef string) (*models.WalletTopup, error)
	MarkTopupCompleted(ctx context.Context, topupID uuid.UUID, at time.Time) (bool, error)
	ListPendingTopups(ctx context.Context, olderThan time.Time, limit int) ([]models.WalletTopup, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a wallet repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser takes the wallet lock. Every balance mutation goes through it first.
func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("wallet_balance", balance).Error
}

func (r *repository) InsertTransaction(ctx context.Context, row *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) FindTransactionByReference(ctx context.Context, reference string) (*models.WalletTransaction, error) {
	var row models.WalletTransaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateTopup(ctx context.Context, topup *models.WalletTopup) error {
	return r.db.WithContext(ctx).Create(topup).Error
}

func (r *repository) FindTopupByRef(ctx context.Context, providerRef string) (*models.WalletTopup, error) {
	var topup models.WalletTopup
	if err := r.db.WithContext(ctx).Where("provider_ref = ?", providerRef).First(&topup).Error; err != nil {
		return nil, err
	}
	return &topup, nil
}

func (r *repository) LockTopupByRef(ctx context.Context, providerRef string) (*models.WalletTopup, error) {
	var topup models.WalletTopup
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("provider_ref = ?", providerRef).First(&topup).Error; err != nil {
		return nil, err
	}
	return &topup, nil
}

func (r *repository) MarkTopupCompleted(ctx context.Context, topupID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WalletTopup{}).
		Where("id = ? AND status = ?", topupID, enums.TopupStatusPending).
		Updates(map[string]any{
			"status":       enums.TopupStatusCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPendingTopups(ctx context.Context, olderThan time.Time, limit int) ([]models.WalletTopup, error) {
	var rows []models.WalletTopup
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", enums.TopupStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
