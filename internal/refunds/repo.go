package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Repository persists refund requests and answers the reconciliation query.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRequest(ctx context.Context, req *models.RefundRequest) error
	FindRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	LockRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	FindPendingForOrder(ctx context.Context, orderID uuid.UUID) (*models.RefundRequest, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]models.RefundRequest, error)
	DecideRequest(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, note *string, at time.Time) (bool, error)
	ListCreditedButPaid(ctx context.Context, limit int) ([]models.Payment, error)
}

// ListFilter narrows ListRequests. Zero values match everything.
type ListFilter struct {
	UserID uuid.UUID
	Status enums.RefundRequestStatus
	Limit  int
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRequest(ctx context.Context, req *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) LockRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) FindPendingForOrder(ctx context.Context, orderID uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.RefundRequestStatusPending).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) ListRequests(ctx context.Context, filter ListFilter) ([]models.RefundRequest, error) {
	query := r.db.WithContext(ctx).Model(&models.RefundRequest{})
	if filter.UserID != uuid.Nil {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var out []models.RefundRequest
	if err := query.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DecideRequest moves a pending request to its decision. It reports false
// when the request was no longer pending.
func (r *repository) DecideRequest(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, note *string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, enums.RefundRequestStatusPending).
		Updates(map[string]any{
			"status":        status,
			"decision_note": note,
			"decided_at":    at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListCreditedButPaid finds payments whose refund credit landed in the wallet
// while the payment itself still reads paid.
func (r *repository) ListCreditedButPaid(ctx context.Context, limit int) ([]models.Payment, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Joins("JOIN wallet_transactions wt ON wt.reference = 'refund:order:' || payments.order_id").
		Where("payments.status = ?", enums.PaymentStatusPaid).
		Where("wt.type = ?", enums.WalletTransactionTypeRefund).
		Order("payments.created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []models.Payment
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
