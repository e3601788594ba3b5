package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

const providerRefConstraint = "ux_payments_provider_ref"

// Repository persists payment records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	LockByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Payment, error)
	FindByProof(ctx context.Context, provider enums.PaymentProvider, proof string) (*models.Payment, error)
	MarkRefunded(ctx context.Context, paymentID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", provider, ref).
		Order("created_at ASC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByProof looks a payment up by the identifier the shopper presented,
// which differs from the settled reference for PayPal.
func (r *repository) FindByProof(ctx context.Context, provider enums.PaymentProvider, proof string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND proof_ref = ?", provider, proof).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkRefunded flips paid to refunded. It reports false when the payment was
// not in paid.
func (r *repository) MarkRefunded(ctx context.Context, paymentID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPaid).
		Updates(map[string]any{
			"status":      enums.PaymentStatusRefunded,
			"refunded_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
