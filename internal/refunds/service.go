package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

const maxReasonLength = 2000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type walletCreditor interface {
	CreditWithType(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*wallet.Credit, error)
}

type orderReader interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// Service refunds paid orders into the wallet and manages shopper refund
// requests.
type Service interface {
	RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*Result, error)
	RequestRefund(ctx context.Context, input RequestInput) (*models.RefundRequest, error)
	Decide(ctx context.Context, decision Decision) (*DecisionResult, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]models.RefundRequest, error)
	AuditInconsistent(ctx context.Context, limit int) ([]models.Payment, error)
}

// ServiceParams wires the refund service.
type ServiceParams struct {
	Repo     Repository
	Payments payments.Repository
	Orders   orderReader
	Wallet   walletCreditor
	Tx       txRunner
	Outbox   outboxPublisher
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	payments payments.Repository
	orders   orderReader
	wallet   walletCreditor
	tx       txRunner
	outbox   outboxPublisher
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("refund repository required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order reader required")
	case params.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		payments: params.Payments,
		orders:   params.Orders,
		wallet:   params.Wallet,
		tx:       params.Tx,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     logg,
		now:      now,
	}, nil
}

// RefundOrder moves the order's payment from paid to refunded and credits the
// amount to the buyer's wallet. The credit is keyed by the order, so calling
// this again after a failed status update completes the refund without
// crediting twice.
func (s *service) RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	payment, err := s.payments.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil, alreadyRefunded(payment)
	}

	credit, err := s.wallet.CreditWithType(ctx, payment.UserID, payment.Amount, enums.WalletTransactionTypeRefund, wallet.RefundReference(orderID))
	if err != nil {
		return nil, err
	}
	if credit.Duplicate {
		s.logg.Warn(ctx, "refund credit already applied, completing payment status")
	}

	refundedAt := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		locked, err := repo.LockByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.Status == enums.PaymentStatusRefunded {
			return alreadyRefunded(locked)
		}
		ok, err := repo.MarkRefunded(ctx, locked.ID, refundedAt)
		if err != nil {
			return err
		}
		if !ok {
			return alreadyRefunded(locked)
		}
		_, err = s.outbox.EmitOnce(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.UserRoleAdmin)},
			Data: payloads.PaymentRefundedEvent{
				PaymentID: locked.ID,
				OrderID:   orderID,
				UserID:    locked.UserID,
				Amount:    money.Format(locked.Amount),
			},
		})
		return err
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed) {
			return nil, err
		}
		s.metrics.IncInconsistent("refund")
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"payment_id":  payment.ID.String(),
			"credit_tx":   credit.TransactionID.String(),
			"wallet_user": payment.UserID.String(),
		}), "refund credited but payment not marked refunded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInconsistentState, err, "refund credited but payment status not updated").
			WithDetails(map[string]any{"order_id": orderID, "payment_id": payment.ID})
	}

	s.logg.Info(ctx, "order refunded to wallet")
	return &Result{
		OrderID:    orderID,
		PaymentID:  payment.ID,
		UserID:     payment.UserID,
		Amount:     payment.Amount,
		NewBalance: credit.NewBalance,
		Status:     enums.PaymentStatusRefunded,
		RefundedAt: refundedAt,
	}, nil
}

func alreadyRefunded(payment *models.Payment) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "payment already refunded").
		WithDetails(map[string]any{"payment_id": payment.ID, "refunded_at": payment.RefundedAt})
}

func (s *service) RequestRefund(ctx context.Context, input RequestInput) (*models.RefundRequest, error) {
	reason := strings.TrimSpace(input.Reason)
	switch {
	case input.UserID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	case input.OrderID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	case reason == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason required")
	case len(reason) > maxReasonLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason too long")
	}

	order, err := s.orders.GetOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	payment, err := s.payments.FindByOrder(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil, alreadyRefunded(payment)
	}
	if existing, err := s.repo.FindPendingForOrder(ctx, input.OrderID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this order").
			WithDetails(map[string]any{"refund_request_id": existing.ID})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund requests")
	}

	req := &models.RefundRequest{
		ID:      uuid.New(),
		OrderID: input.OrderID,
		UserID:  input.UserID,
		Reason:  reason,
		Status:  enums.RefundRequestStatusPending,
	}
	if path := strings.TrimSpace(input.EvidencePath); path != "" {
		req.EvidencePath = &path
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateRequest(ctx, req); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateRefund,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.UserRoleShopper)},
			Data: payloads.RefundRequestedEvent{
				RefundRequestID: req.ID,
				OrderID:         req.OrderID,
				UserID:          req.UserID,
				Reason:          reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Decide records an admin decision. An approval refunds the order first; a
// payment that was already refunded directly still lets the request close as
// approved.
func (s *service) Decide(ctx context.Context, decision Decision) (*DecisionResult, error) {
	if decision.RequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund request id required")
	}
	req, err := s.GetRequest(ctx, decision.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != enums.RefundRequestStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "refund request already decided").
			WithDetails(map[string]any{"status": req.Status})
	}

	status := enums.RefundRequestStatusRejected
	var refund *Result
	if decision.Approve {
		status = enums.RefundRequestStatusApproved
		refund, err = s.RefundOrder(ctx, req.OrderID, decision.AdminID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed) {
			return nil, err
		}
	}

	var note *string
	if trimmed := strings.TrimSpace(decision.Note); trimmed != "" {
		note = &trimmed
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.LockRequest(ctx, req.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock refund request")
		}
		ok, err := repo.DecideRequest(ctx, req.ID, status, note, s.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decide refund request")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "refund request already decided")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequestDecided,
			AggregateType: enums.AggregateRefund,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: decision.AdminID, Role: string(enums.UserRoleAdmin)},
			Data: payloads.RefundRequestDecidedEvent{
				RefundRequestID: req.ID,
				OrderID:         req.OrderID,
				Status:          status,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &DecisionResult{RequestID: req.ID, Status: status, Refund: refund}, nil
}

func (s *service) GetRequest(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := s.repo.FindRequest(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	return req, nil
}

func (s *service) ListRequests(ctx context.Context, filter ListFilter) ([]models.RefundRequest, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund request status")
	}
	filter.Limit = pagination.NormalizeLimit(filter.Limit)
	out, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund requests")
	}
	return out, nil
}

// AuditInconsistent lists payments left paid after their refund credit was
// applied. They are reported, never repaired here.
func (s *service) AuditInconsistent(ctx context.Context, limit int) ([]models.Payment, error) {
	out, err := s.repo.ListCreditedButPaid(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "audit refunds")
	}
	return out, nil
}
