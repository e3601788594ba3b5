package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	dbpkg "github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderCreator interface {
	CreateOrderTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions, hooks orders.CreateHooks) (*orders.Result, error)
}

// Service owns the stored-value balance and its append-only ledger.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
	CreditWithType(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*Credit, error)
	CreditWithTypeTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*Credit, error)
	DebitForPurchase(ctx context.Context, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*Purchase, error)
	DebitForPurchaseTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*Purchase, error)
	BeginTopup(ctx context.Context, input TopupInput) (*models.WalletTopup, error)
	CompleteTopup(ctx context.Context, providerRef string) (*Credit, error)
	SettleTopup(ctx context.Context, input TopupInput) (*Credit, error)
	FindTopup(ctx context.Context, providerRef string) (*models.WalletTopup, error)
}

type service struct {
	repo   Repository
	orders orderCreator
	tx     txRunner
	outbox outboxPublisher
	now    func() time.Time
}

// NewService wires the wallet. The order creator is used for wallet purchases.
func NewService(repo Repository, creator orderCreator, tx txRunner, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if creator == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   repo,
		orders: creator,
		tx:     tx,
		outbox: publisher,
		now:    time.Now,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return decimal.Zero, mapUserErr(err)
	}
	return user.WalletBalance, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListTransactions(ctx, userID, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	return rows, nil
}

func (s *service) CreditWithType(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*Credit, error) {
	var credit *Credit
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.CreditWithTypeTx(ctx, tx, userID, amount, txType, reference)
		if err != nil {
			return err
		}
		credit = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// CreditWithTypeTx adds a positive amount under the wallet lock and appends
// the matching ledger row. A reference that was already applied returns the
// balance recorded by the first application.
func (s *service) CreditWithTypeTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*Credit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if txType != enums.WalletTransactionTypeTopup && txType != enums.WalletTransactionTypeRefund {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid credit type").
			WithDetails(map[string]any{"type": txType})
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	repo := s.repo.WithTx(tx)
	user, err := repo.LockUser(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}

	prior, err := repo.FindTransactionByReference(ctx, reference)
	switch {
	case err == nil:
		return duplicateCredit(prior, userID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup wallet reference")
	}

	newBalance := money.Add(user.WalletBalance, amount)
	row := &models.WalletTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reference:    reference,
	}
	if err := repo.UpdateBalance(ctx, userID, newBalance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	if err := repo.InsertTransaction(ctx, row); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_wallet_transactions_reference") {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "wallet reference already applied").
				WithDetails(map[string]any{"reference": reference})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert wallet transaction")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventWalletCredited,
		AggregateType: enums.AggregateWallet,
		AggregateID:   row.ID,
		Data: payloads.WalletCreditedEvent{
			TransactionID: row.ID,
			UserID:        userID,
			Type:          txType,
			Amount:        money.Format(amount),
			BalanceAfter:  money.Format(newBalance),
			Reference:     reference,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit wallet credited")
	}

	return &Credit{TransactionID: row.ID, NewBalance: newBalance}, nil
}

func (s *service) DebitForPurchase(ctx context.Context, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*Purchase, error) {
	var purchase *Purchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.DebitForPurchaseTx(ctx, tx, userID, lines, opts)
		if err != nil {
			return err
		}
		purchase = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// DebitForPurchaseTx locks the wallet before the order creator locks any
// product row, so wallet purchases always acquire locks in the same order.
func (s *service) DebitForPurchaseTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*Purchase, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	repo := s.repo.WithTx(tx)
	user, err := repo.LockUser(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	balance := user.WalletBalance

	result, err := s.orders.CreateOrderTx(ctx, tx, userID, lines, opts, orders.CreateHooks{
		BeforeReserve: func(q orders.Quote) error {
			if balance.LessThan(q.Total) {
				return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
					WithDetails(map[string]any{
						"balance": money.Format(balance),
						"total":   money.Format(q.Total),
					})
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	newBalance := money.Round(balance.Sub(result.Total))
	row := &models.WalletTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         enums.WalletTransactionTypePurchase,
		Amount:       result.Total.Neg(),
		BalanceAfter: newBalance,
		Reference:    OrderReference(result.OrderID),
	}
	if err := repo.UpdateBalance(ctx, userID, newBalance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	if err := repo.InsertTransaction(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert wallet transaction")
	}

	return &Purchase{Order: result, TransactionID: row.ID, NewBalance: newBalance}, nil
}

// BeginTopup records a pending top-up for an asynchronous provider. Replaying
// the same provider reference returns the existing row.
func (s *service) BeginTopup(ctx context.Context, input TopupInput) (*models.WalletTopup, error) {
	input, err := normalizeTopup(input)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindUser(ctx, input.UserID); err != nil {
		return nil, mapUserErr(err)
	}

	topup := &models.WalletTopup{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Provider:    input.Provider,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Status:      enums.TopupStatusPending,
		ProviderRef: input.ProviderRef,
	}
	if err := s.repo.CreateTopup(ctx, topup); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_wallet_topups_provider_ref") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create topup")
		}
		existing, findErr := s.repo.FindTopupByRef(ctx, input.ProviderRef)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load topup")
		}
		if existing.UserID != input.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "provider reference belongs to another user")
		}
		return existing, nil
	}
	return topup, nil
}

// CompleteTopup credits a pending top-up exactly once.
func (s *service) CompleteTopup(ctx context.Context, providerRef string) (*Credit, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	var credit *Credit
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		topup, err := s.repo.WithTx(tx).LockTopupByRef(ctx, providerRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "topup not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock topup")
		}
		res, err := s.completeTx(ctx, tx, topup)
		if err != nil {
			return err
		}
		credit = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// SettleTopup records and credits a top-up the provider has already
// captured, in one transaction.
func (s *service) SettleTopup(ctx context.Context, input TopupInput) (*Credit, error) {
	input, err := normalizeTopup(input)
	if err != nil {
		return nil, err
	}
	var credit *Credit
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		topup, err := repo.LockTopupByRef(ctx, input.ProviderRef)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			topup = &models.WalletTopup{
				ID:          uuid.New(),
				UserID:      input.UserID,
				Provider:    input.Provider,
				Amount:      input.Amount,
				Currency:    input.Currency,
				Status:      enums.TopupStatusPending,
				ProviderRef: input.ProviderRef,
			}
			if err := repo.CreateTopup(ctx, topup); err != nil {
				if dbpkg.IsUniqueViolation(err, "ux_wallet_topups_provider_ref") {
					return pkgerrors.New(pkgerrors.CodeStateConflict, "topup is being settled concurrently")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create topup")
			}
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock topup")
		case topup.UserID != input.UserID:
			return pkgerrors.New(pkgerrors.CodeConflict, "provider reference belongs to another user")
		}
		res, err := s.completeTx(ctx, tx, topup)
		if err != nil {
			return err
		}
		credit = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

func (s *service) FindTopup(ctx context.Context, providerRef string) (*models.WalletTopup, error) {
	topup, err := s.repo.FindTopupByRef(ctx, strings.TrimSpace(providerRef))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "topup not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load topup")
	}
	return topup, nil
}

func (s *service) completeTx(ctx context.Context, tx *gorm.DB, topup *models.WalletTopup) (*Credit, error) {
	credit, err := s.CreditWithTypeTx(ctx, tx, topup.UserID, topup.Amount, enums.WalletTransactionTypeTopup, topup.ProviderRef)
	if err != nil {
		return nil, err
	}
	if topup.Status == enums.TopupStatusCompleted {
		credit.Duplicate = true
		return credit, nil
	}
	if _, err := s.repo.WithTx(tx).MarkTopupCompleted(ctx, topup.ID, s.now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark topup completed")
	}
	return credit, nil
}

func duplicateCredit(prior *models.WalletTransaction, userID uuid.UUID) (*Credit, error) {
	if prior.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet reference belongs to another user").
			WithDetails(map[string]any{"reference": prior.Reference})
	}
	return &Credit{TransactionID: prior.ID, NewBalance: prior.BalanceAfter, Duplicate: true}, nil
}

func normalizeTopup(input TopupInput) (TopupInput, error) {
	if input.UserID == uuid.Nil {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Provider.IsValid() || input.Provider == enums.PaymentProviderWallet {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid topup provider").
			WithDetails(map[string]any{"provider": input.Provider})
	}
	input.Amount = money.Round(input.Amount)
	if !input.Amount.IsPositive() {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "topup amount must be positive")
	}
	if strings.TrimSpace(input.ProviderRef) == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	input.ProviderRef = ProviderReference(input.Provider, input.ProviderRef)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "currency required")
	}
	return input, nil
}

func mapUserErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
}
