package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/checkout"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	dbpkg "github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderService interface {
	Quote(ctx context.Context, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*orders.Quote, error)
	CreateOrderTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions, hooks orders.CreateHooks) (*orders.Result, error)
}

type walletService interface {
	CreditWithType(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, txType enums.WalletTransactionType, reference string) (*wallet.Credit, error)
	DebitForPurchaseTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*wallet.Purchase, error)
	BeginTopup(ctx context.Context, input wallet.TopupInput) (*models.WalletTopup, error)
	CompleteTopup(ctx context.Context, providerRef string) (*wallet.Credit, error)
	SettleTopup(ctx context.Context, input wallet.TopupInput) (*wallet.Credit, error)
	FindTopup(ctx context.Context, providerRef string) (*models.WalletTopup, error)
}

// Service reconciles provider payments with orders and wallet top-ups. Every
// provider path verifies the payment with the provider before settling it.
type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	BeginCheckout(ctx context.Context, req BeginCheckoutRequest) (*PendingPayment, error)
	Topup(ctx context.Context, req TopupRequest) (*TopupResult, error)
	BeginTopup(ctx context.Context, req BeginTopupRequest) (*PendingPayment, error)
	SettlePending(ctx context.Context, provider enums.PaymentProvider, ref string) (*Settlement, error)
	PendingFor(ctx context.Context, userID uuid.UUID) (*checkout.Pending, error)
	FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// ServiceParams packages the reconciliation dependencies.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Orders   orderService
	Wallet   walletService
	Pending  checkout.Store
	Gateways Gateways
	Outbox   outboxPublisher
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
	Currency string
}

type service struct {
	repo     Repository
	tx       txRunner
	orders   orderService
	wallet   walletService
	pending  checkout.Store
	gateways Gateways
	outbox   outboxPublisher
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	currency string

	claimWait time.Duration
}

const (
	defaultClaimWait = 5 * time.Second
	claimPoll        = 50 * time.Millisecond
)

// NewService validates and wires the reconciliation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Pending == nil {
		return nil, fmt.Errorf("pending checkout store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	gateways := params.Gateways
	if gateways == nil {
		gateways = Gateways{}
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		orders:   params.Orders,
		wallet:   params.Wallet,
		pending:  params.Pending,
		gateways: gateways,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     logg,
		currency: currency,

		claimWait: defaultClaimWait,
	}, nil
}

// WalletRef is the provider reference recorded for wallet payments.
func WalletRef(userID uuid.UUID) string {
	return "wallet:" + userID.String()
}

func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": req.UserID.String(), "provider": string(req.PaymentMethod)})
	switch {
	case req.PaymentMethod == enums.PaymentProviderWallet:
		return s.checkoutWallet(ctx, req)
	case req.PaymentMethod.RequiresCapture():
		return s.checkoutCaptured(ctx, req)
	case req.PaymentMethod.IsAsync():
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asynchronous providers settle through the payment status stream")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"payment_method": req.PaymentMethod})
	}
}

func (s *service) checkoutWallet(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var result *CheckoutResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		purchase, err := s.wallet.DebitForPurchaseTx(ctx, tx, req.UserID, req.Lines, req.Delivery)
		if err != nil {
			return err
		}
		payment, err := s.recordPayment(ctx, tx, req.UserID, purchase.Order, enums.PaymentProviderWallet, WalletRef(req.UserID), "")
		if err != nil {
			return err
		}
		result = resultFromPayment(payment, false)
		balance := purchase.NewBalance
		result.NewBalance = &balance
		return nil
	})
	if err != nil {
		s.metrics.IncSettlement(enums.PaymentProviderWallet.String(), metrics.OutcomeRejected)
		return nil, err
	}
	s.metrics.IncSettlement(enums.PaymentProviderWallet.String(), metrics.OutcomeSettled)
	s.logg.Info(s.logg.WithOrderID(ctx, result.OrderID.String()), "wallet checkout settled")
	return result, nil
}

// checkoutCaptured settles a PayPal order or Stripe intent the shopper
// approved. The cart, delivery and total come from the pending context saved
// by BeginCheckout, never from the request.
func (s *service) checkoutCaptured(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	proof := strings.TrimSpace(req.ProviderProof)
	if proof == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider proof required")
	}
	gw, err := s.gateway(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if prior, err := s.priorByProof(ctx, req.PaymentMethod, proof); err != nil || prior != nil {
		return prior, err
	}
	pending, err := s.pendingOrder(ctx, req.UserID, req.PaymentMethod, proof)
	if err != nil {
		// a concurrent confirmation may have settled and cleared the context
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if prior, findErr := s.priorByProof(ctx, req.PaymentMethod, proof); findErr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, err
	}

	capture, err := s.confirm(ctx, gw, proof)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeProviderNotCompleted) {
			s.metrics.IncSettlement(req.PaymentMethod.String(), metrics.OutcomeRejected)
		}
		return nil, err
	}
	result, err := s.settleCaptured(ctx, gw, pending, capture, proof)
	if err != nil {
		return nil, err
	}
	s.clearPending(ctx, *pending)
	return result, nil
}

// pendingOrder loads the order context opened for ref and checks that it
// belongs to userID and provider.
func (s *service) pendingOrder(ctx context.Context, userID uuid.UUID, provider enums.PaymentProvider, ref string) (*checkout.Pending, error) {
	pending, err := s.pending.LoadByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if pending.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "provider reference belongs to another checkout")
	}
	if pending.Provider != provider || pending.Kind != checkout.KindOrder {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "provider reference does not match the pending checkout")
	}
	return pending, nil
}

// settleCaptured settles a succeeded capture while holding the claim on its
// provider reference. Under the claim a recorded payment is authoritative: it
// is returned as the prior result and the capture is never compensated.
func (s *service) settleCaptured(ctx context.Context, gw Gateway, pending *checkout.Pending, capture *Capture, proof string) (*CheckoutResult, error) {
	provider := gw.Provider()
	release, err := s.claim(ctx, provider, capture.Ref)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	if prior, err := s.priorByRef(ctx, provider, capture.Ref); err != nil || prior != nil {
		if prior != nil {
			s.metrics.IncSettlement(provider.String(), metrics.OutcomeDuplicate)
		}
		return prior, err
	}
	if err := s.verifyAmount(capture, pending.Amount); err != nil {
		s.metrics.IncSettlement(provider.String(), metrics.OutcomeRejected)
		s.compensate(ctx, gw, pending.UserID, capture, err)
		return nil, err
	}
	if !capture.HasAmount {
		capture.Amount = pending.Amount
	}
	return s.settleOrder(ctx, gw, pending.UserID, pending.Lines, pending.Delivery, capture, proof, pending.Amount)
}

// claim waits up to claimWait for exclusive settlement of ref.
func (s *service) claim(ctx context.Context, provider enums.PaymentProvider, ref string) (func(context.Context), error) {
	deadline := time.Now().Add(s.claimWait)
	for {
		release, ok, err := s.pending.Claim(ctx, provider, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment is already being settled").
				WithDetails(map[string]any{"provider_ref": ref})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimPoll):
		}
	}
}

// settleOrder creates the order and its payment in one transaction. Callers
// hold the claim on the provider reference.
func (s *service) settleOrder(ctx context.Context, gw Gateway, userID uuid.UUID, lines []orders.CartLine, delivery orders.DeliveryOptions, capture *Capture, proof string, expected decimal.Decimal) (*CheckoutResult, error) {
	provider := gw.Provider()
	var result *CheckoutResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.CreateOrderTx(ctx, tx, userID, lines, delivery, orders.CreateHooks{
			BeforeReserve: orders.ExpectTotal(expected),
		})
		if err != nil {
			return err
		}
		payment, err := s.recordPayment(ctx, tx, userID, order, provider, capture.Ref, proof)
		if err != nil {
			return err
		}
		result = resultFromPayment(payment, false)
		return nil
	})
	if err != nil {
		// A payment recorded under this reference settled the capture; refunding
		// it would leave a paid order without its money.
		if prior, findErr := s.priorByRef(ctx, provider, capture.Ref); findErr == nil && prior != nil {
			s.metrics.IncSettlement(provider.String(), metrics.OutcomeDuplicate)
			return prior, nil
		}
		s.metrics.IncSettlement(provider.String(), metrics.OutcomeRejected)
		if dbpkg.IsUniqueViolation(err, providerRefConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment recorded concurrently")
		}
		if compensable(err) {
			s.compensate(ctx, gw, userID, capture, err)
		}
		return nil, err
	}
	s.metrics.IncSettlement(provider.String(), metrics.OutcomeSettled)
	s.logg.Info(s.logg.WithOrderID(ctx, result.OrderID.String()), "provider checkout settled")
	return result, nil
}

func (s *service) clearPending(ctx context.Context, pending checkout.Pending) {
	if err := s.pending.Clear(ctx, pending); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "provider_ref", pending.ProviderRef), "pending checkout not cleared after settlement")
	}
}

func (s *service) recordPayment(ctx context.Context, tx *gorm.DB, userID uuid.UUID, order *orders.Result, provider enums.PaymentProvider, ref, proof string) (*models.Payment, error) {
	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.OrderID,
		UserID:      userID,
		Provider:    provider,
		Status:      enums.PaymentStatusPaid,
		Amount:      order.Total,
		Currency:    s.currency,
		ProviderRef: ref,
		ProofRef:    proof,
	}
	if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         &outbox.ActorRef{UserID: userID, Role: string(enums.UserRoleShopper)},
		Data: payloads.PaymentSettledEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			UserID:      userID,
			Provider:    provider,
			ProviderRef: ref,
			Amount:      money.Format(payment.Amount),
			Currency:    payment.Currency,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment settled")
	}
	return payment, nil
}

func (s *service) BeginCheckout(ctx context.Context, req BeginCheckoutRequest) (*PendingPayment, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if req.Provider == enums.PaymentProviderWallet {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet checkouts settle immediately")
	}
	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}
	quote, err := s.orders.Quote(ctx, req.UserID, req.Lines, req.Delivery)
	if err != nil {
		return nil, err
	}
	intent, err := gw.CreateIntentOrOrder(ctx, quote.Total, s.currency, uuid.NewString())
	if err != nil {
		return nil, err
	}
	pending := checkout.Pending{
		UserID:      req.UserID,
		Kind:        checkout.KindOrder,
		Provider:    req.Provider,
		ProviderRef: intent.Ref,
		Lines:       req.Lines,
		Delivery:    req.Delivery,
		Amount:      quote.Total,
		Currency:    s.currency,
	}
	if err := s.pending.Save(ctx, pending); err != nil {
		return nil, err
	}
	return &PendingPayment{
		Intent:   *intent,
		Provider: req.Provider,
		Kind:     checkout.KindOrder,
		Amount:   quote.Total,
		Currency: s.currency,
		Async:    req.Provider.IsAsync(),
	}, nil
}

func (s *service) Topup(ctx context.Context, req TopupRequest) (*TopupResult, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !req.Provider.RequiresCapture() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-ups settle immediately only for capture providers").
			WithDetails(map[string]any{"provider": req.Provider})
	}
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}
	proof := strings.TrimSpace(req.ProviderProof)
	if proof == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider proof required")
	}
	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}

	capture, err := gw.CaptureOrConfirm(ctx, proof)
	if err != nil {
		return nil, err
	}
	if capture.Status != StatusSucceeded {
		s.metrics.IncSettlement(req.Provider.String(), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotCompleted, "provider payment not completed").
			WithDetails(map[string]any{"status": capture.Status})
	}
	if err := s.verifyAmount(capture, amount); err != nil {
		if existing, findErr := s.wallet.FindTopup(ctx, wallet.ProviderReference(req.Provider, capture.Ref)); findErr == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "provider payment already credited for a different amount").
				WithDetails(map[string]any{"credited": money.Format(existing.Amount)})
		}
		s.compensate(ctx, gw, uuid.Nil, capture, err)
		return nil, err
	}

	credit, err := s.wallet.SettleTopup(ctx, wallet.TopupInput{
		UserID:      req.UserID,
		Provider:    req.Provider,
		Amount:      amount,
		Currency:    s.currency,
		ProviderRef: capture.Ref,
	})
	if err != nil {
		return nil, err
	}
	s.recordCredit(req.Provider, credit.Duplicate)
	return &TopupResult{
		NewBalance:  credit.NewBalance,
		Provider:    req.Provider,
		ProviderRef: wallet.ProviderReference(req.Provider, capture.Ref),
		Duplicate:   credit.Duplicate,
	}, nil
}

func (s *service) BeginTopup(ctx context.Context, req BeginTopupRequest) (*PendingPayment, error) {
	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if req.Provider == enums.PaymentProviderWallet {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet cannot top up itself")
	}
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}
	gw, err := s.gateway(req.Provider)
	if err != nil {
		return nil, err
	}
	intent, err := gw.CreateIntentOrOrder(ctx, amount, s.currency, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if req.Provider.IsAsync() {
		if _, err := s.wallet.BeginTopup(ctx, wallet.TopupInput{
			UserID:      req.UserID,
			Provider:    req.Provider,
			Amount:      amount,
			Currency:    s.currency,
			ProviderRef: intent.Ref,
		}); err != nil {
			return nil, err
		}
		if err := s.pending.Save(ctx, checkout.Pending{
			UserID:      req.UserID,
			Kind:        checkout.KindTopup,
			Provider:    req.Provider,
			ProviderRef: intent.Ref,
			Amount:      amount,
			Currency:    s.currency,
		}); err != nil {
			return nil, err
		}
	}
	return &PendingPayment{
		Intent:   *intent,
		Provider: req.Provider,
		Kind:     checkout.KindTopup,
		Amount:   amount,
		Currency: s.currency,
		Async:    req.Provider.IsAsync(),
	}, nil
}

// SettlePending settles an asynchronous payment once the provider reports
// success. It is safe to call repeatedly and from several sources: the status
// stream, the provider webhook and the reconcile job.
func (s *service) SettlePending(ctx context.Context, provider enums.PaymentProvider, ref string) (*Settlement, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	gw, err := s.gateway(provider)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithProvider(ctx, provider.String())

	if prior, err := s.priorByRef(ctx, provider, ref); err != nil {
		return nil, err
	} else if prior != nil {
		return &Settlement{Kind: checkout.KindOrder, Provider: provider, ProviderRef: ref, Order: prior, Duplicate: true}, nil
	}

	topup, err := s.wallet.FindTopup(ctx, wallet.ProviderReference(provider, ref))
	switch {
	case err == nil:
		return s.settleTopup(ctx, gw, topup, ref)
	case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, err
	}

	pending, err := s.pending.LoadByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if pending.Provider != provider || pending.Kind != checkout.KindOrder {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "provider reference does not match the pending checkout")
	}

	capture, err := s.confirm(ctx, gw, ref)
	if err != nil {
		return nil, err
	}
	result, err := s.settleCaptured(ctx, gw, pending, capture, ref)
	if err != nil {
		return nil, err
	}
	s.clearPending(ctx, *pending)
	return &Settlement{
		Kind:        checkout.KindOrder,
		Provider:    provider,
		ProviderRef: ref,
		Order:       result,
		Duplicate:   result.Duplicate,
	}, nil
}

func (s *service) settleTopup(ctx context.Context, gw Gateway, topup *models.WalletTopup, ref string) (*Settlement, error) {
	if topup.Status != enums.TopupStatusCompleted {
		capture, err := s.confirm(ctx, gw, ref)
		if err != nil {
			return nil, err
		}
		if err := s.verifyAmount(capture, topup.Amount); err != nil {
			return nil, err
		}
	}
	credit, err := s.wallet.CompleteTopup(ctx, topup.ProviderRef)
	if err != nil {
		return nil, err
	}
	s.recordCredit(gw.Provider(), credit.Duplicate)
	if pending, err := s.pending.LoadByRef(ctx, ref); err == nil {
		s.clearPending(ctx, *pending)
	}
	return &Settlement{
		Kind:        checkout.KindTopup,
		Provider:    gw.Provider(),
		ProviderRef: ref,
		Topup: &TopupResult{
			NewBalance:  credit.NewBalance,
			Provider:    gw.Provider(),
			ProviderRef: topup.ProviderRef,
			Duplicate:   credit.Duplicate,
		},
		Duplicate: credit.Duplicate,
	}, nil
}

func (s *service) PendingFor(ctx context.Context, userID uuid.UUID) (*checkout.Pending, error) {
	return s.pending.Load(ctx, userID)
}

func (s *service) FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) gateway(provider enums.PaymentProvider) (Gateway, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment provider unavailable")
	}
	return gw, nil
}

func (s *service) confirm(ctx context.Context, gw Gateway, ref string) (*Capture, error) {
	capture, err := gw.CaptureOrConfirm(ctx, ref)
	if err != nil {
		return nil, err
	}
	if capture.Status != StatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotCompleted, "provider payment not completed").
			WithDetails(map[string]any{"status": capture.Status})
	}
	return capture, nil
}

// verifyAmount requires the provider to have collected exactly the expected
// amount, compared at two decimals, in the configured currency.
func (s *service) verifyAmount(capture *Capture, expected decimal.Decimal) error {
	if capture.Currency != "" && !strings.EqualFold(capture.Currency, s.currency) {
		return pkgerrors.New(pkgerrors.CodeProviderMismatch, "provider currency differs").
			WithDetails(map[string]any{"expected": s.currency, "actual": capture.Currency})
	}
	if capture.HasAmount && !money.Equal(capture.Amount, expected) {
		return pkgerrors.New(pkgerrors.CodeProviderMismatch, "provider amount differs from order total").
			WithDetails(map[string]any{"expected": money.Format(expected), "actual": money.Format(capture.Amount)})
	}
	return nil
}

func (s *service) priorByProof(ctx context.Context, provider enums.PaymentProvider, proof string) (*CheckoutResult, error) {
	payment, err := s.repo.FindByProof(ctx, provider, proof)
	return priorResult(payment, err)
}

func (s *service) priorByRef(ctx context.Context, provider enums.PaymentProvider, ref string) (*CheckoutResult, error) {
	payment, err := s.repo.FindByProviderRef(ctx, provider, ref)
	return priorResult(payment, err)
}

func priorResult(payment *models.Payment, err error) (*CheckoutResult, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
	}
	return resultFromPayment(payment, true), nil
}

func (s *service) recordCredit(provider enums.PaymentProvider, duplicate bool) {
	outcome := metrics.OutcomeSettled
	if duplicate {
		outcome = metrics.OutcomeDuplicate
	}
	s.metrics.IncSettlement(provider.String(), outcome)
}

// compensable reports settlement failures that will not succeed on retry, so
// money the provider already collected has to go back.
func compensable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeInsufficientStock, pkgerrors.CodeProviderMismatch,
		pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
		return true
	}
	return false
}

// compensate returns a captured payment that could not be settled. The
// provider refund is tried first; when the provider cannot refund, the amount
// is credited to the shopper's wallet instead.
func (s *service) compensate(ctx context.Context, gw Gateway, userID uuid.UUID, capture *Capture, cause error) {
	ctx = context.WithoutCancel(ctx)
	provider := gw.Provider()
	ctx = s.logg.WithFields(ctx, map[string]any{"provider": provider.String(), "provider_ref": capture.Ref})

	refundErr := gw.Refund(ctx, capture.Ref)
	if refundErr == nil {
		s.metrics.IncCompensation(provider.String(), "provider_refund")
		s.logg.Warn(ctx, fmt.Sprintf("captured payment refunded: %v", cause))
		return
	}
	if userID != uuid.Nil && capture.Amount.IsPositive() {
		ref := "refund:" + wallet.ProviderReference(provider, capture.Ref)
		if _, err := s.wallet.CreditWithType(ctx, userID, capture.Amount, enums.WalletTransactionTypeRefund, ref); err == nil {
			s.metrics.IncCompensation(provider.String(), "wallet_credit")
			s.logg.Warn(ctx, fmt.Sprintf("captured payment credited to wallet: %v", cause))
			return
		}
	}
	s.metrics.IncCompensation(provider.String(), metrics.OutcomeFailed)
	s.metrics.IncInconsistent("compensation")
	s.logg.Error(ctx, "captured payment could not be returned", refundErr)
}
