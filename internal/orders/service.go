package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/fees"
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

// Service creates orders and reserves the stock behind them.
type Service interface {
	Quote(ctx context.Context, userID uuid.UUID, lines []CartLine, opts DeliveryOptions) (*Quote, error)
	CreateOrder(ctx context.Context, userID uuid.UUID, lines []CartLine, opts DeliveryOptions) (*Result, error)
	CreateOrderTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []CartLine, opts DeliveryOptions, hooks CreateHooks) (*Result, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
	AdvanceStatus(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error
}

type service struct {
	repo   Repository
	tx     txRunner
	fees   fees.Calculator
	outbox outboxPublisher
}

// NewService builds the order creator.
func NewService(repo Repository, tx txRunner, calc fees.Calculator, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, fees: calc, outbox: publisher}, nil
}

// Quote prices a cart without locking. It is advisory; CreateOrder re-derives
// every amount under lock.
func (s *service) Quote(ctx context.Context, userID uuid.UUID, lines []CartLine, opts DeliveryOptions) (*Quote, error) {
	if err := validateRequest(userID, lines, opts); err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	demands := dedupe(lines)
	products, err := s.repo.ListProducts(ctx, productIDs(demands))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	quote, err := s.price(user, demands, products, opts)
	if err != nil {
		return nil, err
	}
	if err := checkStock(quote); err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, lines []CartLine, opts DeliveryOptions) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.CreateOrderTx(ctx, tx, userID, lines, opts, CreateHooks{})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateOrderTx runs the order creator inside the caller's transaction. Any
// error leaves the transaction for the caller to roll back.
func (s *service) CreateOrderTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, lines []CartLine, opts DeliveryOptions, hooks CreateHooks) (*Result, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateRequest(userID, lines, opts); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	user, err := s.loadUser(ctx, repo, userID)
	if err != nil {
		return nil, err
	}

	demands := dedupe(lines)
	products, err := repo.LockProducts(ctx, productIDs(demands))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock products")
	}

	quote, err := s.price(user, demands, products, opts)
	if err != nil {
		return nil, err
	}
	if hooks.BeforeReserve != nil {
		if err := hooks.BeforeReserve(*quote); err != nil {
			return nil, err
		}
	}
	if err := checkStock(quote); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		ItemsTotal:      quote.ItemsTotal,
		DeliveryFee:     quote.DeliveryFee,
		Total:           quote.Total,
		DeliveryMethod:  opts.Method,
		DeliveryAddress: quote.DeliveryAddress,
		FeeWaived:       opts.FeeWaived,
		Status:          enums.OrderStatusProcessing,
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order")
	}

	items := make([]models.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, models.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		})
	}
	if err := repo.CreateItems(ctx, items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order items")
	}

	for _, line := range quote.Lines {
		ok, err := repo.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if !ok {
			return nil, pkgerrors.InsufficientStock(line.ProductName, line.Quantity, line.Available)
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: userID, Role: string(user.Role)},
		Data: payloads.OrderCreatedEvent{
			OrderID:        order.ID,
			UserID:         userID,
			Total:          money.Format(order.Total),
			DeliveryFee:    money.Format(order.DeliveryFee),
			DeliveryMethod: order.DeliveryMethod,
			ItemCount:      len(items),
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
	}

	return resultFromOrder(order), nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListByUser(ctx, userID, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, nil
}

// requiredPrior maps a target status to the only status it may be entered from.
var requiredPrior = map[enums.OrderStatus]enums.OrderStatus{
	enums.OrderStatusDispatched: enums.OrderStatusProcessing,
	enums.OrderStatusDelivered:  enums.OrderStatusDispatched,
}

// AdvanceStatus moves an order forward one fulfillment step.
func (s *service) AdvanceStatus(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error {
	from, ok := requiredPrior[to]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid target status").
			WithDetails(map[string]any{"status": to})
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == to {
		return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "order already in requested status")
	}
	updated, err := s.repo.UpdateStatus(ctx, orderID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
			WithDetails(map[string]any{"current": order.Status, "requested": to})
	}
	return nil
}

func (s *service) loadUser(ctx context.Context, repo Repository, userID uuid.UUID) (*models.User, error) {
	user, err := repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return user, nil
}

func (s *service) price(user *models.User, demands []demand, products []models.Product, opts DeliveryOptions) (*Quote, error) {
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]QuoteLine, 0, len(demands))
	priced := make([]fees.Line, 0, len(demands))
	for _, d := range demands {
		product, ok := byID[d.productID]
		if !ok {
			name := d.name
			if name == "" {
				name = d.productID.String()
			}
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", name)).
				WithDetails(map[string]any{"productId": d.productID})
		}
		unit := product.EffectivePrice()
		lines = append(lines, QuoteLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    d.quantity,
			UnitPrice:   unit,
			LineTotal:   money.LineTotal(unit, d.quantity),
			Available:   product.Quantity,
		})
		priced = append(priced, fees.Line{UnitPrice: unit, Quantity: d.quantity})
	}

	itemsTotal := fees.ItemsTotal(priced)
	fee := s.fees.Fee(user.FreeDelivery, opts.Method, opts.FeeWaived)
	return &Quote{
		Lines:           lines,
		ItemsTotal:      itemsTotal,
		DeliveryFee:     fee,
		Total:           fees.Total(itemsTotal, fee),
		DeliveryMethod:  opts.Method,
		DeliveryAddress: deliveryAddress(opts),
	}, nil
}

// checkStock fails on the first line whose combined demand exceeds stock.
func checkStock(quote *Quote) error {
	for _, line := range quote.Lines {
		if line.Available < line.Quantity {
			return pkgerrors.InsufficientStock(line.ProductName, line.Quantity, line.Available)
		}
	}
	return nil
}

// ExpectTotal returns a hook that rejects the order when the locked total
// differs from an amount the provider already settled.
func ExpectTotal(expected decimal.Decimal) func(Quote) error {
	return func(q Quote) error {
		if !money.Equal(q.Total, expected) {
			return pkgerrors.New(pkgerrors.CodeProviderMismatch, "order total changed after payment").
				WithDetails(map[string]any{"expected": money.Format(expected), "actual": money.Format(q.Total)})
		}
		return nil
	}
}
