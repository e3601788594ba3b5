package orders

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// CartLine is one requested product in a checkout. UnitPrice is the price the
// shopper was quoted; the order snapshots the price read under lock.
type CartLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ProductName string          `json:"product_name"`
}

// DeliveryOptions is the shopper's fulfillment choice plus any admin waiver.
type DeliveryOptions struct {
	Method    enums.DeliveryMethod `json:"method"`
	Address   string               `json:"address,omitempty"`
	FeeWaived bool                 `json:"fee_waived,omitempty"`
}

// Result is returned to callers once the order transaction commits.
type Result struct {
	OrderID         uuid.UUID            `json:"order_id"`
	UserID          uuid.UUID            `json:"user_id"`
	ItemsTotal      decimal.Decimal      `json:"items_total"`
	DeliveryFee     decimal.Decimal      `json:"delivery_fee"`
	Total           decimal.Decimal      `json:"total"`
	DeliveryMethod  enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress *string              `json:"delivery_address,omitempty"`
}

// QuoteLine is a priced, deduplicated cart line.
type QuoteLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Available   int             `json:"available"`
}

// Quote is the server-side price of a cart at a point in time.
type Quote struct {
	Lines           []QuoteLine          `json:"lines"`
	ItemsTotal      decimal.Decimal      `json:"items_total"`
	DeliveryFee     decimal.Decimal      `json:"delivery_fee"`
	Total           decimal.Decimal      `json:"total"`
	DeliveryMethod  enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress *string              `json:"delivery_address,omitempty"`
}

// CreateHooks lets a caller veto the order once totals are known but before
// any stock is validated or decremented.
type CreateHooks struct {
	BeforeReserve func(quote Quote) error
}

type demand struct {
	productID uuid.UUID
	quantity  int
	name      string
}

// dedupe merges lines for the same product so stock is validated against the
// combined quantity. Output is sorted by product id, which is also the lock
// order.
func dedupe(lines []CartLine) []demand {
	index := make(map[uuid.UUID]int, len(lines))
	out := make([]demand, 0, len(lines))
	for _, line := range lines {
		if pos, ok := index[line.ProductID]; ok {
			out[pos].quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, demand{productID: line.ProductID, quantity: line.Quantity, name: line.ProductName})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].productID.String() < out[j].productID.String()
	})
	return out
}

func productIDs(demands []demand) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(demands))
	for _, d := range demands {
		ids = append(ids, d.productID)
	}
	return ids
}

func validateRequest(userID uuid.UUID, lines []CartLine, opts DeliveryOptions) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required").
				WithDetails(map[string]any{"line": i})
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
				WithDetails(map[string]any{"line": i, "productId": line.ProductID})
		}
		if line.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative").
				WithDetails(map[string]any{"line": i, "productId": line.ProductID})
		}
	}
	if !opts.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery method").
			WithDetails(map[string]any{"method": opts.Method})
	}
	if opts.Method == enums.DeliveryMethodDelivery && strings.TrimSpace(opts.Address) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery address required for delivery")
	}
	return nil
}

// deliveryAddress is stored only for delivery orders.
func deliveryAddress(opts DeliveryOptions) *string {
	if opts.Method != enums.DeliveryMethodDelivery {
		return nil
	}
	addr := strings.TrimSpace(opts.Address)
	return &addr
}

func resultFromOrder(order *models.Order) *Result {
	return &Result{
		OrderID:         order.ID,
		UserID:          order.UserID,
		ItemsTotal:      order.ItemsTotal,
		DeliveryFee:     order.DeliveryFee,
		Total:           order.Total,
		DeliveryMethod:  order.DeliveryMethod,
		DeliveryAddress: order.DeliveryAddress,
	}
}
