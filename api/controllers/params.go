package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

func currentUserID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id, nil
}

func isAdmin(r *http.Request) bool {
	return enums.UserRole(middleware.RoleFromContext(r.Context())) == enums.UserRoleAdmin
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

type cartLineRequest struct {
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ProductName string          `json:"product_name,omitempty" validate:"max=200"`
}

type deliveryRequest struct {
	Method    string `json:"method" validate:"required,oneof=pickup delivery"`
	Address   string `json:"address,omitempty" validate:"max=500"`
	FeeWaived bool   `json:"fee_waived,omitempty"`
}

type cartRequest struct {
	Lines    []cartLineRequest `json:"lines" validate:"required,min=1,dive"`
	Delivery deliveryRequest   `json:"delivery"`
}

func (c cartRequest) cartLines() []orders.CartLine {
	out := make([]orders.CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		out = append(out, orders.CartLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ProductName: strings.TrimSpace(line.ProductName),
		})
	}
	return out
}

// deliveryOptions honours a fee waiver only for admin callers.
func (c cartRequest) deliveryOptions(r *http.Request) orders.DeliveryOptions {
	return orders.DeliveryOptions{
		Method:    enums.DeliveryMethod(c.Delivery.Method),
		Address:   strings.TrimSpace(c.Delivery.Address),
		FeeWaived: c.Delivery.FeeWaived && isAdmin(r),
	}
}

func parseProvider(raw string) (enums.PaymentProvider, error) {
	provider, err := enums.ParsePaymentProvider(strings.TrimSpace(raw))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment provider").WithDetails(map[string]any{"field": "provider"})
	}
	return provider, nil
}

func pageLimit(r *http.Request) (int, error) {
	return validators.QueryInt(r, "limit", validators.IntRange{Default: pagination.DefaultLimit, Min: 1, Max: pagination.MaxLimit})
}
