package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type orderReader interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
}

type orderAdvancer interface {
	AdvanceStatus(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) error
}

type paymentFinder interface {
	FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type orderItemResponse struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type paymentResponse struct {
	Provider    enums.PaymentProvider `json:"provider"`
	Status      enums.PaymentStatus   `json:"status"`
	Amount      decimal.Decimal       `json:"amount"`
	Currency    string                `json:"currency"`
	ProviderRef string                `json:"provider_ref"`
	RefundedAt  *time.Time            `json:"refunded_at,omitempty"`
}

type orderResponse struct {
	OrderID         uuid.UUID            `json:"order_id"`
	UserID          uuid.UUID            `json:"user_id"`
	Status          enums.OrderStatus    `json:"status"`
	ItemsTotal      decimal.Decimal      `json:"items_total"`
	DeliveryFee     decimal.Decimal      `json:"delivery_fee"`
	Total           decimal.Decimal      `json:"total"`
	DeliveryMethod  enums.DeliveryMethod `json:"delivery_method"`
	DeliveryAddress *string              `json:"delivery_address,omitempty"`
	FeeWaived       bool                 `json:"fee_waived,omitempty"`
	Items           []orderItemResponse  `json:"items,omitempty"`
	Payment         *paymentResponse     `json:"payment,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func newOrderResponse(order models.Order, payment *models.Payment) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	resp := orderResponse{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Status:          order.Status,
		ItemsTotal:      order.ItemsTotal,
		DeliveryFee:     order.DeliveryFee,
		Total:           order.Total,
		DeliveryMethod:  order.DeliveryMethod,
		DeliveryAddress: order.DeliveryAddress,
		FeeWaived:       order.FeeWaived,
		Items:           items,
		CreatedAt:       order.CreatedAt,
	}
	if payment != nil {
		resp.Payment = &paymentResponse{
			Provider:    payment.Provider,
			Status:      payment.Status,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
			ProviderRef: payment.ProviderRef,
			RefundedAt:  payment.RefundedAt,
		}
	}
	return resp
}

// ListOrders returns the caller's most recent orders.
func ListOrders(svc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := pageLimit(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListOrders(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]orderResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, newOrderResponse(row, nil))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetOrder returns one order with its payment. Shoppers only see their own.
func GetOrder(svc orderReader, payments paymentFinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || payments == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.UserID != userID && !isAdmin(r) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		payment, err := payments.FindPayment(r.Context(), orderID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order, payment))
	}
}

type advanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=dispatched delivered"`
}

// AdvanceOrderStatus moves an order one fulfillment step forward.
func AdvanceOrderStatus(svc orderAdvancer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload advanceStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.OrderStatus(payload.Status)
		if err := svc.AdvanceStatus(r.Context(), orderID, status); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "status": status})
	}
}
