package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type quoter interface {
	Quote(ctx context.Context, userID uuid.UUID, lines []orders.CartLine, opts orders.DeliveryOptions) (*orders.Quote, error)
}

type checkoutService interface {
	Checkout(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutResult, error)
	BeginCheckout(ctx context.Context, req payments.BeginCheckoutRequest) (*payments.PendingPayment, error)
}

// Quote prices a cart server-side without reserving anything.
func Quote(svc quoter, logg *logger.Logger) http.HandlerFunc {
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

		var payload cartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), userID, payload.cartLines(), payload.deliveryOptions(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

type checkoutRequest struct {
	cartRequest
	PaymentMethod string `json:"payment_method" validate:"required"`
	ProviderProof string `json:"provider_proof,omitempty" validate:"max=255"`
}

// Checkout settles a cart in one call: from the wallet, or from a PayPal order
// or Stripe card intent the shopper already approved.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := parseProvider(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), payments.CheckoutRequest{
			UserID:        userID,
			Lines:         payload.cartLines(),
			Delivery:      payload.deliveryOptions(r),
			PaymentMethod: method,
			ProviderProof: strings.TrimSpace(payload.ProviderProof),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

type beginCheckoutRequest struct {
	cartRequest
	Provider string `json:"provider" validate:"required"`
}

// BeginCheckout opens a provider payment for a cart and returns what the
// client needs to complete it.
func BeginCheckout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload beginCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := parseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if provider == enums.PaymentProviderWallet {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "wallet checkouts settle directly"))
			return
		}

		pending, err := svc.BeginCheckout(r.Context(), payments.BeginCheckoutRequest{
			UserID:   userID,
			Lines:    payload.cartLines(),
			Delivery: payload.deliveryOptions(r),
			Provider: provider,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, pending)
	}
}
