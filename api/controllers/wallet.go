package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type walletReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type topupService interface {
	Topup(ctx context.Context, req payments.TopupRequest) (*payments.TopupResult, error)
	BeginTopup(ctx context.Context, req payments.BeginTopupRequest) (*payments.PendingPayment, error)
}

type walletBalanceResponse struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type walletTransactionResponse struct {
	ID           uuid.UUID                   `json:"id"`
	Type         enums.WalletTransactionType `json:"type"`
	Amount       decimal.Decimal             `json:"amount"`
	BalanceAfter decimal.Decimal             `json:"balance_after"`
	Reference    string                      `json:"reference"`
	CreatedAt    time.Time                   `json:"created_at"`
}

// WalletBalance returns the caller's wallet balance.
func WalletBalance(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletBalanceResponse{UserID: userID, Balance: balance})
	}
}

// WalletHistory lists the caller's wallet transactions, newest first.
func WalletHistory(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
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
		rows, err := svc.History(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]walletTransactionResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, walletTransactionResponse{
				ID:           row.ID,
				Type:         row.Type,
				Amount:       row.Amount,
				BalanceAfter: row.BalanceAfter,
				Reference:    row.Reference,
				CreatedAt:    row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

type topupRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Provider      string          `json:"provider" validate:"required"`
	ProviderProof string          `json:"provider_proof" validate:"required,max=255"`
}

// WalletTopup credits the wallet from a provider payment the shopper already
// approved.
func WalletTopup(svc topupService, logg *logger.Logger) http.HandlerFunc {
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

		var payload topupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := parseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Topup(r.Context(), payments.TopupRequest{
			UserID:        userID,
			Amount:        payload.Amount,
			Provider:      provider,
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

type beginTopupRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider" validate:"required"`
}

// BeginWalletTopup opens a provider payment for a wallet top-up.
func BeginWalletTopup(svc topupService, logg *logger.Logger) http.HandlerFunc {
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

		var payload beginTopupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := parseProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pending, err := svc.BeginTopup(r.Context(), payments.BeginTopupRequest{
			UserID:   userID,
			Amount:   payload.Amount,
			Provider: provider,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, pending)
	}
}
