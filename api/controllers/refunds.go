package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/refunds"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type refundService interface {
	RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*refunds.Result, error)
	RequestRefund(ctx context.Context, input refunds.RequestInput) (*models.RefundRequest, error)
	Decide(ctx context.Context, decision refunds.Decision) (*refunds.DecisionResult, error)
	ListRequests(ctx context.Context, filter refunds.ListFilter) ([]models.RefundRequest, error)
}

type refundRequestResponse struct {
	ID           uuid.UUID                 `json:"refund_request_id"`
	OrderID      uuid.UUID                 `json:"order_id"`
	UserID       uuid.UUID                 `json:"user_id"`
	Reason       string                    `json:"reason"`
	EvidencePath *string                   `json:"evidence_path,omitempty"`
	Status       enums.RefundRequestStatus `json:"status"`
	DecisionNote *string                   `json:"decision_note,omitempty"`
	DecidedAt    *time.Time                `json:"decided_at,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

func newRefundRequestResponse(req models.RefundRequest) refundRequestResponse {
	return refundRequestResponse{
		ID:           req.ID,
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		Reason:       req.Reason,
		EvidencePath: req.EvidencePath,
		Status:       req.Status,
		DecisionNote: req.DecisionNote,
		DecidedAt:    req.DecidedAt,
		CreatedAt:    req.CreatedAt,
	}
}

type createRefundRequest struct {
	OrderID      uuid.UUID `json:"order_id" validate:"required"`
	Reason       string    `json:"reason" validate:"required,max=1000"`
	EvidencePath string    `json:"evidence_path,omitempty" validate:"max=500"`
}

// CreateRefundRequest files a shopper's request to refund one of their orders.
func CreateRefundRequest(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := svc.RequestRefund(r.Context(), refunds.RequestInput{
			UserID:       userID,
			OrderID:      payload.OrderID,
			Reason:       validators.CleanText(payload.Reason, 1000),
			EvidencePath: validators.CleanText(payload.EvidencePath, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundRequestResponse(*req))
	}
}

// ListMyRefundRequests lists the caller's refund requests.
func ListMyRefundRequests(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listRefundRequests(w, r, svc, userID, logg)
	}
}

// AdminListRefundRequests lists refund requests across all shoppers,
// optionally filtered by status.
func AdminListRefundRequests(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listRefundRequests(w, r, svc, uuid.Nil, logg)
	}
}

func listRefundRequests(w http.ResponseWriter, r *http.Request, svc refundService, userID uuid.UUID, logg *logger.Logger) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
		return
	}
	limit, err := pageLimit(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	filter := refunds.ListFilter{UserID: userID, Limit: limit}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseRefundRequestStatus(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"}))
			return
		}
		filter.Status = status
	}

	rows, err := svc.ListRequests(r.Context(), filter)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	out := make([]refundRequestResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, newRefundRequestResponse(row))
	}
	responses.WriteSuccess(w, out)
}

// AdminRefundOrder refunds a paid order into the shopper's wallet.
func AdminRefundOrder(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		adminID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuidParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RefundOrder(r.Context(), orderID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type decideRefundRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note,omitempty" validate:"max=1000"`
}

// AdminDecideRefundRequest approves or rejects a pending refund request.
func AdminDecideRefundRequest(svc refundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		adminID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := uuidParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload decideRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Decide(r.Context(), refunds.Decision{
			RequestID: requestID,
			AdminID:   adminID,
			Approve:   *payload.Approve,
			Note:      validators.CleanText(payload.Note, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
