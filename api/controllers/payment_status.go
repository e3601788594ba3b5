package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/internal/checkout"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type pendingFinder interface {
	PendingFor(ctx context.Context, userID uuid.UUID) (*checkout.Pending, error)
}

type statusStreamer interface {
	Stream(ctx context.Context, provider enums.PaymentProvider, ref string) (<-chan payments.StatusEvent, error)
}

// PendingPayment returns the caller's open provider payment, if any.
func PendingPayment(svc pendingFinder, logg *logger.Logger) http.HandlerFunc {
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
		pending, err := svc.PendingFor(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pending)
	}
}

// PaymentStatusStream streams status events for the caller's pending
// asynchronous payment as server-sent events. The poll stops when the client
// disconnects.
func PaymentStatusStream(svc pendingFinder, poller statusStreamer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || poller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		pending, err := svc.PendingFor(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if ref := strings.TrimSpace(r.URL.Query().Get("provider_ref")); ref != "" && ref != pending.ProviderRef {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payment for reference"))
			return
		}

		events, err := poller.Stream(ctx, pending.Provider, pending.ProviderRef)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if err := writeEvent(w, "pending", pending); err != nil {
			return
		}
		flusher.Flush()

		for event := range events {
			if err := writeEvent(w, "status", event); err != nil {
				if logg != nil {
					logg.Warn(ctx, fmt.Sprintf("payment status stream write failed: %v", err))
				}
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
