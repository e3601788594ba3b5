package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

func TestWriteSuccessStatusWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]string{"order_id": "o-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"order_id":"o-1"}}`, rec.Body.String())
}

func TestWriteErrorRendering(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		status      int
		code        pkgerrors.Code
		message     string
		wantDetails bool
	}{
		{
			name:        "validation keeps message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").WithDetails(map[string]string{"field": "quantity"}),
			status:      http.StatusBadRequest,
			code:        pkgerrors.CodeValidation,
			message:     "quantity must be positive",
			wantDetails: true,
		},
		{
			name:    "insufficient funds",
			err:     pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance 5.00 is below order total 12.50"),
			status:  http.StatusPaymentRequired,
			code:    pkgerrors.CodeInsufficientFunds,
			message: "wallet balance 5.00 is below order total 12.50",
		},
		{
			name:    "wrapped typed error is found",
			err:     fmt.Errorf("confirm: %w", pkgerrors.New(pkgerrors.CodeProviderMismatch, "amount 10.00 != 12.50")),
			status:  http.StatusUnprocessableEntity,
			code:    pkgerrors.CodeProviderMismatch,
			message: "amount 10.00 != 12.50",
		},
		{
			name:    "inconsistent state hides internals",
			err:     pkgerrors.New(pkgerrors.CodeInconsistentState, "wallet credited but payment still pending").WithDetails(map[string]any{"payment_id": "p1"}),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInconsistentState,
			message: "operation requires manual reconciliation",
		},
		{
			name:    "provider outage uses public message",
			err:     pkgerrors.New(pkgerrors.CodeProviderUnavailable, "stripe: dial tcp timeout"),
			status:  http.StatusBadGateway,
			code:    pkgerrors.CodeProviderUnavailable,
			message: "payment provider unavailable",
		},
		{
			name:    "untyped error is internal",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), rec, tc.err)

			require.Equal(t, tc.status, rec.Code)
			var body ErrorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.code), body.Error.Code)
			assert.Equal(t, tc.message, body.Error.Message)
			assert.Equal(t, tc.wantDetails, body.Error.Details != nil)
		})
	}
}

func TestWriteErrorToleratesNil(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteErrorLogLevelFollowsStatus(t *testing.T) {
	cases := map[string]struct {
		err   error
		level string
		msg   string
	}{
		"client error": {pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), "warn", "request rejected"},
		"server error": {errors.New("connection refused"), "error", "request failed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
			WriteError(context.Background(), logg, httptest.NewRecorder(), tc.err)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tc.level, entry["level"])
			assert.Equal(t, tc.msg, entry["message"])
			assert.NotNil(t, entry["status"])
		})
	}
}
