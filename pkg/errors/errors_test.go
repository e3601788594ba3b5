package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeInsufficientStock, status: http.StatusConflict, publicMsg: "insufficient stock", detailsOK: true},
		{code: CodeInsufficientFunds, status: http.StatusPaymentRequired, publicMsg: "insufficient wallet balance", detailsOK: true},
		{code: CodeProviderMismatch, status: http.StatusUnprocessableEntity, publicMsg: "payment does not match order total", detailsOK: true},
		{code: CodeProviderUnavailable, status: http.StatusBadGateway, publicMsg: "payment provider unavailable", retryable: true},
		{code: CodeInconsistentState, status: http.StatusInternalServerError, publicMsg: "operation requires manual reconciliation"},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeProviderUnavailable, cause, "capture")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeProviderUnavailable {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	inner := InsufficientStock("Widget", 3, 2)
	outer := fmt.Errorf("create order: %w", inner)

	if !IsCode(outer, CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock code in chain")
	}
	if IsCode(outer, CodeInsufficientFunds) {
		t.Fatalf("unexpected funds code match")
	}
	details, ok := As(outer).Details().(map[string]any)
	if !ok || details["product"] != "Widget" {
		t.Fatalf("expected product detail, got %#v", As(outer).Details())
	}
}

func TestAsReturnsNilForPlainErrors(t *testing.T) {
	if As(stdErrors.New("plain")) != nil {
		t.Fatalf("expected nil for untyped error")
	}
	if As(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestDumpClassifiesStoreErrors(t *testing.T) {
	cause := &pgconn.PgError{Code: "23505", ConstraintName: "ux_wallet_transactions_reference", TableName: "wallet_transactions"}
	err := Wrap(CodeDependency, fmt.Errorf("insert wallet transaction: %w", cause), "credit wallet")

	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("code = %s", d.Code)
	}
	if d.PGConstraint != "ux_wallet_transactions_reference" || d.StoreClass != "duplicate_reference" {
		t.Fatalf("unexpected dump %+v", d)
	}
	if len(d.Chain) < 2 {
		t.Fatalf("expected wrapped chain, got %v", d.Chain)
	}

	if got := Dump(&pq.Error{Code: "40P01"}).StoreClass; got != "deadlock" {
		t.Fatalf("pq deadlock class = %q", got)
	}
	if got := Dump(stdErrors.New("plain")); got.StoreClass != "" || got.PGCode != "" {
		t.Fatalf("plain error should carry no store fields: %+v", got)
	}
}

func TestWithDetailsLeavesOriginalUntouched(t *testing.T) {
	base := New(CodeProviderMismatch, "amount differs")
	detailed := base.WithDetails(map[string]any{"expected": "10.00"})

	if base.Details() != nil {
		t.Fatalf("base error must not gain details")
	}
	if detailed.Code() != CodeProviderMismatch || detailed.Details() == nil {
		t.Fatalf("unexpected detailed error %v", detailed)
	}
}
