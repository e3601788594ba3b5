package errors

import "net/http"

// Code is the machine readable error class returned to API clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMITED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeProviderMismatch     Code = "PROVIDER_MISMATCH"
	CodeProviderNotCompleted Code = "PROVIDER_NOT_COMPLETED"
	CodeProviderUnavailable  Code = "PROVIDER_UNAVAILABLE"
	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeInconsistentState    Code = "INCONSISTENT_STATE"
)

// Metadata is how a code is rendered over HTTP. Details are only echoed to
// clients when DetailsAllowed is set.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	withDetails
)

func meta(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		DetailsAllowed: traits&withDetails != 0,
	}
}

var catalog = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", 0),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", 0),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", 0),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", 0),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "too many requests", retryable),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	CodeInsufficientStock:    meta(http.StatusConflict, "insufficient stock", withDetails),
	CodeInsufficientFunds:    meta(http.StatusPaymentRequired, "insufficient wallet balance", withDetails),
	CodeProviderMismatch:     meta(http.StatusUnprocessableEntity, "payment does not match order total", withDetails),
	CodeProviderNotCompleted: meta(http.StatusUnprocessableEntity, "payment not completed", withDetails),
	CodeProviderUnavailable:  meta(http.StatusBadGateway, "payment provider unavailable", retryable),
	CodeAlreadyProcessed:     meta(http.StatusConflict, "already processed", withDetails),
	CodeInconsistentState:    meta(http.StatusInternalServerError, "operation requires manual reconciliation", 0),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeInternal]
}
