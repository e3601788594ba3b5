package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	retryableHTTP = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	retryableGRPC = map[codes.Code]bool{
		codes.Aborted:           true,
		codes.DeadlineExceeded:  true,
		codes.Internal:          true,
		codes.ResourceExhausted: true,
		codes.Unavailable:       true,
	}
)

// retryable reports whether every failure inside err is transient. A single
// row rejected for its content makes the whole insert permanent.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var rows cbigquery.PutMultiError
	if errors.As(err, &rows) {
		var inner []error
		for _, rowErr := range rows {
			inner = append(inner, rowErr.Errors...)
		}
		return allRetryable(inner)
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		return allRetryable(rowErr.Errors)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	if st, ok := status.FromError(err); ok {
		return retryableGRPC[st.Code()]
	}
	return false
}

func allRetryable[E ~[]error](errs E) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !retryable(err) {
			return false
		}
	}
	return true
}
