package enums

import "fmt"

// RefundRequestStatus tracks a shopper-initiated refund request.
type RefundRequestStatus string

const (
	RefundRequestStatusPending  RefundRequestStatus = "pending"
	RefundRequestStatusApproved RefundRequestStatus = "approved"
	RefundRequestStatusRejected RefundRequestStatus = "rejected"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusPending,
	RefundRequestStatusApproved,
	RefundRequestStatusRejected,
}

// String implements fmt.Stringer.
func (v RefundRequestStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (v RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundRequestStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund request status %q", value)
}
