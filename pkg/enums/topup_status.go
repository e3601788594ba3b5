package enums

import "fmt"

// TopupStatus tracks an asynchronous wallet top-up.
type TopupStatus string

const (
	TopupStatusPending   TopupStatus = "pending"
	TopupStatusCompleted TopupStatus = "completed"
)

var validTopupStatuses = []TopupStatus{
	TopupStatusPending,
	TopupStatusCompleted,
}

// String implements fmt.Stringer.
func (v TopupStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known TopupStatus.
func (v TopupStatus) IsValid() bool {
	for _, candidate := range validTopupStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseTopupStatus converts raw input into a TopupStatus.
func ParseTopupStatus(value string) (TopupStatus, error) {
	for _, candidate := range validTopupStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid topup status %q", value)
}
