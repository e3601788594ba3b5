package redis

import "strings"

const keyNamespace = "settle"

// Key families under the settle namespace.
const (
	familyIdempotency = "idempotency"
	familyRateLimit   = "rate_limit"
	familyCheckout    = "checkout"
	familyLock        = "lock"
)

// Keys builds colon-joined keys under one namespace. Blank segments are
// dropped so an empty scope never yields "a::b".
type Keys struct {
	namespace string
}

func (k Keys) join(segments ...string) string {
	ns := k.namespace
	if ns == "" {
		ns = keyNamespace
	}
	var b strings.Builder
	b.WriteString(ns)
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(seg)
	}
	return b.String()
}

func (k Keys) IdempotencyKey(scope, id string) string {
	return k.join(familyIdempotency, scope, id)
}

func (k Keys) RateLimitKey(scope string) string {
	return k.join(familyRateLimit, scope)
}

// CheckoutKey holds a user's pending checkout context.
func (k Keys) CheckoutKey(userID string) string {
	return k.join(familyCheckout, "user", userID)
}

// CheckoutRefKey maps a provider reference back to the user that owns it.
func (k Keys) CheckoutRefKey(providerRef string) string {
	return k.join(familyCheckout, "ref", providerRef)
}

func (k Keys) LockKey(name string) string {
	return k.join(familyLock, name)
}
