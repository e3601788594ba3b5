// Package idempotency records which outbox events a consumer has applied so
// Pub/Sub redeliveries are acknowledged without being applied twice.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

var errNoEventID = errors.New("event id is required")

// Ledger is one consumer's view of applied events. Keys are
// <idempotency namespace>:evt:<consumer>:<event id>.
type Ledger struct {
	store redis.IdempotencyStore
	scope string
	ttl   time.Duration
}

// NewLedger binds store to consumer. A zero ttl keeps marks forever.
func NewLedger(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Ledger, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Ledger{store: store, scope: "evt:" + consumer, ttl: ttl}, nil
}

// Claim marks eventID as applied and reports whether this call was the first
// to do so.
func (l *Ledger) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errNoEventID
	}
	return l.store.SetNX(ctx, l.key(eventID), "1", l.ttl)
}

// Forget drops the mark so the next delivery is applied again.
func (l *Ledger) Forget(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errNoEventID
	}
	return l.store.Del(ctx, l.key(eventID))
}

func (l *Ledger) key(eventID uuid.UUID) string {
	return l.store.IdempotencyKey(l.scope, eventID.String())
}
