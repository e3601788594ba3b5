package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"

	defaultLease = 2 * time.Minute
)

type claimStore interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// IdempotencyGuard tracks Stripe event ids in two phases. Claim takes a short
// processing lease so a crashed handler does not swallow Stripe's retry;
// Complete replaces it with a done marker that lives for the full TTL.
type IdempotencyGuard struct {
	store claimStore
	scope string
	lease time.Duration
	ttl   time.Duration
}

func NewIdempotencyGuard(store claimStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store required")
	case scope == "":
		return nil, errors.New("scope required")
	case ttl < 0:
		return nil, errors.New("ttl must not be negative")
	}
	lease := defaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &IdempotencyGuard{store: store, scope: scope, lease: lease, ttl: ttl}, nil
}

// Claim reports true when this caller owns the event. False means another
// delivery completed it or is processing it now.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, stateProcessing, g.lease)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return claimed, nil
}

func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, key, stateDone, g.ttl); err != nil {
		return fmt.Errorf("complete stripe event %s: %w", eventID, err)
	}
	return nil
}

// Release drops a claim after a failed handling so the retry runs again.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

// InFlight reports whether the event is claimed but not yet completed.
func (g *IdempotencyGuard) InFlight(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	state, err := g.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return state == stateProcessing, nil
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errors.New("event id required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
