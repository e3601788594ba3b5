// Package checkout keeps the pending context of a checkout or top-up between
// the moment a provider intent is created and the moment it settles.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// Kind says what a pending context settles into.
type Kind string

const (
	KindOrder Kind = "order"
	KindTopup Kind = "topup"
)

// Pending is the server-side record of an in-flight provider payment. The
// amount is the total the provider was asked to collect.
type Pending struct {
	UserID      uuid.UUID              `json:"user_id"`
	Kind        Kind                   `json:"kind"`
	Provider    enums.PaymentProvider  `json:"provider"`
	ProviderRef string                 `json:"provider_ref"`
	Lines       []orders.CartLine      `json:"lines,omitempty"`
	Delivery    orders.DeliveryOptions `json:"delivery"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Store persists pending contexts with a TTL.
type Store interface {
	Save(ctx context.Context, p Pending) error
	Load(ctx context.Context, userID uuid.UUID) (*Pending, error)
	LoadByRef(ctx context.Context, providerRef string) (*Pending, error)
	Clear(ctx context.Context, p Pending) error
	// Claim makes the caller the only settler of a provider reference until
	// release is called or the claim expires. ok is false while another
	// caller holds it.
	Claim(ctx context.Context, provider enums.PaymentProvider, providerRef string) (release func(context.Context), ok bool, err error)
}

type kvStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	CheckoutKey(userID string) string
	CheckoutRefKey(providerRef string) string
	LockKey(name string) string
}

// claimTTL outlives one settlement attempt, including the provider refund of
// a failed one.
const claimTTL = 2 * time.Minute

type redisStore struct {
	kv  kvStore
	ttl time.Duration
}

// NewRedisStore keeps one pending context per user plus a reference index so
// asynchronous notifications can find it.
func NewRedisStore(kv kvStore, ttl time.Duration) (Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("checkout ttl must be positive")
	}
	return &redisStore{kv: kv, ttl: ttl}, nil
}

func (s *redisStore) Save(ctx context.Context, p Pending) error {
	if p.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if strings.TrimSpace(p.ProviderRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pending checkout")
	}
	if err := s.kv.Set(ctx, s.kv.CheckoutKey(p.UserID.String()), raw, s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pending checkout")
	}
	if err := s.kv.Set(ctx, s.kv.CheckoutRefKey(p.ProviderRef), p.UserID.String(), s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "index pending checkout")
	}
	return nil
}

func (s *redisStore) Load(ctx context.Context, userID uuid.UUID) (*Pending, error) {
	raw, err := s.kv.Get(ctx, s.kv.CheckoutKey(userID.String()))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending checkout")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending checkout")
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode pending checkout")
	}
	return &p, nil
}

// LoadByRef resolves a provider reference to its pending context. A user who
// started a newer checkout since then no longer owns the reference.
func (s *redisStore) LoadByRef(ctx context.Context, providerRef string) (*Pending, error) {
	owner, err := s.kv.Get(ctx, s.kv.CheckoutRefKey(providerRef))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending checkout for reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve checkout reference")
	}
	userID, err := uuid.Parse(owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout reference")
	}
	p, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.ProviderRef != providerRef {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout reference superseded")
	}
	return p, nil
}

func (s *redisStore) Clear(ctx context.Context, p Pending) error {
	keys := []string{s.kv.CheckoutRefKey(p.ProviderRef)}
	current, err := s.Load(ctx, p.UserID)
	if err == nil && current.ProviderRef == p.ProviderRef {
		keys = append(keys, s.kv.CheckoutKey(p.UserID.String()))
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear pending checkout")
	}
	return nil
}

func (s *redisStore) Claim(ctx context.Context, provider enums.PaymentProvider, providerRef string) (func(context.Context), bool, error) {
	if strings.TrimSpace(providerRef) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "provider reference required")
	}
	key := s.kv.LockKey("settle:" + provider.String() + ":" + providerRef)
	token := uuid.NewString()
	ok, err := s.kv.SetNX(ctx, key, token, claimTTL)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim provider reference")
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		_, _ = s.kv.DelIfValue(context.WithoutCancel(ctx), key, token)
	}, true, nil
}
