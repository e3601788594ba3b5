package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return nil
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryKV) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryKV) DelIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memoryKV) CheckoutKey(userID string) string         { return "checkout:user:" + userID }
func (m *memoryKV) CheckoutRefKey(providerRef string) string { return "checkout:ref:" + providerRef }
func (m *memoryKV) LockKey(name string) string               { return "lock:" + name }

func pendingFor(userID uuid.UUID, ref string) Pending {
	return Pending{
		UserID:      userID,
		Kind:        KindOrder,
		Provider:    enums.PaymentProviderNETS,
		ProviderRef: ref,
		Lines:       []orders.CartLine{{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}},
		Delivery:    orders.DeliveryOptions{Method: enums.DeliveryMethodDelivery, Address: "1 Main St"},
		Amount:      decimal.RequireFromString("21.50"),
		Currency:    "SGD",
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	kv := newMemoryKV()
	store, err := NewRedisStore(kv, 30*time.Minute)
	require.NoError(t, err)

	userID := uuid.New()
	require.NoError(t, store.Save(context.Background(), pendingFor(userID, "nets:RR-1")))
	assert.Equal(t, 30*time.Minute, kv.ttls[kv.CheckoutKey(userID.String())])

	byUser, err := store.Load(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "21.50", byUser.Amount.StringFixed(2))
	assert.Equal(t, 2, byUser.Lines[0].Quantity)
	assert.False(t, byUser.CreatedAt.IsZero())

	byRef, err := store.LoadByRef(context.Background(), "nets:RR-1")
	require.NoError(t, err)
	assert.Equal(t, userID, byRef.UserID)

	require.NoError(t, store.Clear(context.Background(), *byRef))
	_, err = store.Load(context.Background(), userID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = store.LoadByRef(context.Background(), "nets:RR-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRedisStoreNewerCheckoutSupersedesReference(t *testing.T) {
	store, err := NewRedisStore(newMemoryKV(), time.Minute)
	require.NoError(t, err)

	userID := uuid.New()
	old := pendingFor(userID, "nets:OLD")
	require.NoError(t, store.Save(context.Background(), old))
	require.NoError(t, store.Save(context.Background(), pendingFor(userID, "nets:NEW")))

	_, err = store.LoadByRef(context.Background(), "nets:OLD")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, store.Clear(context.Background(), old))
	current, err := store.Load(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "nets:NEW", current.ProviderRef)
}

func TestRedisStoreValidation(t *testing.T) {
	_, err := NewRedisStore(newMemoryKV(), 0)
	require.Error(t, err)

	store, err := NewRedisStore(newMemoryKV(), time.Minute)
	require.NoError(t, err)
	err = store.Save(context.Background(), Pending{UserID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRedisStoreClaimIsExclusivePerReference(t *testing.T) {
	kv := newMemoryKV()
	store, err := NewRedisStore(kv, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	release, ok, err := store.Claim(ctx, enums.PaymentProviderStripe, "pi_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claimTTL, kv.ttls["lock:settle:stripe:pi_1"])

	_, ok, err = store.Claim(ctx, enums.PaymentProviderStripe, "pi_1")
	require.NoError(t, err)
	assert.False(t, ok, "a held reference cannot be claimed twice")

	other, ok, err := store.Claim(ctx, enums.PaymentProviderStripe, "pi_2")
	require.NoError(t, err)
	require.True(t, ok)
	other(ctx)

	release(ctx)
	again, ok, err := store.Claim(ctx, enums.PaymentProviderStripe, "pi_1")
	require.NoError(t, err)
	assert.True(t, ok)
	again(ctx)

	_, _, err = store.Claim(ctx, enums.PaymentProviderStripe, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
