package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/pkg/config"
)

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	client := &Client{cmd: fake}
	key := client.RateLimitKey("confirm:user-1")

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrWithTTL(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, []time.Duration{time.Minute}, fake.expiries[key])
}

func TestCheckoutContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newFakeCommands()}
	key := client.CheckoutKey("user-1")

	require.NoError(t, client.Set(ctx, key, `{"provider":"stripe"}`, 10*time.Minute))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"provider":"stripe"}`, got)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestSetNXClaimsOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newFakeCommands()}
	key := client.IdempotencyKey("stripe", "evt_1")

	first, err := client.SetNX(ctx, key, "processing", time.Hour)
	require.NoError(t, err)
	second, err := client.SetNX(ctx, key, "processing", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestUninitializedClientFails(t *testing.T) {
	var client *Client
	assert.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, err := (&Client{}).Get(context.Background(), "k")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeysDropBlankSegments(t *testing.T) {
	var k Keys
	assert.Equal(t, "settle:idempotency:scope:id", k.IdempotencyKey("scope", "id"))
	assert.Equal(t, "settle:rate_limit:scope", k.RateLimitKey("scope"))
	assert.Equal(t, "settle:checkout:user:u1", k.CheckoutKey("u1"))
	assert.Equal(t, "settle:checkout:ref:stripe:pi_1", k.CheckoutRefKey("stripe:pi_1"))
	assert.Equal(t, "settle:lock", k.LockKey(" "))
}

func TestBuildOptions(t *testing.T) {
	opts, err := buildOptions(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7, DB: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB, "url db wins")
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = buildOptions(config.RedisConfig{Address: "cache:6379", DialTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, time.Second, opts.DialTimeout)

	_, err = buildOptions(config.RedisConfig{})
	assert.Error(t, err)
}

func TestDelIfValueOnlyRemovesMatchingValue(t *testing.T) {
	fake := newFakeCommands()
	client := &Client{cmd: fake}
	ctx := context.Background()
	key := client.LockKey("cron")
	fake.values[key] = "owner-a"

	deleted, err := client.DelIfValue(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, "owner-a", fake.values[key])

	deleted, err = client.DelIfValue(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NotContains(t, fake.values, key)
}

type fakeCommands struct {
	values   map[string]string
	counters map[string]int64
	expiries map[string][]time.Duration
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{
		values:   map[string]string{},
		counters: map[string]int64{},
		expiries: map[string][]time.Duration{},
	}
}

func (f *fakeCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.values[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeCommands) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.expiries[key] = append(f.expiries[key], ttl)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(f.values, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Eval understands only the compare-and-delete script.
func (f *fakeCommands) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script != delIfValueScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %q", script))
	}
	if v, ok := f.values[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
