//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// Run with: DENSITYBOT_TEST_REDIS_ADDR=localhost:6379 go test -tags integration ./internal/cache/redis
// Database 15 is flushed before each test.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("DENSITYBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DENSITYBOT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Underlying().FlushDB(ctx).Err())
	return c
}

func TestParamsCache_SetGetAll(t *testing.T) {
	c := testClient(t)
	pc := NewParamsCache(c)
	ctx := context.Background()

	_, err := pc.Get(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	btc := domain.DefaultCoinParameters("BTCUSDT")
	btc.DensityThresholdAbs = 75000
	require.NoError(t, pc.Set(ctx, btc))
	require.NoError(t, pc.Set(ctx, domain.DefaultCoinParameters("ETHUSDT")))

	got, err := pc.Get(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 75000.0, got.DensityThresholdAbs)

	// An expired value is dropped from the index.
	require.NoError(t, c.Underlying().Del(ctx, paramsKey("ETHUSDT")).Err())
	all, err := pc.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "BTCUSDT", all[0].Symbol)

	members, err := c.Underlying().SMembers(ctx, paramsIndexKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, members)
}

func TestOrderbookCache_ReplaceAndRead(t *testing.T) {
	c := testClient(t)
	oc := NewOrderbookCache(c, time.Minute)
	ctx := context.Background()

	_, err := oc.GetOrderBook(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.UnixMilli(1700000000000).UTC()
	require.NoError(t, oc.SetOrderBook(ctx, domain.OrderBook{
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 99, Volume: 2}, {Price: 100, Volume: 1}},
		Asks:      []domain.PriceLevel{{Price: 102, Volume: 4}, {Price: 101, Volume: 3}},
		Timestamp: ts,
	}))
	require.NoError(t, oc.SetOrderBook(ctx, domain.OrderBook{
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 100.5, Volume: 1.5}},
		Asks:      []domain.PriceLevel{{Price: 101, Volume: 3}},
		Timestamp: ts.Add(time.Second),
	}))

	book, err := oc.GetOrderBook(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 100.5, Volume: 1.5}}, book.Bids, "old levels are replaced")
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Volume: 3}}, book.Asks)
	assert.Equal(t, ts.Add(time.Second), book.Timestamp)

	ttl, err := c.Underlying().TTL(ctx, bookMetaKey("BTCUSDT")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestLockManager_AcquireRelease(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "emergency_shutdown", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "emergency_shutdown", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()
	again, err := lm.Acquire(ctx, "emergency_shutdown", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_StaleReleaseKeepsNewOwner(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	current, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	defer current()

	stale()
	n, err := c.Underlying().Exists(ctx, lockKey("job")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRateLimiter_AllowWithinWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "api:1.2.3.4", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:5.6.7.8", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys have separate budgets")
}

func TestRateLimiter_WaitBlocksUntilWindowFrees(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c, 1, 200*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, "exchange"))
	start := time.Now()
	require.NoError(t, rl.Wait(ctx, "exchange"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(short, "exchange"), context.DeadlineExceeded)
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	c := testClient(t)
	eb := NewEventBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := eb.Subscribe(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, eb.Publish(ctx, "events", []byte(`{"type":"trading_disabled"}`)))

	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"type":"trading_disabled"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closes with the context")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestEventBus_Stream(t *testing.T) {
	c := testClient(t)
	eb := NewEventBus(c)
	ctx := context.Background()

	empty, err := eb.StreamRead(ctx, "events:log", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, eb.StreamAppend(ctx, "events:log", []byte("a")))
	require.NoError(t, eb.StreamAppend(ctx, "events:log", []byte("b")))

	first, err := eb.StreamRead(ctx, "events:log", "0", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, []byte("a"), first[0].Payload)

	rest, err := eb.StreamRead(ctx, "events:log", first[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("b"), rest[0].Payload)
}
