package cache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestKey_Deterministic(t *testing.T) {
	a := Key("search", url.Values{"name": {"Judge"}, "team": {"NYY"}})
	b := Key("search", url.Values{"team": {"NYY"}, "name": {"Judge"}})
	assert.Equal(t, a, b)

	// Repeated values are order-insensitive too.
	c := Key("search", url.Values{"pos": {"OF", "1B"}})
	d := Key("search", url.Values{"pos": {"1B", "OF"}})
	assert.Equal(t, c, d)

	assert.NotEqual(t,
		Key("search", url.Values{"name": {"Judge"}}),
		Key("player", url.Values{"name": {"Judge"}}),
	)
}

func newTestResponseCache(store Store) *ResponseCache {
	return NewResponseCache(ResponseCacheParam{
		Store:  store,
		Limits: config.NewStaticLimitsHolder(config.DefaultLimitsConfig()),
		Log:    zap.NewNop(),
	})
}

func TestResponseCache_ReadThrough(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(NewTTLCacheWithClock[string, []byte](fake))
	rc := newTestResponseCache(store)

	ctx := context.Background()
	params := url.Values{"name": {"Judge"}}

	_, ok := rc.Get(ctx, config.CacheClassSearch, params)
	assert.False(t, ok)

	rc.Put(ctx, config.CacheClassSearch, params, []byte(`{"players":[]}`))

	payload, ok := rc.Get(ctx, config.CacheClassSearch, params)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"players":[]}`), payload)
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(NewTTLCacheWithClock[string, []byte](fake))
	rc := newTestResponseCache(store)

	ctx := context.Background()
	params := url.Values{"season": {"2025"}}

	rc.Put(ctx, config.CacheClassSearch, params, []byte(`{"rows":1}`))

	// Search class keeps entries for five minutes.
	fake.Advance(4 * time.Minute)
	_, ok := rc.Get(ctx, config.CacheClassSearch, params)
	assert.True(t, ok)

	fake.Advance(2 * time.Minute)
	_, ok = rc.Get(ctx, config.CacheClassSearch, params)
	assert.False(t, ok)
}

func TestTTLCache_ExpiresAtExactBoundary(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, string](fake)

	c.Set("k", "v", 10*time.Minute)

	fake.Advance(10*time.Minute - time.Nanosecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	// The expiry instant itself is already stale.
	fake.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestResponseCache_Invalidate(t *testing.T) {
	store := NewMemoryStore(NewTTLCache[string, []byte]())
	rc := newTestResponseCache(store)

	ctx := context.Background()
	params := url.Values{"season": {"2025"}}

	rc.Put(ctx, config.CacheClassLeaderboard, params, []byte(`{"rows":5}`))
	rc.Invalidate(ctx, config.CacheClassLeaderboard, params)

	_, ok := rc.Get(ctx, config.CacheClassLeaderboard, params)
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Del(context.Context, ...string) error {
	return errors.New("connection refused")
}

func TestResponseCache_FailsOpen(t *testing.T) {
	rc := newTestResponseCache(failingStore{})
	ctx := context.Background()
	params := url.Values{"name": {"Judge"}}

	// A broken store is a miss, never an error surfaced to the caller.
	payload, ok := rc.Get(ctx, config.CacheClassSearch, params)
	assert.False(t, ok)
	assert.Nil(t, payload)

	rc.Put(ctx, config.CacheClassSearch, params, []byte(`{}`))
	rc.Invalidate(ctx, config.CacheClassSearch, params)
}
