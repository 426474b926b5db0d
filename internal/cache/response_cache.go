package cache

import (
	"context"
	"net/url"

	"github.com/jeffconboy/statedge/internal/config"
	obsmetrics "github.com/jeffconboy/statedge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ResponseCache is a read-through cache over serialized endpoint responses.
// A store failure never fails the request: reads degrade to a miss and
// writes are dropped, both with a warning.
type ResponseCache struct {
	store   Store
	limits  *config.LimitsHolder
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

type ResponseCacheParam struct {
	fx.In

	Store   Store
	Limits  *config.LimitsHolder
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewResponseCache(p ResponseCacheParam) *ResponseCache {
	return &ResponseCache{
		store:   p.Store,
		limits:  p.Limits,
		log:     p.Log.Named("cache.response"),
		metrics: p.Metrics,
	}
}

// Get returns the cached payload for class+params, or ok=false on a miss.
func (c *ResponseCache) Get(ctx context.Context, class string, params url.Values) ([]byte, bool) {
	key := Key(class, params)
	payload, err := c.store.Get(ctx, key)
	if err == nil {
		c.incHit(class)
		return payload, true
	}
	if err != ErrNotFound {
		c.log.Warn("cache read failed, serving without cache",
			zap.String("class", class),
			zap.Error(err),
		)
	}
	c.incMiss(class)
	return nil, false
}

// Put stores a payload under the freshness window configured for the class.
func (c *ResponseCache) Put(ctx context.Context, class string, params url.Values, payload []byte) {
	if len(payload) == 0 {
		return
	}
	ttl := c.limits.Get().TTLFor(class)
	if ttl <= 0 {
		return
	}
	key := Key(class, params)
	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		c.log.Warn("cache write failed",
			zap.String("class", class),
			zap.Error(err),
		)
	}
}

// Invalidate drops one entry, typically after an ingestion run rewrites the
// underlying rows.
func (c *ResponseCache) Invalidate(ctx context.Context, class string, params url.Values) {
	key := Key(class, params)
	if err := c.store.Del(ctx, key); err != nil {
		c.log.Warn("cache invalidate failed",
			zap.String("class", class),
			zap.Error(err),
		)
	}
}

func (c *ResponseCache) incHit(class string) {
	if c.metrics != nil {
		c.metrics.IncCacheHit(class)
	}
}

func (c *ResponseCache) incMiss(class string) {
	if c.metrics != nil {
		c.metrics.IncCacheMiss(class)
	}
}
