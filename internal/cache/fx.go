package cache

import (
	"strings"

	"github.com/jeffconboy/statedge/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStore picks the backing store from config: redis when an address is
// configured, otherwise a process-local map.
func NewStore(cfg config.Config, log *zap.Logger) Store {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Named("cache").Info("redis not configured, using in-memory response cache")
		return NewMemoryStore(NewTTLCache[string, []byte]())
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisStore(client)
}

var Module = fx.Module("cache",
	fx.Provide(NewStore),
	fx.Provide(NewResponseCache),
)
