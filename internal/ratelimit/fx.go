package ratelimit

import (
	"strings"

	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Limits *config.LimitsHolder
	Clock  clock.Clock
	Log    *zap.Logger
}

type Result struct {
	fx.Out

	Budget Budget
	Locker Locker
}

// New wires the budget and locker against redis when configured, otherwise
// against process-local state.
func New(p Params) Result {
	addr := strings.TrimSpace(p.Config.RedisAddr)
	if addr == "" {
		p.Log.Named("ratelimit").Info("redis not configured, using in-memory budgets and locks")
		return Result{
			Budget: NewMemoryBudget(p.Limits, p.Clock),
			Locker: NewMemoryLocker(p.Clock),
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: p.Config.RedisPassword,
		DB:       p.Config.RedisDB,
	})
	return Result{
		Budget: NewRedisBudget(client, p.Limits, p.Clock),
		Locker: NewRedisLocker(client),
	}
}

var Module = fx.Module("rate.limit",
	fx.Provide(New),
)
