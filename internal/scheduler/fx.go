package scheduler

import (
	"context"

	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	IngestSvc ingestiondomain.Service
	Locker    ratelimit.Locker
}

var Module = fx.Module("scheduler",
	fx.Invoke(func(lc fx.Lifecycle, p Params) {
		if !p.Cfg.SchedulerEnabled {
			p.Log.Named("scheduler").Info("scheduler disabled")
			return
		}

		s := New(p.Log, p.Clock, p.IngestSvc, p.Locker, p.Cfg.SchedulerInterval)
		runCtx, cancel := context.WithCancel(context.Background())

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go s.Run(runCtx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
