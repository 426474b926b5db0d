package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/jeffconboy/statedge/internal/cache"
	"github.com/jeffconboy/statedge/internal/clock"
	"github.com/jeffconboy/statedge/internal/config"
	"github.com/jeffconboy/statedge/internal/ingestion"
	"github.com/jeffconboy/statedge/internal/migration"
	"github.com/jeffconboy/statedge/internal/observability"
	"github.com/jeffconboy/statedge/internal/quota"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	"github.com/jeffconboy/statedge/internal/scheduler"
	"github.com/jeffconboy/statedge/internal/seed"
	"github.com/jeffconboy/statedge/internal/server"
	"github.com/jeffconboy/statedge/internal/stats"
	"github.com/jeffconboy/statedge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		cache.Module,
		ratelimit.Module,
		quota.Module,
		stats.Module,
		ingestion.Module,
		scheduler.Module,
		seed.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
