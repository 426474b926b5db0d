package migration

import (
	"github.com/jeffconboy/statedge/internal/config"
	identitydomain "github.com/jeffconboy/statedge/internal/identity/domain"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	statsdomain "github.com/jeffconboy/statedge/internal/stats/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres deployments (sqlite dev mode) build the schema from
		// the models directly.
		return conn.AutoMigrate(
			&identitydomain.Identity{},
			&ingestiondomain.IngestionJob{},
			&ingestiondomain.IngestionCheckpoint{},
			&statsdomain.Player{},
			&statsdomain.GameLog{},
			&statsdomain.SeasonStat{},
		)
	}),
)
