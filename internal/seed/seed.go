// Package seed bootstraps development identities so a fresh checkout can
// call the API without manual setup. Production deployments skip it.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/jeffconboy/statedge/internal/config"
	identitydomain "github.com/jeffconboy/statedge/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type devIdentity struct {
	apiKey string
	name   string
	tier   string
}

var devIdentities = []devIdentity{
	{apiKey: "dev-free-key", name: "Dev Free", tier: config.TierFree},
	{apiKey: "dev-basic-key", name: "Dev Basic", tier: config.TierBasic},
	{apiKey: "dev-premium-key", name: "Dev Premium", tier: config.TierPremium},
}

// EnsureDevIdentities inserts one identity per tier if its api key is not
// already present.
func EnsureDevIdentities(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dev := range devIdentities {
			var existing identitydomain.Identity
			err := tx.Where("api_key = ?", dev.apiKey).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			identity := identitydomain.Identity{
				ID:            node.Generate(),
				APIKey:        dev.apiKey,
				Name:          dev.name,
				Tier:          dev.tier,
				LastResetDate: "1970-01-01",
			}
			if err := tx.Create(&identity).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
		if cfg.IsProduction() {
			return nil
		}
		if err := EnsureDevIdentities(db, node); err != nil {
			return err
		}
		log.Named("seed").Info("development identities ready")
		return nil
	}),
)
