package ingestion

import (
	"github.com/jeffconboy/statedge/internal/ingestion/provider"
	"github.com/jeffconboy/statedge/internal/ingestion/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingestion.service",
	provider.Module,
	fx.Provide(service.NewService),
)
