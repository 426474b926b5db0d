package provider

import "go.uber.org/fx"

var Module = fx.Module("ingestion.provider",
	fx.Provide(NewStatsAPIClient),
)
